package cdpilot

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedAtoms have their content ignored entirely by extractText, per spec
// §4.8 "Text extraction".
var skippedAtoms = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
}

// extractText is the minimal HTML parser from spec §4.8: it ignores the
// content of <script>, <style> and <template> tags, HTML-entity-decodes the
// rest (handled by the tokenizer itself), and optionally trims and joins the
// resulting text nodes with sep.
func extractText(source string, trim bool, sep string) string {
	tok := html.NewTokenizer(strings.NewReader(source))
	var nodes []string
	skipDepth := 0
	var skipAtom atom.Atom

	for {
		switch tok.Next() {
		case html.ErrorToken:
			return joinNodes(nodes, trim, sep)

		case html.TextToken:
			if skipDepth == 0 {
				if text := string(tok.Text()); text != "" {
					nodes = append(nodes, text)
				}
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tok.TagName()
			a := atom.Lookup(name)
			if skipDepth == 0 && skippedAtoms[a] {
				skipDepth = 1
				skipAtom = a
			} else if skipDepth > 0 && a == skipAtom {
				skipDepth++
			}

		case html.EndTagToken:
			name, _ := tok.TagName()
			a := atom.Lookup(name)
			if skipDepth > 0 && a == skipAtom {
				skipDepth--
			}
		}
	}
}

func joinNodes(nodes []string, trim bool, sep string) string {
	var out []string
	for _, n := range nodes {
		if trim {
			n = strings.TrimSpace(n)
		}
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	if sep == "" {
		sep = " "
	}
	return strings.Join(out, sep)
}
