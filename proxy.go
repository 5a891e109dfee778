package cdpilot

import "strings"

const proxyServerFlag = "--proxy-server="

// proxyCredentials holds the username/password extracted from a
// --proxy-server argument, so they can be supplied later via
// Fetch.continueWithAuth instead of ever touching the command line.
type proxyCredentials struct {
	found    bool
	username string
	password string
}

// extractProxyCredentials scans args for a --proxy-server=<value> entry. If
// value embeds user:pass@ credentials, it rewrites the matching element of
// args in place to the credential-free form and returns the extracted pair.
// A malformed value (present but un-parseable) is left byte-for-byte
// untouched, per spec §4.5 "Proxy credential handling" — parsing never
// fails the browser start, it just leaves the original argument alone.
//
// Grounded on pydoll's ProxyManager (browser/managers/proxy_manager.py):
// _find_proxy_argument, _parse_proxy, _update_proxy_argument.
func extractProxyCredentials(args []string) proxyCredentials {
	idx, raw := findProxyArgument(args)
	if idx < 0 {
		return proxyCredentials{}
	}

	scheme, user, pass, host, ok := parseProxyValue(raw)
	if !ok || user == "" {
		// No embedded credentials, or the value didn't parse: leave args
		// untouched either way.
		return proxyCredentials{}
	}

	args[idx] = proxyServerFlag + scheme + host
	return proxyCredentials{found: true, username: user, password: pass}
}

func findProxyArgument(args []string) (int, string) {
	for i, a := range args {
		if strings.HasPrefix(a, proxyServerFlag) {
			return i, strings.TrimPrefix(a, proxyServerFlag)
		}
	}
	return -1, ""
}

// parseProxyValue splits "<scheme://><user:pass@>host:port" into its parts.
// scheme includes the trailing "://" if present, host is "host:port". ok is
// false if the value doesn't even have a host component.
func parseProxyValue(raw string) (scheme, user, pass, host string, ok bool) {
	rest := raw
	if i := strings.Index(rest, "://"); i != -1 {
		scheme = rest[:i+3]
		rest = rest[i+3:]
	}
	if rest == "" {
		return "", "", "", "", false
	}

	if i := strings.LastIndex(rest, "@"); i != -1 {
		creds := rest[:i]
		host = rest[i+1:]
		j := strings.Index(creds, ":")
		if j == -1 {
			// Credentials without a password separator aren't one of the
			// recognized forms; leave the value unparsed.
			return "", "", "", "", false
		}
		user, pass = creds[:j], creds[j+1:]
	} else {
		host = rest
	}
	if host == "" {
		return "", "", "", "", false
	}
	return scheme, user, pass, host, true
}
