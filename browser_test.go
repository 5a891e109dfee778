package cdpilot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBrowserAppliesOptionsAndStartsUninitialized(t *testing.T) {
	b, err := NewBrowser(WithPort(9333), Headless)
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, b.State())
	assert.Equal(t, 9333, b.cfg.port)
	assert.True(t, b.cfg.headless)
}

func TestNewBrowserPropagatesOptionError(t *testing.T) {
	_, err := NewBrowser(WithPort(-1))
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestBrowserStartRejectsNonUninitializedState(t *testing.T) {
	b, err := NewBrowser()
	require.NoError(t, err)
	b.state = StateRunning

	_, err = b.Start(context.Background())
	assert.ErrorIs(t, err, ErrBrowserStartFailed)
}

func TestBrowserStopRejectsNonRunningState(t *testing.T) {
	b, err := NewBrowser()
	require.NoError(t, err)

	err = b.Stop(context.Background())
	assert.ErrorIs(t, err, ErrBrowserNotRunning)
}

func TestBrowserPingFalseWithoutConnection(t *testing.T) {
	b, err := NewBrowser()
	require.NoError(t, err)
	assert.False(t, b.Ping(context.Background()))
}

func TestHasFlagDetectsBareAndValuedForms(t *testing.T) {
	args := []string{"--headless", "--user-data-dir=/tmp/x"}
	assert.True(t, hasFlag(args, "headless"))
	assert.True(t, hasFlag(args, "user-data-dir"))
	assert.False(t, hasFlag(args, "no-sandbox"))
}

func TestParseWebSocketHostPort(t *testing.T) {
	host, port := parseWebSocketHostPort("ws://127.0.0.1:9222/devtools/browser/abc-123")
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 9222, port)
}

func TestParseWebSocketHostPortMissingPort(t *testing.T) {
	host, port := parseWebSocketHostPort("ws://localhost/devtools/browser/abc")
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 0, port)
}

func TestLookPathFindsAbsoluteExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := lookPath(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestLookPathMissingAbsoluteReturnsError(t *testing.T) {
	_, err := lookPath("/no/such/binary-here")
	assert.Error(t, err)
}

func TestBackupAndWritePreferencesBacksUpExisting(t *testing.T) {
	dir := t.TempDir()
	defaultDir := filepath.Join(dir, "Default")
	require.NoError(t, os.MkdirAll(defaultDir, 0o700))
	prefsPath := filepath.Join(defaultDir, "Preferences")
	require.NoError(t, os.WriteFile(prefsPath, []byte(`{"old":true}`), 0o600))

	b := &Browser{cfg: &browserConfig{browserPreferences: map[string]interface{}{"new": true}}}
	require.NoError(t, b.backupAndWritePreferences(dir))

	backup, err := os.ReadFile(prefsPath + ".backup")
	require.NoError(t, err)
	assert.Contains(t, string(backup), "old")

	current, err := os.ReadFile(prefsPath)
	require.NoError(t, err)
	assert.Contains(t, string(current), "new")
}

func TestRestorePreferencesBackupRestoresAndRemovesBackup(t *testing.T) {
	dir := t.TempDir()
	prefsPath := filepath.Join(dir, "Preferences")
	backupPath := prefsPath + ".backup"
	require.NoError(t, os.WriteFile(backupPath, []byte("original"), 0o600))
	require.NoError(t, os.WriteFile(prefsPath, []byte("overwritten"), 0o600))

	b := &Browser{prefsBackupPath: backupPath}
	b.restorePreferencesBackup()

	restored, err := os.ReadFile(prefsPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(restored))
	_, err = os.Stat(backupPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRestorePreferencesBackupNoopWithoutBackupPath(t *testing.T) {
	b := &Browser{}
	b.restorePreferencesBackup()
}

func TestGetOpenedTabsOrdersExistingBeforeReversedNewTabs(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	defer h.Close()

	b := &Browser{conn: h, tabs: map[target.TargetID]*Tab{
		"A": newTab("A", ""),
		"B": newTab("B", ""),
	}}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "Target.getTargets" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"targetInfos":[
				{"targetId":"A","type":"page","url":"https://a.example"},
				{"targetId":"B","type":"page","url":"https://b.example"},
				{"targetId":"C","type":"page","url":"https://c.example"},
				{"targetId":"D","type":"page","url":"https://d.example"}
			]}`)}
		}
	})

	tabs, err := b.GetOpenedTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 4)

	got := make([]target.TargetID, len(tabs))
	for i, tb := range tabs {
		got[i] = tb.ID()
	}
	assert.Equal(t, []target.TargetID{"A", "B", "D", "C"}, got)
}

func TestGetOpenedTabsFiltersExtensionAndNonPageTargets(t *testing.T) {
	tr := newFakeTransport()
	h := newTestHandler(tr)
	defer h.Close()

	b := &Browser{conn: h, tabs: map[target.TargetID]*Tab{}}

	serveCDP(tr, func(sent *cdproto.Message) {
		if sent.Method == "Target.getTargets" {
			tr.reads <- &cdproto.Message{ID: sent.ID, Result: []byte(`{"targetInfos":[
				{"targetId":"E","type":"page","url":"chrome-extension://abc/page.html"},
				{"targetId":"P","type":"page","url":"https://example.com/extension-docs"},
				{"targetId":"W","type":"worker","url":"https://example.com/worker.js"}
			]}`)}
		}
	})

	tabs, err := b.GetOpenedTabs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tabs)
}
