package cdpilot

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
)

// BrowserState is a Browser's lifecycle stage (spec §4.5 "State machine").
type BrowserState int

const (
	StateUninitialized BrowserState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// randomPortRange is the range Start picks from when the caller didn't pin a
// port via WithPort (spec §4.5 step 1).
var randomPortRange = [2]int{9223, 9322}

// Browser is C6: the high-level lifecycle facade around a spawned (or
// attached-to) Chromium-class process. It owns the browser-level
// ConnectionHandler, the process and temp-dir managers, and the set of open
// tabs.
//
// Grounded on the teacher's Browser (browser.go), restructured around an
// explicit Uninitialized/Starting/Running/Stopping/Stopped state machine and
// the pydoll Browser/BrowserProcessManager/ProxyManager/TempDirManager split
// (browser/*.py, browser/managers/*.py) rather than the teacher's single
// long-lived run loop.
type Browser struct {
	cfg *browserConfig

	mu    sync.Mutex
	state BrowserState

	conn    *ConnectionHandler
	process *processManager
	tempDir *tempDirManager

	prefsBackupPath string

	endpointHost string
	endpointPort int

	tabs map[target.TargetID]*Tab
}

// NewBrowser applies opts over the defaults without starting anything.
func NewBrowser(opts ...BrowserOption) (*Browser, error) {
	cfg := newBrowserConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	return &Browser{
		cfg:     cfg,
		tempDir: newTempDirManager(),
		tabs:    make(map[target.TargetID]*Tab),
	}, nil
}

// State reports the current lifecycle stage.
func (b *Browser) State() BrowserState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start runs the spec §4.5 "Start flow" and returns the first usable Tab.
func (b *Browser) Start(ctx context.Context) (*Tab, error) {
	b.mu.Lock()
	if b.state != StateUninitialized {
		b.mu.Unlock()
		return nil, ErrBrowserStartFailed
	}
	b.state = StateStarting
	b.mu.Unlock()

	port := b.cfg.port
	if port == 0 {
		port = randomPortRange[0] + rand.Intn(randomPortRange[1]-randomPortRange[0]+1)
	}

	binary := b.cfg.binaryLocation
	if binary == "" {
		binary = defaultBinaryLocation()
	}
	if binary == "" {
		return nil, ErrBinaryNotFound
	}

	args := append([]string{}, b.cfg.arguments...)
	userDataDir, removeDir, err := b.setupUserDataDir()
	if err != nil {
		return nil, err
	}
	if !hasFlag(args, "user-data-dir") {
		args = append(args, "--user-data-dir="+userDataDir)
	}
	if b.cfg.headless {
		args = append(args, "--headless", "--hide-scrollbars", "--mute-audio")
	}
	if b.cfg.noSandbox || os.Getuid() == 0 {
		args = append(args, "--no-sandbox")
	}

	creds := extractProxyCredentials(args)

	b.process = newProcessManager(binary, args, b.cfg.env)
	if err := b.process.Start(ctx, port); err != nil {
		if removeDir {
			b.tempDir.cleanup()
		}
		return nil, err
	}

	wsURL, err := b.waitForEndpoint(ctx, port)
	if err != nil {
		b.process.Stop()
		if removeDir {
			b.tempDir.cleanup()
		}
		return nil, err
	}

	conn := NewConnectionHandler(wsURL)
	b.mu.Lock()
	b.conn = conn
	b.endpointHost = "localhost"
	b.endpointPort = port
	b.mu.Unlock()

	if creds.found {
		if err := b.wireProxyAuth(ctx, creds); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	b.state = StateRunning
	b.mu.Unlock()

	return b.firstUsableTab(ctx)
}

// Connect attaches to an already-running browser's websocket URL,
// transitioning directly Uninitialized → Running (spec §4.5).
func Connect(ctx context.Context, wsURL string) (*Browser, *Tab, error) {
	host, port := parseWebSocketHostPort(wsURL)
	b := &Browser{
		cfg:          newBrowserConfig(),
		tempDir:      newTempDirManager(),
		tabs:         make(map[target.TargetID]*Tab),
		conn:         NewConnectionHandler(wsURL),
		state:        StateRunning,
		endpointHost: host,
		endpointPort: port,
	}
	tab, err := b.firstUsableTab(ctx)
	if err != nil {
		return nil, nil, err
	}
	return b, tab, nil
}

func (b *Browser) waitForEndpoint(ctx context.Context, port int) (string, error) {
	deadline := b.cfg.startTimeout
	if deadline <= 0 {
		deadline = DefaultStartTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var lastErr error
	for {
		select {
		case <-wctx.Done():
			if lastErr != nil {
				return "", lastErr
			}
			return "", ErrBrowserStartFailed
		default:
		}
		url, err := resolveBrowserWebSocketURL(wctx, port)
		if err == nil {
			return url, nil
		}
		lastErr = err
	}
}

func (b *Browser) setupUserDataDir() (dir string, tracked bool, err error) {
	if b.cfg.userDataDir != "" {
		if len(b.cfg.browserPreferences) > 0 {
			if err := b.backupAndWritePreferences(b.cfg.userDataDir); err != nil {
				return "", false, err
			}
		}
		return b.cfg.userDataDir, false, nil
	}

	dir, err = b.tempDir.createTempDir()
	if err != nil {
		return "", false, err
	}
	if len(b.cfg.browserPreferences) > 0 {
		if err := writePreferences(dir, b.cfg.browserPreferences); err != nil {
			return "", false, err
		}
	}
	return dir, true, nil
}

// backupAndWritePreferences backs up an existing Preferences file before
// overwriting it, per spec §6 "User-data-dir layout": a backup is written
// only for a user-supplied directory with non-empty browser_preferences.
func (b *Browser) backupAndWritePreferences(dir string) error {
	prefsPath := filepath.Join(dir, "Default", "Preferences")
	backupPath := prefsPath + ".backup"
	if existing, err := os.ReadFile(prefsPath); err == nil {
		if err := os.WriteFile(backupPath, existing, 0o600); err != nil {
			return withID(ErrBrowserStartFailed, "reason", err)
		}
		b.prefsBackupPath = backupPath
	}
	return writePreferences(dir, b.cfg.browserPreferences)
}

func writePreferences(dir string, prefs map[string]interface{}) error {
	defaultDir := filepath.Join(dir, "Default")
	if err := os.MkdirAll(defaultDir, 0o700); err != nil {
		return withID(ErrBrowserStartFailed, "reason", err)
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return withID(ErrInvalidOptions, "reason", err)
	}
	return os.WriteFile(filepath.Join(defaultDir, "Preferences"), raw, 0o600)
}

func hasFlag(args []string, name string) bool {
	prefix := "--" + name
	for _, a := range args {
		if strings.HasPrefix(a, prefix+"=") || a == prefix {
			return true
		}
	}
	return false
}

// wireProxyAuth implements spec §4.5 step 7: enable Fetch with
// handleAuthRequests, and register one-shot handlers that pass unrelated
// requests through and answer the auth challenge with the extracted
// credentials.
func (b *Browser) wireProxyAuth(ctx context.Context, creds proxyCredentials) error {
	if err := fetch.Enable().WithHandleAuthRequests(true).Do(cdp.WithExecutor(ctx, b.conn)); err != nil {
		return withID(ErrBrowserStartFailed, "reason", err)
	}

	reqID, _ := b.conn.On("Fetch.requestPaused", EventCallback{
		Handler: func(ctx context.Context, params interface{}) {
			raw, _ := json.Marshal(params)
			var p fetch.EventRequestPaused
			if json.Unmarshal(raw, &p) == nil {
				fetch.ContinueRequest(p.RequestID).Do(cdp.WithExecutor(context.Background(), b.conn))
			}
		},
	}, true)
	_ = reqID

	b.conn.On("Fetch.authRequired", EventCallback{
		Handler: func(ctx context.Context, params interface{}) {
			raw, _ := json.Marshal(params)
			var p fetch.EventAuthRequired
			if json.Unmarshal(raw, &p) != nil {
				return
			}
			resp := &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: creds.username,
				Password: creds.password,
			}
			fetch.ContinueWithAuth(p.RequestID, resp).Do(cdp.WithExecutor(context.Background(), b.conn))
			fetch.Disable().Do(cdp.WithExecutor(context.Background(), b.conn))
		},
	}, true)
	return nil
}

// firstUsableTab implements spec §4.5 step 8: pick an attached `page`
// target whose URL isn't a browser-extension scheme.
func (b *Browser) firstUsableTab(ctx context.Context) (*Tab, error) {
	targets, err := target.GetTargets().Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return nil, withID(ErrNoValidTab, "reason", err)
	}
	for _, info := range targets {
		if info.Type != "page" {
			continue
		}
		if strings.Contains(info.URL, "extension") {
			continue
		}
		return b.bindTab(info.TargetID)
	}
	return nil, ErrNoValidTab
}

func (b *Browser) bindTab(id target.TargetID) (*Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[id]; ok {
		return t, nil
	}
	t := newTab(id, targetWebSocketURL(b.endpointHost, b.endpointPort, string(id)))
	b.tabs[id] = t
	return t, nil
}

// NewTab opens a fresh target (spec §4.5 "new_tab"), optionally navigating
// to url immediately.
func (b *Browser) NewTab(ctx context.Context, url string) (*Tab, error) {
	if url == "" {
		url = "about:blank"
	}
	id, err := target.CreateTarget(url).Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return nil, withID(ErrNoValidTab, "reason", err)
	}
	return b.bindTab(id)
}

// GetOpenedTabs reconciles the internal target_id -> Tab cache against the
// live target list (spec §4.5 "get_opened_tabs"): already-cached tabs are
// returned first, in the order the target list reports them, untouched;
// TargetInfos not yet seen are
// appended after them, in reverse discovery order so the most recently
// opened tab is last.
func (b *Browser) GetOpenedTabs(ctx context.Context) ([]*Tab, error) {
	infos, err := target.GetTargets().Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return nil, withID(ErrNoValidTab, "reason", err)
	}

	var pages []*target.Info
	for _, info := range infos {
		if info.Type != "page" || strings.Contains(info.URL, "extension") {
			continue
		}
		pages = append(pages, info)
	}

	b.mu.Lock()
	var existing, fresh []*target.Info
	for _, info := range pages {
		if _, ok := b.tabs[info.TargetID]; ok {
			existing = append(existing, info)
		} else {
			fresh = append(fresh, info)
		}
	}
	b.mu.Unlock()

	var out []*Tab
	for _, info := range existing {
		tab, err := b.bindTab(info.TargetID)
		if err != nil {
			return nil, err
		}
		out = append(out, tab)
	}
	for i := len(fresh) - 1; i >= 0; i-- {
		tab, err := b.bindTab(fresh[i].TargetID)
		if err != nil {
			return nil, err
		}
		out = append(out, tab)
	}
	return out, nil
}

// VersionInfo is the decoded result of Browser.getVersion.
type VersionInfo struct {
	ProtocolVersion string
	Product         string
	Revision        string
	UserAgent       string
	JsVersion       string
}

// GetVersion passes through Browser.getVersion (spec §4.5 "Window
// manipulation ... passthroughs", exercised by end-to-end scenario S1).
func (b *Browser) GetVersion(ctx context.Context) (*VersionInfo, error) {
	protocolVersion, product, revision, userAgent, jsVersion, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return nil, withID(ErrCommandFailed, "reason", err)
	}
	return &VersionInfo{
		ProtocolVersion: protocolVersion,
		Product:         product,
		Revision:        revision,
		UserAgent:       userAgent,
		JsVersion:       jsVersion,
	}, nil
}

// SetWindowBounds passes through Browser.getWindowForTarget +
// Browser.setWindowBounds.
func (b *Browser) SetWindowBounds(ctx context.Context, targetID target.TargetID, bounds *cdpbrowser.Bounds) error {
	windowID, _, err := cdpbrowser.GetWindowForTarget().WithTargetID(targetID).Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return withID(ErrCommandFailed, "reason", err)
	}
	return cdpbrowser.SetWindowBounds(windowID, bounds).Do(cdp.WithExecutor(ctx, b.conn))
}

// Cookies returns all cookies, optionally scoped to a browser context.
func (b *Browser) Cookies(ctx context.Context, browserContextID cdp.BrowserContextID) ([]*storage.Cookie, error) {
	p := storage.GetCookies()
	if browserContextID != "" {
		p = p.WithBrowserContextID(browserContextID)
	}
	return p.Do(cdp.WithExecutor(ctx, b.conn))
}

// SetCookies passes through Storage.setCookies.
func (b *Browser) SetCookies(ctx context.Context, cookies []*storage.CookieParam, browserContextID cdp.BrowserContextID) error {
	p := storage.SetCookies(cookies)
	if browserContextID != "" {
		p = p.WithBrowserContextID(browserContextID)
	}
	return p.Do(cdp.WithExecutor(ctx, b.conn))
}

// GrantPermissions passes through Browser.grantPermissions.
func (b *Browser) GrantPermissions(ctx context.Context, permissions []cdpbrowser.PermissionType, origin string) error {
	p := cdpbrowser.GrantPermissions(permissions)
	if origin != "" {
		p = p.WithOrigin(origin)
	}
	return p.Do(cdp.WithExecutor(ctx, b.conn))
}

// ResetPermissions passes through Browser.resetPermissions.
func (b *Browser) ResetPermissions(ctx context.Context) error {
	return cdpbrowser.ResetPermissions().Do(cdp.WithExecutor(ctx, b.conn))
}

// SetDownloadBehavior passes through Browser.setDownloadBehavior.
func (b *Browser) SetDownloadBehavior(ctx context.Context, behavior cdpbrowser.SetDownloadBehaviorBehavior, downloadPath string) error {
	p := cdpbrowser.SetDownloadBehavior(behavior)
	if downloadPath != "" {
		p = p.WithDownloadPath(downloadPath)
	}
	return p.Do(cdp.WithExecutor(ctx, b.conn))
}

// Ping reports whether the browser connection exists and has not been
// closed or lost (see ConnectionHandler.Ping); it sends nothing to the
// browser (spec §4.5 "Stop flow" step 1 uses the inverse to fail fast).
func (b *Browser) Ping(ctx context.Context) bool {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.Ping(ctx) == nil
}

// Stop runs the spec §4.5 "Stop flow": Browser.close, then stop the
// process, clean temp dirs, close the connection, and restore any
// Preferences backup even if an earlier step errored.
func (b *Browser) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return ErrBrowserNotRunning
	}
	b.state = StateStopping
	conn := b.conn
	b.mu.Unlock()

	defer b.restorePreferencesBackup()

	if conn != nil {
		cdpbrowser.Close().Do(cdp.WithExecutor(ctx, conn))
	}
	if b.process != nil {
		b.process.Stop()
	}
	b.tempDir.cleanup()
	if conn != nil {
		conn.Close()
	}

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()
	return nil
}

func (b *Browser) restorePreferencesBackup() {
	if b.prefsBackupPath == "" {
		return
	}
	data, err := os.ReadFile(b.prefsBackupPath)
	if err != nil {
		return
	}
	prefsPath := strings.TrimSuffix(b.prefsBackupPath, ".backup")
	os.WriteFile(prefsPath, data, 0o600)
	os.Remove(b.prefsBackupPath)
}

// defaultBinaryLocation is the OS-specific binary lookup collaborator (spec
// §6 "default_binary_location"), grounded on the teacher's findExecPath
// (allocate.go).
func defaultBinaryLocation() string {
	candidates := []string{
		"google-chrome-stable",
		"google-chrome",
		"chromium",
		"chromium-browser",
		"/usr/bin/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, name := range candidates {
		if path, err := lookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// parseWebSocketHostPort extracts the host and port from a
// ws://host:port/... URL, returning port 0 when the URL carries no port;
// used only to construct per-target URLs when attaching to an
// already-running browser via Connect.
func parseWebSocketHostPort(wsURL string) (string, int) {
	rest := wsURL
	if i := strings.Index(rest, "://"); i != -1 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i != -1 {
		rest = rest[:i]
	}
	host, portStr, found := strings.Cut(rest, ":")
	if !found {
		return host, 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func lookPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
		return "", fmt.Errorf("not found: %s", name)
	}
	for _, dir := range strings.Split(os.Getenv("PATH"), string(os.PathListSeparator)) {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("not found: %s", name)
}
