package cdpilot

import "time"

// DefaultStartTimeout bounds how long Browser.Start waits for the spawned
// process's /json/version endpoint to report a websocket URL before failing
// (spec §4.5 "Start flow" step 6).
var DefaultStartTimeout = 10 * time.Second

// browserConfig accumulates BrowserOptions before Start, in the teacher's
// functional-options idiom (allocate.go's ExecAllocatorOption).
type browserConfig struct {
	port             int
	binaryLocation   string
	userDataDir      string
	arguments        []string
	env              []string
	browserPreferences map[string]interface{}
	startTimeout     time.Duration
	headless         bool
	noSandbox        bool
}

func newBrowserConfig() *browserConfig {
	return &browserConfig{
		startTimeout: DefaultStartTimeout,
	}
}

// BrowserOption configures a Browser before Start.
type BrowserOption func(*browserConfig) error

// WithPort pins the DevTools port instead of picking a random one in
// [9223, 9322] (spec §4.5 step 1).
func WithPort(port int) BrowserOption {
	return func(c *browserConfig) error {
		if port < 0 {
			return ErrInvalidPort
		}
		c.port = port
		return nil
	}
}

// WithBinaryLocation overrides the OS-specific binary lookup.
func WithBinaryLocation(path string) BrowserOption {
	return func(c *browserConfig) error {
		c.binaryLocation = path
		return nil
	}
}

// WithUserDataDir pins the profile directory. When unset, Start creates and
// tracks a temp directory for later cleanup (Invariant 6).
func WithUserDataDir(dir string) BrowserOption {
	return func(c *browserConfig) error {
		c.userDataDir = dir
		return nil
	}
}

// WithArguments appends verbatim command-line arguments, such as
// --proxy-server=... (subject to credential sanitization) or any other
// Chromium flag not otherwise exposed as an option.
func WithArguments(args ...string) BrowserOption {
	return func(c *browserConfig) error {
		c.arguments = append(c.arguments, args...)
		return nil
	}
}

// WithEnv appends NAME=value entries to the spawned process's environment.
func WithEnv(vars ...string) BrowserOption {
	return func(c *browserConfig) error {
		c.env = append(c.env, vars...)
		return nil
	}
}

// WithBrowserPreferences supplies JSON written to
// <user-data-dir>/Default/Preferences before the process starts.
func WithBrowserPreferences(prefs map[string]interface{}) BrowserOption {
	return func(c *browserConfig) error {
		c.browserPreferences = prefs
		return nil
	}
}

// WithStartTimeout overrides DefaultStartTimeout.
func WithStartTimeout(d time.Duration) BrowserOption {
	return func(c *browserConfig) error {
		c.startTimeout = d
		return nil
	}
}

// Headless runs the browser without a visible window, matching the
// teacher's Headless ExecAllocatorOption (hides scrollbars, mutes audio).
func Headless(c *browserConfig) error {
	c.headless = true
	return nil
}

// NoSandbox disables the sandbox; required when running as root.
func NoSandbox(c *browserConfig) error {
	c.noSandbox = true
	return nil
}
