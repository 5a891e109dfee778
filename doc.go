// Package cdpilot is an asynchronous, high-level driver for Chromium-class
// browsers (Chrome, Edge, and compatible variants) over the Chrome DevTools
// Protocol. It launches and controls a browser process, opens tabs,
// navigates, locates and interacts with DOM elements, intercepts network
// traffic and proxy authentication, and observes CDP events, without any
// external WebDriver.
//
// The package consumes the wire schema from github.com/chromedp/cdproto; it
// does not redefine CDP method or event shapes. Its own job is the
// request/response multiplexer, the browser and tab lifecycle, and the
// locator/interaction engine built on top of that schema.
package cdpilot
