package acquire

import (
	"math/rand/v2"
	"net/http"
)

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

type viewport struct{ Width, Height int }

var viewports = []viewport{
	{1920, 1080},
	{1440, 900},
	{1366, 768},
	{1536, 864},
	{1280, 720},
	{2560, 1440},
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"zh-CN,zh;q=0.9,en;q=0.8",
}

// Browser launch flags that remove the most obvious automation markers.
var stealthFlags = map[string]any{
	"disable-blink-features":                 "AutomationControlled",
	"enable-automation":                      false,
	"disable-features":                       "TranslateUI,VizDisplayCompositor",
	"disable-ipc-flooding-protection":        true,
	"disable-background-timer-throttling":    true,
	"disable-backgrounding-occluded-windows": true,
	"disable-renderer-backgrounding":         true,
	"disable-dev-shm-usage":                  true,
	"no-first-run":                           true,
}

// Scripts evaluated before any page script runs.
var stealthScripts = []string{
	`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`,
	`Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});`,
	`Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});`,
	`if (window.chrome && window.chrome.runtime && window.chrome.runtime.onConnect) { delete window.chrome.runtime.onConnect; }`,
}

// mutationScript counts DOM mutations so quiescence can be detected.
const mutationScript = `(() => {
	window.__harvestMutations = 0;
	const start = () => new MutationObserver(() => { window.__harvestMutations++; })
		.observe(document, {subtree: true, childList: true, attributes: true});
	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', start);
	} else {
		start();
	}
})();`

// Profile is one randomized browser identity, shared by the render session
// and the HTTP clients issued from it.
type Profile struct {
	UserAgent      string
	Width, Height  int
	AcceptLanguage string
	Stealth        bool
}

// NewProfile picks a random identity. With stealth off it still rotates the
// user agent but skips the flags and scripts.
func NewProfile(stealth bool) Profile {
	vp := viewports[rand.IntN(len(viewports))]
	return Profile{
		UserAgent:      userAgents[rand.IntN(len(userAgents))],
		Width:          vp.Width,
		Height:         vp.Height,
		AcceptLanguage: acceptLanguages[rand.IntN(len(acceptLanguages))],
		Stealth:        stealth,
	}
}

// Headers returns the navigation headers sent with every page request.
func (p Profile) Headers() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           p.AcceptLanguage,
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
	}
}

// apply sets the profile's identity on an outgoing request.
func (p Profile) apply(req *http.Request) {
	for k, v := range p.Headers() {
		req.Header.Set(k, v)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
}

// applyImage is apply for image downloads, which browsers send with
// different fetch metadata.
func (p Profile) applyImage(req *http.Request, referer string) {
	p.apply(req)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "image")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Del("Sec-Fetch-User")
	req.Header.Del("Upgrade-Insecure-Requests")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}
