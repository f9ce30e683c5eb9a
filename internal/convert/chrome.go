package convert

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

const chromeDocument = `<!DOCTYPE html><html><head><style>
html,body{margin:0;padding:0;background:transparent;overflow:hidden}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style></head><body><img src="data:image/svg+xml;base64,%s"></body></html>`

// Chrome renders the SVG in headless Chrome and screenshots it.
type Chrome struct {
	ExecPath  string
	NoSandbox bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Chrome) Name() string { return "chrome" }

// Init launches the browser once.
func (c *Chrome) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return nil
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	// the browser outlives the Init call
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		if errors.Is(err, exec.ErrNotFound) {
			return unavailable(c.Name(), err)
		}
		return unavailable(c.Name(), fmt.Errorf("starting chrome: %w", err))
	}

	c.ctx = browserCtx
	c.cancel = func() {
		browserCancel()
		allocCancel()
	}
	return nil
}

func (c *Chrome) Convert(ctx context.Context, svg []byte, opts Options) ([]byte, error) {
	c.mu.Lock()
	browserCtx := c.ctx
	c.mu.Unlock()
	if browserCtx == nil {
		return nil, unavailable(c.Name(), errors.New("not initialized"))
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := fmt.Sprintf(chromeDocument, base64.StdEncoding.EncodeToString(svg))
	var out []byte
	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{A: 0}),
		chromedp.Navigate("data:text/html;base64,"+base64.StdEncoding.EncodeToString([]byte(doc))),
		chromedp.CaptureScreenshot(&out),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chrome screenshot: %w", err)
	}
	return out, nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.ctx, c.cancel = nil, nil
	}
	return nil
}
