package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

type ChromeOptions struct {
	Headless  bool
	ExecPath  string
	UserAgent string
}

// Chrome drives a local Chrome/Chromium through the DevTools protocol.
type Chrome struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewChrome starts a browser and one tab. Close releases both.
func NewChrome(parent context.Context, opts ChromeOptions, log *zap.Logger) (*Chrome, error) {
	alloc := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	alloc = append(alloc, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		alloc = append(alloc, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		alloc = append(alloc, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, alloc...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	// The first Run launches the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Chrome{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		log: log,
	}, nil
}

func (c *Chrome) Close() { c.cancel() }

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation. Cancelling ctx aborts the actions but keeps the tab.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.log.Debug("navigate", zap.String("url", url))
	return c.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (c *Chrome) Fill(ctx context.Context, target, value string) error {
	return c.run(ctx,
		chromedp.WaitVisible(target, chromedp.ByQuery),
		chromedp.SetValue(target, "", chromedp.ByQuery),
		chromedp.SendKeys(target, value, chromedp.ByQuery),
	)
}

func (c *Chrome) Click(ctx context.Context, target string) error {
	c.log.Debug("click", zap.String("target", target))
	return c.run(ctx, chromedp.Click(target, chromedp.ByQuery, chromedp.NodeVisible))
}

func (c *Chrome) ExtractText(ctx context.Context, target string) (string, error) {
	var text string
	if err := c.run(ctx, chromedp.Text(target, &text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Chrome) ExtractTexts(ctx context.Context, target string) ([]string, error) {
	sel, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	js := fmt.Sprintf(`Array.from(document.querySelectorAll(%s), e => e.innerText.trim())`, sel)
	var texts []string
	if err := c.run(ctx, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

// storageState is the serialized form of a browser session.
type storageState struct {
	Cookies []storedCookie `json:"cookies"`
}

type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
	SameSite string  `json:"sameSite,omitempty"`
}

func (c *Chrome) CurrentSessionState(ctx context.Context) ([]byte, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	state := storageState{Cookies: make([]storedCookie, 0, len(cookies))}
	for _, ck := range cookies {
		state.Cookies = append(state.Cookies, storedCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			Session:  ck.Session,
			SameSite: ck.SameSite.String(),
		})
	}
	return json.Marshal(state)
}

func (c *Chrome) LoadSessionState(ctx context.Context, state []byte) error {
	var st storageState
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	params := make([]*network.CookieParam, 0, len(st.Cookies))
	for _, ck := range st.Cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.SameSite != "" {
			p.SameSite = network.CookieSameSite(ck.SameSite)
		}
		if !ck.Session && ck.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}

	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.ClearBrowserCookies().Do(ctx); err != nil {
			return err
		}
		if len(params) == 0 {
			return nil
		}
		return network.SetCookies(params).Do(ctx)
	}))
}

// StateExpiry reports the latest expiry among the persistent cookies in a
// state produced by Chrome, or nil when none carries one.
func StateExpiry(state []byte) *time.Time {
	var st storageState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil
	}
	var latest float64
	for _, ck := range st.Cookies {
		if !ck.Session && ck.Expires > latest {
			latest = ck.Expires
		}
	}
	if latest == 0 {
		return nil
	}
	t := time.Unix(int64(latest), 0).UTC()
	return &t
}

var _ Surface = (*Chrome)(nil)
