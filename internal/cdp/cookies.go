package cdp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Cookie reads a cookie for origin from the browser's cookie store. It works
// for tabs that are not attached yet.
func (c *Client) Cookie(ctx context.Context, origin, name string) (string, bool, error) {
	c.tabsMu.RLock()
	browserCtx := c.browserCtx
	c.tabsMu.RUnlock()
	if browserCtx == nil {
		return "", false, fmt.Errorf("cdp: not connected")
	}

	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return "", false, fmt.Errorf("cdp: invalid origin %q", origin)
	}

	runCtx, cancel := context.WithTimeout(browserCtx, 5*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var cookies []*network.Cookie
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(cdproto.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
		return err
	}))
	if err != nil {
		return "", false, fmt.Errorf("cdp: get cookies: %w", err)
	}

	value, ok := pickCookie(cookies, u.Hostname(), name)
	return value, ok, nil
}

// pickCookie returns the named cookie whose domain most specifically matches
// host.
func pickCookie(cookies []*network.Cookie, host, name string) (string, bool) {
	host = strings.ToLower(host)
	best, bestLen := "", -1
	for _, ck := range cookies {
		if ck == nil || ck.Name != name {
			continue
		}
		domain := strings.ToLower(strings.TrimPrefix(ck.Domain, "."))
		if host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if len(domain) > bestLen {
			best, bestLen = ck.Value, len(domain)
		}
	}
	return best, bestLen >= 0
}
