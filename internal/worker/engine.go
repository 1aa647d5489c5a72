package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/chamelio/chamelio/internal/fingerprint"
)

// EngineTag identifies the session engine in heartbeat messages.
const EngineTag = "chromedp"

// startURL is opened once after engine start; navigation failure is non-fatal.
const startURL = "https://www.example.com"

// Engine is the session-engine handle the worker keeps alive. The worker only
// configures it, polls its location and tears it down; everything else the
// engine does is its own business.
type Engine interface {
	// CurrentURL reports the active page's location; best-effort.
	CurrentURL(ctx context.Context) (string, error)
	Close() error
}

// Chrome drives a persistent Chrome instance through chromedp, configured
// with the profile's fingerprint and proxy.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// StartChrome launches the browser with the profile's user-data directory and
// fingerprint applied. Fingerprint polish (init script, timezone, headers) is
// best-effort; a failure there never aborts the start.
func StartChrome(parent context.Context, dir string, proxy *fingerprint.Proxy, fp fingerprint.Fingerprint, log *slog.Logger) (*Chrome, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", false),
		chromedp.UserDataDir(dir),
	)
	if fp.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(fp.UserAgent))
	}
	if fp.Screen.Width > 0 && fp.Screen.Height > 0 {
		opts = append(opts, chromedp.WindowSize(fp.Screen.Width, fp.Screen.Height))
	}
	if proxy != nil {
		opts = append(opts, chromedp.ProxyServer(proxy.Server))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	c := &Chrome{ctx: ctx, cancel: cancel, allocCancel: allocCancel}

	if proxy.HasCredentials() {
		answerProxyAuth(ctx, proxy)
	}

	if err := chromedp.Run(ctx, configureActions(fp)...); err != nil {
		c.Close()
		return nil, err
	}

	navCtx, navCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := chromedp.Run(navCtx, chromedp.Navigate(startURL)); err != nil {
		log.Debug("initial navigation failed", "url", startURL, "error", err)
	}
	navCancel()

	return c, nil
}

func configureActions(fp fingerprint.Fingerprint) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if script := fingerprint.BuildInitScript(fp); script != "" {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
					return nil // best-effort
				}
			}
			return nil
		}),
	}
	if fp.Timezone != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_ = emulation.SetTimezoneOverride(fp.Timezone).Do(ctx)
			return nil
		}))
	}
	if len(fp.Headers) > 0 {
		hdrs := make(network.Headers, len(fp.Headers))
		for k, v := range fp.Headers {
			hdrs[k] = v
		}
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_ = network.SetExtraHTTPHeaders(hdrs).Do(ctx)
			return nil
		}))
	}
	return actions
}

// answerProxyAuth responds to proxy auth challenges with the profile's
// credentials. Chrome itself has no flag for authenticated proxies.
func answerProxyAuth(ctx context.Context, proxy *fingerprint.Proxy) {
	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueRequest(e.RequestID))
			}()
		}
	})
	_ = chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true))
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	tctx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
	defer cancel()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	var loc string
	if err := chromedp.Run(tctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Close releases the browser and its allocator. Safe to call after a failed
// start.
func (c *Chrome) Close() error {
	c.cancel()
	c.allocCancel()
	return nil
}
