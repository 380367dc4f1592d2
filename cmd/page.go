// File: cmd/page.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/bidi"
	"github.com/xkilldash9x/bidi-pilot/internal/browser"
	"github.com/xkilldash9x/bidi-pilot/internal/config"
	"github.com/xkilldash9x/bidi-pilot/internal/humanoid"
	"github.com/xkilldash9x/bidi-pilot/internal/launcher"
	"github.com/xkilldash9x/bidi-pilot/internal/transport"
)

// Function variables for dependency injection in tests.
var (
	launchBrowser = launcher.Launch
	openSession   = bidi.Open
)

// closeTimeout bounds the shutdown of the session and the browser.
const closeTimeout = 10 * time.Second

// page is a browsing context under test together with what keeps it alive.
type page struct {
	session *bidi.Session
	context *bidi.BrowsingContext
	process *launcher.Process
	logger  *zap.Logger
}

// openPage launches or connects to a browser, opens a new tab sized to the configured
// viewport and navigates it to startURL.
func openPage(ctx context.Context, cfg config.Interface, startURL string, logger *zap.Logger) (_ *page, err error) {
	bcfg := cfg.Browser()
	p := &page{logger: logger}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	wsURL := bcfg.WSURL
	if wsURL == "" {
		p.process, err = launchBrowser(ctx, launcher.Options{
			Executable: bcfg.Executable,
			Headless:   bcfg.Headless,
			Timeout:    bcfg.LaunchTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		wsURL = p.process.SessionURL()
	}

	opts := bidi.Options{
		Logger:              logger,
		DebugProtocol:       bcfg.DebugProtocol,
		AcceptInsecureCerts: bcfg.AcceptInsecureCerts,
		Transport: transport.Options{
			HandshakeTimeout: bcfg.HandshakeTimeout,
			MaxPayloadSize:   bcfg.MaxPayloadSize,
		},
	}
	if bcfg.InjectedScriptPath != "" {
		src, readErr := os.ReadFile(bcfg.InjectedScriptPath)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read injected script: %w", readErr)
		}
		opts.InjectedScriptSource = string(src)
	}

	p.session, err = openSession(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	p.context, err = p.session.CreateBrowsingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browsing context: %w", err)
	}
	if err = p.context.SetViewport(ctx, bcfg.Viewport.Width, bcfg.Viewport.Height, nil); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	if _, err = p.context.Navigate(ctx, startURL, bidi.ReadinessComplete); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", startURL, err)
	}
	logger.Info("Page ready.", zap.String("url", startURL), zap.String("context", p.context.ID()))
	return p, nil
}

// newInputTool builds the input tool for the page with the configured timings.
func (p *page) newInputTool(cfg config.Interface, observers ...browser.Observer) *browser.InputTool {
	in := cfg.Input()
	opts := []browser.Option{
		browser.WithLogger(p.logger),
		browser.WithDefaults(browser.Defaults{
			ClickDelay:    in.ClickDelayMs,
			KeyDelay:      in.KeyDelayMs,
			Velocity:      in.DefaultVelocity,
			FrameDuration: in.FrameIntervalMs,
		}),
	}
	if in.HumanizePointer {
		opts = append(opts, browser.WithPointerPath(humanoid.NewPathPlanner(humanoid.PathConfig{
			FittsA:          in.FittsA,
			FittsB:          in.FittsB,
			PerlinAmplitude: in.PerlinAmplitude,
		})))
	}
	for _, o := range observers {
		opts = append(opts, browser.WithObserver(o))
	}
	return browser.NewInputTool(p.context, opts...)
}

// Close ends the session and stops a launched browser.
func (p *page) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs error
	if p.session != nil {
		errs = multierr.Append(errs, p.session.Close(ctx))
	}
	if p.process != nil {
		errs = multierr.Append(errs, p.process.Close())
	}
	return errs
}
