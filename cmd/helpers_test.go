// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/bidi"
	"github.com/xkilldash9x/bidi-pilot/internal/bidi/biditest"
	"github.com/xkilldash9x/bidi-pilot/internal/config"
	"github.com/xkilldash9x/bidi-pilot/internal/launcher"
	"github.com/xkilldash9x/bidi-pilot/internal/llmclient"
)

const testWSURL = "ws://127.0.0.1:9222/session"

// pngBytes is the payload returned by the fake captureScreenshot.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// resetForTest isolates a test from the developer's config files and restores the
// package level function variables afterwards.
func resetForTest(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	cfgFile = ""

	origLaunch, origOpen, origCompleter, origPool := launchBrowser, openSession, newCompleter, newDBPool
	t.Cleanup(func() {
		launchBrowser, openSession, newCompleter, newDBPool = origLaunch, origOpen, origCompleter, origPool
	})

	launchBrowser = func(context.Context, launcher.Options) (*launcher.Process, error) {
		t.Error("the browser must not be launched when a ws url is given")
		return nil, errors.New("unexpected launch")
	}
	newCompleter = func(context.Context, config.LLMConfig, *zap.Logger) (llmclient.Completer, error) {
		t.Error("no completer expected")
		return nil, errors.New("unexpected completer")
	}
}

// fakeBrowser routes openSession to an in-memory remote end with one page that accepts
// viewport, navigation and screenshot commands.
type fakeBrowser struct {
	remote *biditest.Remote

	mu   sync.Mutex
	url  string
	opts bidi.Options
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	client, server := biditest.Pipe()
	f := &fakeBrowser{remote: biditest.NewRemote(server)}

	ack := func(biditest.Command) (interface{}, error) { return map[string]interface{}{}, nil }
	f.remote.Handle("browsingContext.setViewport", ack)
	f.remote.Handle("input.performActions", ack)
	f.remote.Handle("input.releaseActions", ack)
	f.remote.Handle("browsingContext.navigate", func(cmd biditest.Command) (interface{}, error) {
		return map[string]interface{}{"navigation": "nav-1", "url": cmd.Param("url")}, nil
	})
	f.remote.Handle("browsingContext.captureScreenshot", func(biditest.Command) (interface{}, error) {
		return map[string]string{"data": base64.StdEncoding.EncodeToString(pngBytes)}, nil
	})

	openSession = func(ctx context.Context, url string, opts bidi.Options) (*bidi.Session, error) {
		f.mu.Lock()
		f.url, f.opts = url, opts
		f.mu.Unlock()
		return bidi.NewSession(ctx, client, opts)
	}

	t.Cleanup(func() {
		_ = f.remote.Close()
		select {
		case <-f.remote.Done():
		case <-time.After(5 * time.Second):
			t.Error("fake remote end did not stop")
		}
	})
	return f
}

func (f *fakeBrowser) dialed() (string, bidi.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, f.opts
}

// scriptedCompleter answers each request with the next scripted reply and records the history
// it was given. Once the script is exhausted it answers "Done.".
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	calls   [][]llmclient.Entry
}

func (c *scriptedCompleter) Complete(_ context.Context, entries []llmclient.Entry) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]llmclient.Entry(nil), entries...))
	if len(c.replies) == 0 {
		return "Done.", nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

func (c *scriptedCompleter) Calls() [][]llmclient.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]llmclient.Entry(nil), c.calls...)
}

func useCompleter(c llmclient.Completer) {
	newCompleter = func(context.Context, config.LLMConfig, *zap.Logger) (llmclient.Completer, error) {
		return c, nil
	}
}

// executeCommand runs the CLI and returns its output streams and exit code.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), code
}

// fenced wraps lines in a code block.
func fenced(lines ...string) string {
	return "```\n" + strings.Join(lines, "\n") + "\n```"
}

func requireCommand(t *testing.T, remote *biditest.Remote, method string) biditest.Command {
	t.Helper()
	cmds := remote.CommandsFor(method)
	require.NotEmpty(t, cmds, "expected a %s command", method)
	return cmds[0]
}
