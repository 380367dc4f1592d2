// File: internal/launcher/launcher.go
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrExecutableNotFound is returned when no Firefox build is configured or installed.
var ErrExecutableNotFound = errors.New("firefox executable not found")

// endpointPattern is the line Firefox prints to stderr once the remote agent is ready.
var endpointPattern = regexp.MustCompile(`^WebDriver BiDi listening on (ws://.*)$`)

// DefaultLaunchTimeout bounds the wait for the endpoint line.
const DefaultLaunchTimeout = 30 * time.Second

// candidates are probed in order when no executable is configured.
func candidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Firefox Developer Edition.app/Contents/MacOS/firefox",
			"/Applications/Firefox Nightly.app/Contents/MacOS/firefox",
			"/Applications/Firefox.app/Contents/MacOS/firefox",
		}
	case "windows":
		return []string{"firefox.exe"}
	}
	return []string{"firefox-devedition", "firefox-nightly", "firefox"}
}

// FindExecutable returns configured when set, or the first installed Firefox build.
func FindExecutable(configured string) (string, error) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, configured)
		}
		return path, nil
	}
	for _, c := range candidates() {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", ErrExecutableNotFound
}

// Options configures Launch.
type Options struct {
	Executable string
	Headless   bool
	// Timeout bounds the wait for the remote agent. Zero means DefaultLaunchTimeout.
	Timeout time.Duration
	// Prefs are merged over the automation preferences.
	Prefs  map[string]interface{}
	Logger *zap.Logger
}

// Process is a running browser with its throwaway profile.
type Process struct {
	cmd        *exec.Cmd
	profileDir string
	endpoint   string
	logger     *zap.Logger

	waitDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Endpoint is the remote agent's base URL, e.g. ws://127.0.0.1:41234.
func (p *Process) Endpoint() string { return p.endpoint }

// SessionURL is the WebSocket URL for a new BiDi session.
func (p *Process) SessionURL() string { return p.endpoint + "/session" }

// Args returns the command line for a profile directory.
func Args(profileDir string, headless bool) []string {
	args := []string{"--remote-debugging-port=0", "--profile", profileDir, "--no-remote"}
	if runtime.GOOS == "darwin" {
		args = append(args, "--foreground")
	}
	if headless {
		args = append(args, "--headless")
	}
	return append(args, "about:blank")
}

// Launch starts Firefox with a fresh automation profile and waits for its BiDi endpoint.
// ctx bounds only the startup; the browser runs until Close.
func Launch(ctx context.Context, opts Options) (*Process, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("launcher")

	executable, err := FindExecutable(opts.Executable)
	if err != nil {
		return nil, err
	}
	profileDir, err := os.MkdirTemp("", "bidi-pilot-profile-")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := WriteProfile(profileDir, opts.Prefs); err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, err
	}

	cmd := exec.Command(executable, Args(profileDir, opts.Headless)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("failed to capture stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("Browser process started.", zap.String("executable", executable), zap.Int("pid", cmd.Process.Pid))

	p := &Process{cmd: cmd, profileDir: profileDir, logger: logger, waitDone: make(chan struct{})}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, drained, err := waitForEndpoint(waitCtx, stderr, logger)
	// Wait closes the pipe, so it runs only after the reader is done.
	go func() {
		<-drained
		_ = cmd.Wait()
		close(p.waitDone)
	}()
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.endpoint = endpoint
	logger.Info("Remote agent is listening.", zap.String("endpoint", endpoint))
	return p, nil
}

// waitForEndpoint reads stderr until the endpoint line appears. Output read before it is
// included in the error when the stream ends first. After the endpoint is found the rest of
// the stream goes to the debug log; drained is closed once the stream ends.
func waitForEndpoint(ctx context.Context, stderr io.Reader, logger *zap.Logger) (string, <-chan struct{}, error) {
	type result struct {
		endpoint string
		lines    []string
		err      error
	}
	found := make(chan result, 1)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stderr)
		var lines []string
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if m := endpointPattern.FindStringSubmatch(line); m != nil {
				found <- result{endpoint: m[1]}
				for scanner.Scan() {
					logger.Debug("Browser stderr.", zap.String("line", scanner.Text()))
				}
				return
			}
			lines = append(lines, line)
		}
		found <- result{lines: lines, err: scanner.Err()}
	}()

	select {
	case r := <-found:
		if r.endpoint != "" {
			return r.endpoint, drained, nil
		}
		if r.err != nil {
			return "", drained, fmt.Errorf("failed to read browser output: %w", r.err)
		}
		return "", drained, fmt.Errorf("browser exited before the remote agent started:\n%s", strings.Join(r.lines, "\n"))
	case <-ctx.Done():
		return "", drained, fmt.Errorf("timed out while waiting for the browser's remote agent: %w", ctx.Err())
	}
}

// Close kills the browser and removes its profile. It is safe to call more than once.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.closeErr = multierr.Append(p.closeErr, fmt.Errorf("failed to kill browser: %w", err))
		}
		<-p.waitDone
		if err := os.RemoveAll(p.profileDir); err != nil {
			p.closeErr = multierr.Append(p.closeErr, fmt.Errorf("failed to remove profile: %w", err))
		}
		p.logger.Info("Browser process stopped.")
	})
	return p.closeErr
}
