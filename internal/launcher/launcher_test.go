package launcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUserJS(t *testing.T) {
	js, err := UserJS(map[string]interface{}{
		"remote.active-protocols": 1,
		"browser.startup.page":    0,
		"app.normandy.api_url":    "",
		"focusmanager.testmode":   true,
		"startup.homepage":        `a"b`,
	})
	require.NoError(t, err)
	assert.Equal(t, `user_pref("app.normandy.api_url", "");
user_pref("browser.startup.page", 0);
user_pref("focusmanager.testmode", true);
user_pref("remote.active-protocols", 1);
user_pref("startup.homepage", "a\"b");
`, js)

	_, err = UserJS(map[string]interface{}{"x": 1.5})
	assert.EqualError(t, err, "preference x has unsupported type float64")
}

func TestWriteProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteProfile(dir, map[string]interface{}{
		"remote.enabled":   false,
		"intl.locale.used": "ja",
	}))

	raw, err := os.ReadFile(filepath.Join(dir, "user.js"))
	require.NoError(t, err)
	js := string(raw)
	assert.Contains(t, js, `user_pref("remote.active-protocols", 1);`)
	assert.Contains(t, js, `user_pref("fission.webContentIsolationStrategy", 0);`)
	assert.Contains(t, js, `user_pref("remote.enabled", false);`, "extra prefs override the defaults")
	assert.Contains(t, js, `user_pref("intl.locale.used", "ja");`)
	assert.Equal(t, len(automationPrefs)+1, strings.Count(js, "user_pref("))
}

func TestArgs(t *testing.T) {
	args := Args("/tmp/profile", true)
	assert.Equal(t, []string{"--remote-debugging-port=0", "--profile", "/tmp/profile", "--no-remote"}, args[:4])
	assert.Contains(t, args, "--headless")
	assert.Equal(t, "about:blank", args[len(args)-1])
	assert.NotContains(t, Args("/tmp/profile", false), "--headless")
}

func TestWaitForEndpoint(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("finds the endpoint line", func(t *testing.T) {
		r, w := io.Pipe()
		go func() {
			_, _ = io.WriteString(w, "*** You are running in headless mode.\n")
			_, _ = io.WriteString(w, "WebDriver BiDi listening on ws://127.0.0.1:9222\r\n")
			_, _ = io.WriteString(w, "Read port: 9222\n")
			_ = w.Close()
		}()

		endpoint, drained, err := waitForEndpoint(context.Background(), r, logger)
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222", endpoint)
		<-drained
	})

	t.Run("reports output when the stream ends first", func(t *testing.T) {
		_, drained, err := waitForEndpoint(context.Background(), strings.NewReader("Error: no DISPLAY environment variable specified\n"), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser exited before the remote agent started")
		assert.Contains(t, err.Error(), "no DISPLAY environment variable specified")
		<-drained
	})

	t.Run("times out", func(t *testing.T) {
		r, w := io.Pipe()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, drained, err := waitForEndpoint(ctx, r, logger)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		_ = w.Close()
		<-drained
	})
}

func TestFindExecutable_Configured(t *testing.T) {
	_, err := FindExecutable(filepath.Join(t.TempDir(), "no-such-firefox"))
	assert.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestLaunch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the browser")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "firefox")
	script := "#!/bin/sh\n" +
		"echo 'starting' >&2\n" +
		"echo 'WebDriver BiDi listening on ws://127.0.0.1:41234' >&2\n" +
		"exec sleep 30\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	p, err := Launch(context.Background(), Options{
		Executable: fake,
		Headless:   true,
		Timeout:    5 * time.Second,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:41234", p.Endpoint())
	assert.Equal(t, "ws://127.0.0.1:41234/session", p.SessionURL())

	profile := p.profileDir
	_, err = os.Stat(filepath.Join(profile, "user.js"))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "Close is idempotent")
	_, err = os.Stat(profile)
	assert.True(t, os.IsNotExist(err), "the profile is removed on Close")
}

func TestLaunch_ExitsEarly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the browser")
	}

	fake := filepath.Join(t.TempDir(), "firefox")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\necho 'profile is locked' >&2\nexit 1\n"), 0o755))

	_, err := Launch(context.Background(), Options{Executable: fake, Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile is locked")
}
