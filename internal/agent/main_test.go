// File: internal/agent/main_test.go
package agent

import (
	"os"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/bidi-pilot/internal/config"
	"github.com/xkilldash9x/bidi-pilot/internal/observability"
)

// TestMain initializes the global logger for the agent tests.
func TestMain(m *testing.M) {
	logConfig := config.NewDefaultConfig().Logger()
	logConfig.Level = "debug"
	logConfig.ServiceName = "test-suite"
	logConfig.Format = "console"

	observability.Initialize(logConfig, zapcore.Lock(os.Stdout))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()

	os.Exit(exitCode)
}
