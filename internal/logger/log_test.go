package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/hotpatch/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]log.Level{
		"trace":   log.TraceLevel,
		"debug":   log.DebugLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"bogus":   log.InfoLevel,
		"":        log.InfoLevel,
	}

	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, parseLogLevel(name))
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	saved := log.DefaultLogger
	t.Cleanup(func() {
		log.DefaultLogger = saved
	})

	dir := t.TempDir()
	cfg := config.LoggingConfig{
		Defaults: config.LogDefaults{Level: "debug"},
		Outputs: []config.LogOutput{
			{
				Type:    "file",
				Enabled: true,
				File: &config.FileConfig{
					Filename:     "logs/agent.log",
					MaxSize:      1,
					EnsureFolder: true,
				},
			},
			{
				Type:    "console",
				Enabled: false,
			},
		},
	}

	require.NoError(t, ConfigureLogging(cfg, dir))
	assert.Equal(t, log.DebugLevel, log.DefaultLogger.Level)

	l := NewLoggerWithContext("pacer")
	l.Info().Msg("hello")
	Close()

	matches, err := filepath.Glob(filepath.Join(dir, "logs", "agent*.log"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	buf, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"component":"pacer"`)
	assert.Contains(t, string(buf), "hello")
}

func TestConfigureLogging_Invalid(t *testing.T) {
	saved := log.DefaultLogger
	t.Cleanup(func() {
		log.DefaultLogger = saved
	})

	cases := map[string]config.LogOutput{
		"unknown type":     {Type: "syslog", Enabled: true},
		"console no table": {Type: "console", Enabled: true},
		"file no name":     {Type: "file", Enabled: true, File: &config.FileConfig{}},
	}

	for name, output := range cases {
		t.Run(name, func(t *testing.T) {
			err := ConfigureLogging(config.LoggingConfig{Outputs: []config.LogOutput{output}}, t.TempDir())
			assert.Error(t, err)
		})
	}
}
