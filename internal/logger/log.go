package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/phuslu/log"

	"github.com/pboyd/hotpatch/internal/config"
)

// parseLogLevel maps a configured level name to a log.Level. Unknown names
// are info.
func parseLogLevel(levelStr string) log.Level {
	switch levelStr {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func parseTimeLocation(location string) *time.Location {
	switch location {
	case "Local", "":
		return time.Local
	case "UTC":
		return time.UTC
	default:
		if loc, err := time.LoadLocation(location); err == nil {
			return loc
		}
		return time.Local
	}
}

func mapTimeFormat(format string) string {
	switch format {
	case "Unix":
		return log.TimeFormatUnix
	case "UnixMs":
		return log.TimeFormatUnixMs
	default:
		return format
	}
}

// GlogFormatter implements a glog-style text format.
type GlogFormatter struct{}

// Formatter builds the log entry in glog format.
func (f GlogFormatter) Formatter(w io.Writer, a *log.FormatterArgs) (int, error) {
	var buf bytes.Buffer

	// Level (e.g., 'I' for info)
	if len(a.Level) > 0 {
		buf.WriteByte(a.Level[0] - 32)
	} else {
		buf.WriteByte('?')
	}

	buf.WriteString(a.Time)
	buf.WriteByte(' ')
	buf.WriteString(a.Goid)
	buf.WriteByte(' ')
	buf.WriteString(a.Caller)
	buf.WriteString("] ")

	buf.WriteString(a.Message)
	for _, kv := range a.KeyValues {
		buf.WriteByte(' ')
		buf.WriteString(kv.Key)
		buf.WriteByte('=')
		buf.WriteString(kv.Value)
	}
	buf.WriteByte('\n')

	return w.Write(buf.Bytes())
}

// maybeAsync moves writes of w to a background goroutine when async is set.
func maybeAsync(w log.Writer, async bool) log.Writer {
	if !async {
		return w
	}
	return &log.AsyncWriter{
		ChannelSize: 4096,
		Writer:      w,
	}
}

// consoleFormatter returns the formatter for a console format name. Nil keeps
// the colorized default.
func consoleFormatter(format string) func(io.Writer, *log.FormatterArgs) (int, error) {
	switch format {
	case "logfmt":
		return log.LogfmtFormatter{TimeField: "time"}.Formatter
	case "glog":
		return GlogFormatter{}.Formatter
	default:
		return nil
	}
}

func createConsoleWriter(cc *config.ConsoleConfig) log.Writer {
	out := io.Writer(os.Stderr)
	if cc.Writer == "stdout" {
		out = os.Stdout
	}

	if cc.FastIO {
		return maybeAsync(&log.IOWriter{Writer: out}, cc.Async)
	}

	return maybeAsync(&log.ConsoleWriter{
		ColorOutput:    cc.ColorOutput,
		QuoteString:    cc.QuoteString,
		EndWithMessage: true,
		Formatter:      consoleFormatter(cc.Format),
		Writer:         out,
	}, cc.Async)
}

// createFileWriter returns a rotating file writer. A relative file name is
// placed in dir, so a DLL logs next to itself and not in the host's working
// directory.
func createFileWriter(fc *config.FileConfig, dir string) (log.Writer, error) {
	filename := fc.Filename
	if !filepath.IsAbs(filename) && dir != "" {
		filename = filepath.Join(dir, filename)
	}

	if fc.EnsureFolder {
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			return nil, err
		}
	}

	return maybeAsync(&log.FileWriter{
		Filename:     filename,
		FileMode:     0644,
		MaxSize:      fc.MaxSize << 20,
		MaxBackups:   fc.MaxBackups,
		TimeFormat:   mapTimeFormat(fc.TimeFormat),
		LocalTime:    fc.LocalTime,
		EnsureFolder: fc.EnsureFolder,
	}, fc.Async), nil
}

func createWriter(output config.LogOutput, dir string) (log.Writer, error) {
	switch {
	case output.Type == "console" && output.Console != nil:
		return createConsoleWriter(output.Console), nil
	case output.Type == "file" && output.File != nil && output.File.Filename != "":
		return createFileWriter(output.File, dir)
	case output.Type == "console", output.Type == "file":
		return nil, fmt.Errorf("%s output is missing its [%s] table or file name", output.Type, output.Type)
	default:
		return nil, fmt.Errorf("unknown output type: %s", output.Type)
	}
}

func createMultiWriter(outputs []config.LogOutput, dir string) (log.Writer, error) {
	var writers log.MultiEntryWriter
	for _, output := range outputs {
		if !output.Enabled {
			continue
		}
		w, err := createWriter(output, dir)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		return &log.IOWriter{Writer: os.Stderr}, nil
	case 1:
		return writers[0], nil
	default:
		return &writers, nil
	}
}

// ConfigureLogging configures the global DefaultLogger. Relative log file
// names are placed in dir.
func ConfigureLogging(config config.LoggingConfig, dir string) error {
	multiWriter, err := createMultiWriter(config.Outputs, dir)
	if err != nil {
		return err
	}

	log.DefaultLogger = log.Logger{
		Level:        parseLogLevel(config.Defaults.Level),
		Caller:       config.Defaults.Caller,
		TimeField:    config.Defaults.TimeField,
		TimeFormat:   mapTimeFormat(config.Defaults.TimeFormat),
		TimeLocation: parseTimeLocation(config.Defaults.TimeLocation),
		Writer:       multiWriter,
	}

	log.Info().
		Str("level", config.Defaults.Level).
		Int("outputs", len(config.Outputs)).
		Msg("Loggers configured")

	return nil
}

// NewLoggerWithContext creates a new logger by copying the global DefaultLogger
// and adding component-specific context. Call it after ConfigureLogging.
func NewLoggerWithContext(component string) *log.Logger {
	bl := &log.DefaultLogger
	return &log.Logger{
		Level:        bl.Level,
		Caller:       0,
		TimeField:    bl.TimeField,
		TimeFormat:   bl.TimeFormat,
		TimeLocation: bl.TimeLocation,
		Writer:       bl.Writer,
		Context:      log.NewContext(bl.Context).Str("component", component).Value(),
	}
}

// Close flushes asynchronous writers.
func Close() {
	if c, ok := log.DefaultLogger.Writer.(io.Closer); ok {
		c.Close()
	}
}
