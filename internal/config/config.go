package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AppConfig is the agent configuration. It's read once at startup, unlike the
// settings in Values.
type AppConfig struct {
	Agent   AgentConfig   `toml:"agent"`
	Pacer   PacerConfig   `toml:"pacer"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`

	// Hooks to install, addressed relative to Agent.ReferenceBase
	Hooks []HookConfig `toml:"hooks"`

	// Raw byte patches, addressed like Hooks
	Patches []PatchConfig `toml:"patches"`
}

// AgentConfig controls the startup sequence
type AgentConfig struct {
	// Module whose base the addresses are relative to (default: "S4Client.exe").
	// Empty means the main executable.
	Module string `toml:"module"`

	// Base the addresses were taken at (default: 0x00400000). Zero reads the
	// preferred base from the module file.
	ReferenceBase Address `toml:"reference_base"`

	// Wait before touching the host (default: "15s")
	StartupDelay Duration `toml:"startup_delay"`

	// Settings file, .toml or .json (default: "fpsunlock_settings.json")
	Settings string `toml:"settings"`

	// Settings reload interval (default: "2s")
	ReloadInterval Duration `toml:"reload_interval"`

	// Suspend other threads while installing (default: true)
	Suspend bool `toml:"suspend"`

	// Refuse hooks whose relocated bytes can't run from a trampoline (default: true)
	Verify bool `toml:"verify"`
}

// PacerConfig contains the frame pacer settings
type PacerConfig struct {
	// Attempts at reaching the finest timer resolution (default: 10)
	TimerAttempts int `toml:"timer_attempts"`

	// Longest a single tick can be held (default: "1s")
	Bucket Duration `toml:"bucket"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	// Serve metrics over HTTP (default: false)
	Enabled bool `toml:"enabled"`

	// Listen address (default: "localhost:9190")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	Path string `toml:"path"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file"
	Type string `toml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled"`

	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
}

// ConsoleConfig contains console output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false: "auto", "logfmt", "glog" (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 3)
	MaxBackups int `toml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// HookConfig describes one hook
type HookConfig struct {
	// Used in logs
	Name string `toml:"name"`

	// Reference address of the first byte to overwrite
	Address Address `toml:"address"`

	// Bytes relocated into the trampoline, whole instructions only
	Length int `toml:"length"`

	// Calling convention: "c" (default), "thiscall", "go", ...
	Convention string `toml:"convention"`

	// Replacement logic to install
	Binding string `toml:"binding"`

	// Offset of a field the binding touches. It is relative to the first
	// argument, or to the pointer returned by Context when that is set. 0
	// means none.
	FieldOffset int `toml:"field_offset"`

	// Reference address of a function taking no arguments that returns the
	// structure holding the field. 0 means the field is in the first
	// argument.
	Context Address `toml:"context,omitempty"`
}

// PatchConfig describes raw bytes to write
type PatchConfig struct {
	Name string `toml:"name"`

	// Reference address of the first byte
	Address Address `toml:"address"`

	// Hex encoded bytes, whitespace ignored
	Bytes string `toml:"bytes"`
}

// Decode returns the bytes to write.
func (p PatchConfig) Decode() ([]byte, error) {
	clean := strings.Join(strings.Fields(p.Bytes), "")
	return hex.DecodeString(clean)
}

// Address is a memory address written in hex.
type Address uint64

func (a Address) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%08x", uint64(a))), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	n, err := strconv.ParseUint(strings.TrimSpace(string(text)), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", text, err)
	}
	*a = Address(n)
	return nil
}

// Rebase moves a from the reference base to the actual one.
func (a Address) Rebase(reference, actual uintptr) uintptr {
	return uintptr(a) - reference + actual
}

// Duration is a time.Duration written as a string like "15s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Agent: AgentConfig{
			Module:         "S4Client.exe",
			ReferenceBase:  0x00400000,
			StartupDelay:   Duration{15 * time.Second},
			Settings:       "fpsunlock_settings.json",
			ReloadInterval: Duration{DefaultReloadInterval},
			Suspend:        true,
			Verify:         true,
		},
		Pacer: PacerConfig{
			TimerAttempts: 10,
			Bucket:        Duration{time.Second},
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: "localhost:9190",
			Path:          "/metrics",
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: true,
					File: &FileConfig{
						Filename:     "fpsunlock.log",
						MaxSize:      10, // 10MB
						MaxBackups:   3,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
			},
		},
		Hooks: []HookConfig{
			{
				Name:        "game_tick",
				Address:     0x0089f400,
				Length:      9,
				Convention:  "thiscall",
				Binding:     "tick",
				FieldOffset: 0x49,
				Context:     0x004aeb70,
			},
			{
				Name:        "field_of_view",
				Address:     0x00780b20,
				Length:      10,
				Convention:  "thiscall",
				Binding:     "fov",
				FieldOffset: 0x158,
			},
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	// Parse TOML file. Tables present in the file replace the defaults.
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	header := `# fpsunlock example configuration
# Generated with the default values. Addresses are relative to
# agent.reference_base and are rebased to the module's actual base at startup.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	if c.Agent.Settings == "" {
		return fmt.Errorf("agent.settings cannot be empty")
	}
	if c.Agent.StartupDelay.Duration < 0 {
		return fmt.Errorf("agent.startup_delay cannot be negative")
	}
	if c.Agent.ReloadInterval.Duration <= 0 {
		return fmt.Errorf("agent.reload_interval must be positive")
	}
	if c.Pacer.TimerAttempts < 1 {
		return fmt.Errorf("pacer.timer_attempts must be at least 1")
	}
	if c.Pacer.Bucket.Duration < time.Second {
		return fmt.Errorf("pacer.bucket must be at least 1s")
	}
	if c.Metrics.Enabled {
		if c.Metrics.ListenAddress == "" {
			return fmt.Errorf("metrics.listen_address cannot be empty")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	names := map[string]bool{}
	for i, h := range c.Hooks {
		if h.Name == "" {
			return fmt.Errorf("hooks[%d].name cannot be empty", i)
		}
		if names[h.Name] {
			return fmt.Errorf("hooks[%d]: duplicate name %q", i, h.Name)
		}
		names[h.Name] = true
		if h.Address == 0 {
			return fmt.Errorf("hook %s: address cannot be zero", h.Name)
		}
		if h.Length <= 0 {
			return fmt.Errorf("hook %s: length must be positive", h.Name)
		}
		if h.Binding == "" {
			return fmt.Errorf("hook %s: binding cannot be empty", h.Name)
		}
		if h.FieldOffset < 0 {
			return fmt.Errorf("hook %s: field_offset cannot be negative", h.Name)
		}
	}

	for i, p := range c.Patches {
		if p.Address == 0 {
			return fmt.Errorf("patches[%d]: address cannot be zero", i)
		}
		buf, err := p.Decode()
		if err != nil {
			return fmt.Errorf("patches[%d]: %w", i, err)
		}
		if len(buf) == 0 {
			return fmt.Errorf("patches[%d]: no bytes", i)
		}
	}

	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}
