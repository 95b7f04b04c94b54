//go:build windows

// Command fpsunlock is a DLL that unlocks the frame rate of the host it is
// loaded into. Build it with
//
//	go build -buildmode=c-shared -o fpsunlock.dll ./cmd/fpsunlock
//
// Once loaded it reads fpsunlock.toml from its own directory, or the file
// named by FPSUNLOCK_CONFIG, and installs the configured hooks.
package main

import "C"

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"github.com/phuslu/log"

	"github.com/pboyd/hotpatch/internal/agent"
	"github.com/pboyd/hotpatch/internal/config"
	"github.com/pboyd/hotpatch/internal/logger"
	"github.com/pboyd/hotpatch/internal/module"
)

const configName = "fpsunlock.toml"

func init() {
	go run()
}

func run() {
	dir := moduleDir()

	path := os.Getenv("FPSUNLOCK_CONFIG")
	if path == "" {
		path = filepath.Join(dir, configName)
	}

	cfg, loadErr := config.LoadConfig(path)
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "fpsunlock: %v\n", loadErr)
		return
	}

	if err := logger.ConfigureLogging(cfg.Logging, dir); err != nil {
		fmt.Fprintf(os.Stderr, "fpsunlock: failed to configure logging: %v\n", err)
		return
	}
	defer logger.Close()

	if loadErr != nil {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := config.GenerateExampleConfig(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("cannot write default configuration")
			} else {
				log.Info().Str("path", path).Msg("wrote default configuration")
			}
		} else {
			log.Warn().Err(loadErr).Msg("using default configuration")
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("invalid configuration")
	}

	a := agent.New(cfg, agent.WithBaseDir(dir))
	if err := a.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("cannot hook the host, terminating")
	}

	select {}
}

// moduleDir returns the directory of the DLL, falling back to the working
// directory.
func moduleDir() string {
	m, err := module.Containing(reflect.ValueOf(run).Pointer())
	if err != nil || m.Path == "" {
		return "."
	}
	return filepath.Dir(m.Path)
}

func main() {}
