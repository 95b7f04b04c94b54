package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Source produces the raw key/value pairs of a settings reload.
type Source interface {
	Load() (map[string]any, error)
}

// FileSource reads settings from a file. The decoder is picked by extension:
// .toml or .json.
type FileSource struct {
	Path string
}

func (s FileSource) String() string {
	return s.Path
}

func (s FileSource) Load() (map[string]any, error) {
	raw := map[string]any{}

	switch ext := strings.ToLower(filepath.Ext(s.Path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(s.Path, &raw); err != nil {
			return nil, err
		}
	case ".json":
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported settings format %q", ext)
	}

	return raw, nil
}

// MapSource is a Source holding its values in memory.
type MapSource map[string]any

func (s MapSource) String() string {
	return "memory"
}

func (s MapSource) Load() (map[string]any, error) {
	return s, nil
}

// WriteSettings writes v to path in the format picked by its extension.
func WriteSettings(path string, v Values) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.NewEncoder(f).Encode(v)
	case ".json":
		enc := json.NewEncoder(f)
		enc.SetIndent("", "\t")
		err = enc.Encode(v)
	default:
		err = fmt.Errorf("unsupported settings format %q", ext)
	}
	if err != nil {
		return err
	}
	return f.Close()
}
