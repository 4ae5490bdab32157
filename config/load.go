package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// GetConfig returns the named built-in config, or loads selector as a file
// when no built-in config has that name. Defaults are applied.
func GetConfig(selector string) (ServerConfig, error) {
	if c, ok := ServiceConfigs[selector]; ok {
		return c.WithDefaults(), nil
	}
	if _, err := os.Stat(selector); err != nil {
		return ServerConfig{}, errors.Errorf("invalid configuration %s, supported values are %v or a config file", selector, Names())
	}
	return Load(selector)
}

func Names() []string {
	names := make([]string, 0, len(ServiceConfigs))
	for n := range ServiceConfigs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load reads a config file; its extension picks the format (.json, .yaml,
// .yml or .toml).
func Load(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, errors.Wrapf(err, "reading config %s", path)
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return ServerConfig{}, errors.Wrapf(err, "parsing config %s", path)
	}
	log.WithFields(log.Fields{"path": path, "config": c}).Info("config loaded")
	return c, nil
}

// Parse decodes data in the format named by ext and applies defaults.
// Unknown fields are rejected.
func Parse(data []byte, ext string) (ServerConfig, error) {
	var c ServerConfig
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json":
		if err := decodeJSON(data, &c); err != nil {
			return ServerConfig{}, err
		}
	case "yaml", "yml":
		// field names follow the json tags
		js, err := yaml.YAMLToJSON(data)
		if err != nil {
			return ServerConfig{}, err
		}
		if err := decodeJSON(js, &c); err != nil {
			return ServerConfig{}, err
		}
	case "toml":
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return ServerConfig{}, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return ServerConfig{}, errors.Errorf("unknown config keys %v", undecoded)
		}
	default:
		return ServerConfig{}, errors.Errorf("unsupported config format %q", ext)
	}
	return c.WithDefaults(), nil
}

func decodeJSON(data []byte, c *ServerConfig) error {
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(c)
}
