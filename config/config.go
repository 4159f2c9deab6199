// Package config holds the process wide configuration for mindease.
//
// Config is loaded in the following order (later sources override earlier):
//  1. Registered key defaults, applied by EnsureDefaults for keys not already set
//  2. Auto-discovered mindease.yaml (searched from the working directory upwards)
//  3. Environment variables with the ME__ prefix
//  4. Additional sources loaded via LoadFile or LoadDefaults
//
// Environment variable transformation:
//   - ME__STORAGE__DRIVER → storage.driver
//   - ME__IDENTITY__RECENT_LOGIN_WINDOW → identity.recentLoginWindow
//   - ME__FOO_BAR__BAZ → fooBar.baz
package config

import (
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const File = "mindease.yaml"

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ME__"

// Config is the global koanf instance.
var Config = koanf.New(".")

var defaultsOnce sync.Once

func init() {
	registerCoreKeys()

	if cfg := SearchForFile(File, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(EnvPrefix, ".", TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// LoadFile loads additional configuration from a YAML file.
func LoadFile(path string) error {
	return Config.Load(file.Provider(path), yaml.Parser())
}

// LoadDefaults loads values into the global config, overriding what is there.
// Mostly useful in tests and for application specific defaults.
//
//	config.LoadDefaults(map[string]any{
//	    "storage.driver": "memory",
//	})
func LoadDefaults(values map[string]any) {
	if err := Config.Load(confmap.Provider(values, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// EnsureDefaults applies the defaults of all registered keys that have not been
// set by another source. Call it once every package has registered its keys,
// which in practice means from main or app.New.
func EnsureDefaults() {
	defaultsOnce.Do(func() {
		for key, val := range Defaults() {
			if !Config.Exists(key) {
				_ = Config.Set(key, val)
			}
		}
	})
}

// String returns the string value for the given key.
func String(key string) string {
	return Config.String(key)
}

// Int returns the int value for the given key.
func Int(key string) int {
	return Config.Int(key)
}

// Bool returns the bool value for the given key.
func Bool(key string) bool {
	return Config.Bool(key)
}

// Duration returns the duration value for the given key. Strings like "5m" are
// parsed.
func Duration(key string) time.Duration {
	return Config.Duration(key)
}

// Strings returns the string slice for the given key. A comma separated string
// is split, which is how list values arrive from environment variables.
func Strings(key string) []string {
	if v, ok := Config.Get(key).(string); ok {
		return splitList(v)
	}
	return Config.Strings(key)
}

// Exists checks if the given key has a value.
func Exists(key string) bool {
	return Config.Exists(key)
}
