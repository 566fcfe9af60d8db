package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: server.http.port is read
// from MBPIP_SERVER_HTTP_PORT.
const EnvPrefix = "MBPIP"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans cannot be defaulted after unmarshalling.
	v.SetDefault("server.grpc.enabled", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("database.auto_migrate", true)

	// Unmarshal only consults the environment for keys viper knows about.
	bindEnvs(v, reflect.TypeOf(Config{}), "")
	return v
}

func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct && f.Type.String() != "time.Time" {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at path, applies MBPIP_* overrides and defaults,
// and validates the result. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
		}
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from MBPIP_* variables and defaults.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad panics when Load fails.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// Watcher re-reads a config file when it changes on disk.
type Watcher struct {
	v        *viper.Viper
	mu       sync.Mutex
	current  *Config
	onChange func(*Config)
	onError  func(error)
}

// Watch starts watching path through fsnotify. onChange receives every
// valid new Config; invalid edits go to onError, which may be nil, and leave
// Current unchanged. Callers apply only the settings that are safe to
// change at runtime, such as the log level.
func Watch(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
	}
	cfg, err := unmarshalAndFinalize(v)
	if err != nil {
		return nil, err
	}

	w := &Watcher{v: v, current: cfg, onChange: onChange, onError: onError}
	v.OnConfigChange(w.handle)
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) handle(_ fsnotify.Event) {
	cfg, err := unmarshalAndFinalize(w.v)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Current returns the last valid Config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
