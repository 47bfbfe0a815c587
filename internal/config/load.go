package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PLENARIO_OCR_WORKERS=8.
const EnvPrefix = "PLENARIO"

// DefaultConfigFile is read when no --config path is given and the file exists.
const DefaultConfigFile = "plenario.yaml"

// Load builds the effective configuration.
//
// Precedence (highest first):
//  1. flags that were explicitly set, keyed by configuration key
//  2. PLENARIO_* environment variables
//  3. the config file at path (or plenario.yaml when path is empty and it exists)
//  4. defaults from New()
//
// The result is validated before it is returned.
func Load(path string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only resolves env vars for keys it already knows, so every key is
	// registered with its default.
	for key, value := range flattenDefaults(New()) {
		v.SetDefault(key, value)
	}

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for key, f := range flags {
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag --%s: %w", f.Name, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flattenDefaults walks cfg and returns its leaf values keyed by dotted
// mapstructure names ("ocr.max_retries"). Squashed structs contribute their
// fields to the parent key.
func flattenDefaults(cfg *Config) map[string]any {
	out := make(map[string]any)
	flattenStruct(reflect.ValueOf(cfg).Elem(), "", out)
	return out
}

func flattenStruct(v reflect.Value, prefix string, out map[string]any) {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		fv := v.Field(i)

		if opts == "squash" {
			flattenStruct(fv, prefix, out)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if fv.Kind() == reflect.Struct {
			flattenStruct(fv, key, out)
			continue
		}
		out[key] = fv.Interface()
	}
}

// Keys lists every configuration key in sorted order.
func Keys() []string {
	defaults := flattenDefaults(New())
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
