package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meikuraledutech/pipeline/module"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Configuration keys. Each is also read from PIPECTL_<KEY> with dashes
// replaced by underscores.
const (
	keyConfig       = "config"
	keyLogLevel     = "log-level"
	keyLogFormat    = "log-format"
	keyDatabaseURL  = "database-url"
	keyStrict       = "strict"
	keyAddr         = "addr"
	keyModules      = "modules"
	defaultAddr     = ":3000"
	configName      = "pipectl"
	envPrefix       = "PIPECTL"
	legacyDBURLName = "DATABASE_URL"
)

// moduleConfig is one entry of the modules list in pipectl.yaml.
type moduleConfig struct {
	ID         string         `mapstructure:"id"`
	Executable string         `mapstructure:"executable"`
	Imports    []string       `mapstructure:"imports"`
	Exports    []string       `mapstructure:"exports"`
	Schema     map[string]any `mapstructure:"schema"`
	SchemaFile string         `mapstructure:"schema-file"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(keyDatabaseURL, envPrefix+"_DATABASE_URL", legacyDBURLName)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "console")
	v.SetDefault(keyAddr, defaultAddr)
	return v
}

// readConfig loads the config file named by --config, or pipectl.yaml from
// the working directory when present.
func readConfig(v *viper.Viper) error {
	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("pipectl: read config: %w", err)
	}
	return nil
}

// loadCatalog builds the module catalog from the modules key. Relative
// executable and schema paths resolve against the config file's directory.
func loadCatalog(v *viper.Viper) (*module.Catalog, error) {
	var mods []moduleConfig
	if err := v.UnmarshalKey(keyModules, &mods); err != nil {
		return nil, fmt.Errorf("pipectl: decode modules: %w", err)
	}

	base := "."
	if used := v.ConfigFileUsed(); used != "" {
		base = filepath.Dir(used)
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || !strings.ContainsRune(p, filepath.Separator) {
			return p
		}
		return filepath.Join(base, p)
	}

	defs := make([]*module.Definition, 0, len(mods))
	for _, m := range mods {
		def := &module.Definition{
			Name:    m.ID,
			Path:    resolve(m.Executable),
			Imports: m.Imports,
			Exports: m.Exports,
		}
		switch {
		case m.SchemaFile != "":
			raw, err := os.ReadFile(resolve(m.SchemaFile))
			if err != nil {
				return nil, fmt.Errorf("pipectl: module %s: %w", m.ID, err)
			}
			def.Schema = raw
		case m.Schema != nil:
			raw, err := json.Marshal(m.Schema)
			if err != nil {
				return nil, fmt.Errorf("pipectl: module %s: encode schema: %w", m.ID, err)
			}
			def.Schema = raw
		}
		defs = append(defs, def)
	}
	return module.NewCatalog(defs...)
}

// newLogger builds a zap logger. The json format uses the production
// encoder, console the development one.
func newLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("pipectl: unknown log format %q", format)
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("pipectl: %w", err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
