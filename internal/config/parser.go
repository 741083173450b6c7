package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PYRONOTES_BACKEND_URL.
const EnvPrefix = "PYRONOTES"

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"backend":      "backend.url",
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
}

// Parse reads JSONC configuration content layered over base, environment
// variables, and any changed flags.
func Parse(content string, base Config, flags *pflag.FlagSet) (Config, []Warning, error) {
	v := newViper(base)

	if strings.TrimSpace(content) != "" {
		if err := readJSONC(v, content); err != nil {
			return Config{}, nil, err
		}
	}
	if err := bindFlags(v, flags); err != nil {
		return Config{}, nil, err
	}

	cfg := fromViper(v)
	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func newViper(base Config) *viper.Viper {
	v := viper.New()
	setDefaults(v, base)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}
