// File: internal/service/initializers.go
package service

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/fluentweb/internal/config"
	"github.com/xkilldash9x/fluentweb/internal/observability"
)

// LoadConfig reads cfgFile, or ./config.yaml when cfgFile is empty, on top of
// the defaults. A missing default file is not an error. FLUENTWEB_*
// environment variables override file values.
func LoadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, err
	}
	observability.InitializeLogger(cfg.Logger)
	return cfg, nil
}
