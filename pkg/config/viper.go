// Package config initializes the process-wide Viper instance used by the CLI.
// Settings come from an optional config file, PROFILE_* environment variables
// and command-line flags bound by the cobra commands.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	internalconfig "github.com/JakeFAU/profile-extractor/internal/config"
	"github.com/JakeFAU/profile-extractor/internal/logging"
)

// File is an explicit config path set by the --config flag. When empty the
// standard search paths are used.
var File string

// InitConfig registers defaults, search paths and environment bindings on the
// global Viper instance, then reads the config file if one exists.
func InitConfig() {
	initViper(viper.GetViper(), File)
}

func initViper(v *viper.Viper, file string) {
	internalconfig.SetDefaults(v)

	v.SetEnvPrefix(internalconfig.EnvPrefix) // e.g. PROFILE_RETRY_MAX_RETRIES=4
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/profile-extractor/")
		v.AddConfigPath("$HOME/.profile-extractor")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logging.L.Debug("Config file not found; using defaults and environment variables.")
			return
		}
		logging.L.Error("Error reading config file", zap.Error(err))
		return
	}
	logging.L.Info("Using config file", zap.String("path", v.ConfigFileUsed()))
}
