package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".pacsflow"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for pacsflow settings.
const envPrefix = "PACSFLOW"

// Load reads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// A missing config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("toolkit", DefaultToolkit)
	viperCfg.SetDefault("aet_source", DefaultAETSource)
	viperCfg.SetDefault("aet_dest", DefaultAETDest)
	viperCfg.SetDefault("pacs_host", DefaultPACSHost)
	viperCfg.SetDefault("pacs_port", DefaultPACSPort)
	viperCfg.SetDefault("pacs_rest_host", DefaultPACSRESTHost)
	viperCfg.SetDefault("runs_base_dir", "")
	viperCfg.SetDefault("batch_size_default", DefaultBatchSize)
	viperCfg.SetDefault("allowed_extensions", DefaultAllowedExtensions)
	viperCfg.SetDefault("restrict_extensions", DefaultRestrictExtensions)
	viperCfg.SetDefault("include_no_extension", DefaultIncludeNoExtension)
	viperCfg.SetDefault("collect_size_bytes", DefaultCollectSizeBytes)
	viperCfg.SetDefault("ts_mode", DefaultTSMode)
	viperCfg.SetDefault("dcm4che_send_mode", DefaultSendMode)
	viperCfg.SetDefault("dcm4che_iuid_update_mode", DefaultIUIDUpdateMode)
	viperCfg.SetDefault("dcm4che_use_shell_wrapper", DefaultUseShellWrapper)
	viperCfg.SetDefault("dcm4che_prefer_java_direct", DefaultPreferJavaDirect)
	viperCfg.SetDefault("metrics_listen", "")
}
