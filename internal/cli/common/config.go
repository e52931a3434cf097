// Package common holds what every boardforge command shares: configuration
// layering, logger and progress output selection, and exit codes.
package common

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/schererja/boardforge/internal/config"
)

// DefaultConfigFile is read from the working directory when --config is unset.
const DefaultConfigFile = "boardforge.yaml"

// EnvPrefix prefixes every environment override, e.g. BOARDFORGE_BUCKET.
const EnvPrefix = "BOARDFORGE"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"board":       "board",
	"clean":       "clean",
	"bucket":      "bucket",
	"suffix":      "suffix",
	"skip-build":  "skip_build",
	"skip-upload": "skip_upload",
	"engine-dir":  "engine.dir",
	"tool":        "engine.tool",
	"output-dir":  "engine.output_dir",
	"workers":     "upload.workers",
	"verify":      "upload.verify",
	"history":     "history.path",
}

// envKeys can only be set from the file or the environment.
var envKeys = []string{
	"engine.check_docker",
	"engine.docker_image",
	"upload.max_attempts",
	"history.disabled",
	"storage.s3.endpoint",
	"storage.s3.region",
	"storage.s3.access_key",
	"storage.s3.secret_key",
	"storage.azure.account_url",
}

// InitViper configures environment lookups.
func InitViper() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// BindFlags binds the command's known flags to their configuration keys. It
// runs when the command executes so that commands sharing a flag name do
// not steal each other's bindings.
func BindFlags(cmd *cobra.Command) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			errs = append(errs, viper.BindPFlag(key, f))
		}
	})
	for _, key := range flagKeys {
		errs = append(errs, viper.BindEnv(key))
	}
	for _, key := range envKeys {
		errs = append(errs, viper.BindEnv(key))
	}
	return errors.Join(errs...)
}

// LoadConfig reads the YAML file named by --config (or boardforge.yaml when
// present) and layers environment variables and explicitly set flags on
// top, in that order.
func LoadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(DefaultConfigFile)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	overlay(cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

func overlay(cfg *config.Config) {
	setString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}
	setInt := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}

	setString("board", &cfg.Board)
	setBool("clean", &cfg.Clean)
	setString("bucket", &cfg.Bucket)
	setString("suffix", &cfg.Suffix)
	setBool("skip_build", &cfg.SkipBuild)
	setBool("skip_upload", &cfg.SkipUpload)
	setString("engine.dir", &cfg.Engine.Dir)
	setString("engine.tool", &cfg.Engine.Tool)
	setString("engine.output_dir", &cfg.Engine.OutputDir)
	setBool("upload.verify", &cfg.Upload.Verify)
	setBool("engine.check_docker", &cfg.Engine.CheckDocker)
	setString("engine.docker_image", &cfg.Engine.DockerImage)
	setString("history.path", &cfg.History.Path)
	setBool("history.disabled", &cfg.History.Disabled)
	setString("storage.s3.endpoint", &cfg.Storage.S3.Endpoint)
	setString("storage.s3.region", &cfg.Storage.S3.Region)
	setString("storage.s3.access_key", &cfg.Storage.S3.AccessKey)
	setString("storage.s3.secret_key", &cfg.Storage.S3.SecretKey)
	setString("storage.azure.account_url", &cfg.Storage.Azure.AccountURL)
	setInt("upload.workers", &cfg.Upload.Workers)
	setInt("upload.max_attempts", &cfg.Upload.MaxAttempts)
}

// Verbose reports whether --verbose, BOARDFORGE_VERBOSE or DEBUG=1 is set.
func Verbose() bool {
	return viper.GetBool("verbose") || os.Getenv("DEBUG") == "1"
}
