package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	artifactscmd "github.com/schererja/boardforge/internal/cli/artifacts"
	buildcmd "github.com/schererja/boardforge/internal/cli/build"
	"github.com/schererja/boardforge/internal/cli/common"
	historycmd "github.com/schererja/boardforge/internal/cli/history"
	ordercmd "github.com/schererja/boardforge/internal/cli/order"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boardforge",
		Short: "Build board images and publish them to object storage",
		Long: `Boardforge drives the board build engine for one target, shows live progress
while packages are built, and publishes the resulting images, checksums, boot
archive and version marker to S3, Azure Blob Storage or a local directory.`,
		Version:       "0.1.0-dev",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+common.DefaultConfigFile+")")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("verbose", cmd.PersistentFlags().Lookup("verbose"))

	cmd.AddCommand(buildcmd.New())
	cmd.AddCommand(ordercmd.New())
	cmd.AddCommand(artifactscmd.New())
	cmd.AddCommand(historycmd.New())
	return cmd
}

func init() {
	cobra.OnInitialize(common.InitViper)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *common.ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
