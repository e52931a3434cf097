package order

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schererja/boardforge/internal/cli/common"
	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/engine"
)

// New returns the order command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the package build order of a board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.BindFlags(cmd); err != nil {
				return err
			}
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resolver := engine.NewResolver(cfg.Engine.Tool, cfg.Engine.Dir, common.NewLogger(common.Verbose()))
			resolver.SetEnv(cfg.Engine.Env)
			packages, err := resolver.Resolve(ctx, cfg.Board)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range packages {
				fmt.Fprintf(w, "%4d  %s\n", p.Ordinal+1, p.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringP("board", "b", config.DefaultBoard, "board to resolve")
	cmd.Flags().String("engine-dir", "", "directory the build engine runs in")
	cmd.Flags().String("tool", "", "build engine front-end executable")
	return cmd
}
