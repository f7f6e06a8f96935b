package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"booth-bridge/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errMissingProject = errors.New("a Unity project path is required (booth-bridge <projectPath> or --projectPath)")

// rootCmd runs the relay when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "booth-bridge [projectPath]",
	Short: "Relay BOOTH purchases into a Unity project",
	Long: `Runs the local relay used by the BOOTH browser extension and the Unity
editor window: it stores the synced library, watches the Downloads folder
and stages .unitypackage files from downloaded archives.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, err := projectPathArg(cmd, args)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, projectPath)
	},
}

func init() {
	rootCmd.PersistentFlags().String("projectPath", "", "Unity project root (alternative to the positional argument)")
}

// projectPathArg prefers the positional argument over --projectPath.
func projectPathArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if p, _ := cmd.Flags().GetString("projectPath"); p != "" {
		return p, nil
	}
	return "", errMissingProject
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Log.Errorw("Command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		logger.Sync()
		os.Exit(1)
	}
}
