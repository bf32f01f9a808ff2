// Package cli is the headless participant: it joins a room through the
// relay with synthetic media and drives it from stdin.
package cli

import (
	"log/slog"
	"os"

	"github.com/immxrtalbeast/meshconf/lib/logger/slogpretty"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "participant",
	Short: "Headless mesh conference participant",
	Long: `participant joins a mesh room through the signaling relay, connects
directly to every other participant and sends synthetic audio and video.

Examples:
  participant join --room standup --name alice
  participant rooms --room standup`,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		PrintError(err.Error())
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// setupLogger writes to stderr so chat and roster output on stdout stays
// readable.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	case envLocal:
		fallthrough
	default:
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelInfo},
		}
		return slog.New(opts.NewPrettyHandler(os.Stderr))
	}
}
