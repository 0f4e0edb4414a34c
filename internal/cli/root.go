// Package cli holds the gochat commands.
package cli

import (
	"io"
	"os"

	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel   string
	PrettyLogs bool

	// LogOutput overrides where logs are written (for testing).
	LogOutput io.Writer
}

func (o *RootOptions) logger() (zerolog.Logger, error) {
	w := o.LogOutput
	if w == nil {
		w = os.Stderr
	}

	return logging.New(w, o.LogLevel, o.PrettyLogs)
}

// NewRootCommand creates the gochat command tree. Flag defaults are read
// from the environment, so load any .env file before calling it.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "gochat",
		Short:         "Realtime chat hub and terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", config.Env("GOCHAT_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.PrettyLogs, "pretty-logs", config.Env("GOCHAT_PRETTY_LOGS", "") == "true", "human readable log output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))
	cmd.AddCommand(NewAddUserCommand(opts))

	return cmd
}
