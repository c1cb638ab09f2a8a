// Command lorekeep ingests documents into a vector index and answers
// questions over them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/pkg/config"
	"github.com/lorekeep/lorekeep/pkg/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	cfg *config.Config
	log *slog.Logger
	reg *metrics.Registry

	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

// close runs the registered closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newRootCmd() *cobra.Command {
	a := &app{reg: metrics.New()}
	var cfgPath string

	root := &cobra.Command{
		Use:           "lorekeep",
		Short:         "Index documents and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = cfg.Logger(cmd.ErrOrStderr())
			slog.SetDefault(a.log)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("LOREKEEP_CONFIG", "lorekeep.yaml"), "config file")

	root.AddCommand(
		newIngestCmd(a),
		newAskCmd(a),
		newSearchCmd(a),
		newDeleteCmd(a),
		newDocsCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
