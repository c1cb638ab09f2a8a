package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/rag"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		k       int
		remote  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			question := strings.Join(args, " ")
			if k <= 0 {
				k = a.cfg.Retrieve.K
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if remote {
				nc, err := a.connectNATS()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				ans, err := rag.AskRemote(ctx, nc, rag.AskRequest{Question: question, K: k})
				if err != nil {
					return err
				}
				renderAnswer(cmd.OutOrStdout(), ans)
				return nil
			}

			svc, _, err := a.ragService(ctx)
			if err != nil {
				return err
			}
			ans, err := svc.AskK(ctx, question, k)
			if errors.Is(err, domain.ErrGenerationUnavailable) {
				renderAnswer(cmd.OutOrStdout(), svc.Fallback(question))
				return err
			}
			if err != nil {
				return err
			}
			renderAnswer(cmd.OutOrStdout(), ans)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "passages to retrieve (default from config)")
	cmd.Flags().BoolVar(&remote, "remote", false, "ask a worker over NATS")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "with --remote, how long to wait for an answer")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the passages most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if k <= 0 {
				k = a.cfg.Retrieve.K
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			_, r, err := a.ragService(ctx)
			if err != nil {
				return err
			}
			chunks, err := r.Retrieve(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			renderSources(cmd.OutOrStdout(), chunks)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "passages to retrieve (default from config)")
	return cmd
}
