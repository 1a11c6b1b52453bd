package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/api"
	internalconfig "github.com/JakeFAU/profile-extractor/internal/config"
	"github.com/JakeFAU/profile-extractor/internal/dispatcher"
	"github.com/JakeFAU/profile-extractor/internal/id/uuid"
	"github.com/JakeFAU/profile-extractor/internal/profile"
)

type extractOptions struct {
	urls  []string
	input string
}

// newExtractCmd creates the 'extract' subcommand.
func newExtractCmd() *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extracts one or more profiles with a live browser",
		Long: `Loads each profile URL through the session pool, retrying blocked
attempts on fresh identities, and emits one record or failure per URL to the
configured sinks. Exits non-zero when any request fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringArrayVar(&opts.urls, "url", nil, "profile URL to extract (repeatable)")
	cmd.Flags().StringVar(&opts.input, "input", "", `JSON input file of the form {"profileUrl": "..."}`)
	return cmd
}

func runExtract(ctx context.Context, opts *extractOptions, stdout io.Writer) error {
	e, err := envFrom(ctx)
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	targets, err := internalconfig.ResolveTargets(opts.urls, opts.input, cfg.Input)
	if err != nil {
		return err
	}
	reqs, err := newRequests(targets, uuid.New())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Failed to close pipeline", zap.Error(cerr))
		}
	}()

	opsCtx, stopOps := context.WithCancel(ctx)
	defer stopOps()
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := api.NewServer(p.pool, logger.Named("ops"))
		go func() {
			if serr := srv.ListenAndServe(opsCtx, addr); serr != nil {
				logger.Error("ops server failed", zap.Error(serr))
			}
		}()
	}

	summary, err := dispatcher.New(p.coordinator, p.sink, cfg.Dispatcher.Concurrency, logger.Named("dispatcher")).
		Run(ctx, reqs)
	if err != nil {
		return fmt.Errorf("emit outcomes: %w", err)
	}

	logger.Info("Extract command finished.",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d requests failed", summary.Failed, len(reqs))
	}
	return nil
}

func newRequests(targets []string, ids profile.IDGenerator) ([]profile.ProfileRequest, error) {
	if len(targets) == 0 {
		return nil, errors.New("no targets")
	}
	reqs := make([]profile.ProfileRequest, 0, len(targets))
	for _, t := range targets {
		id, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate request id: %w", err)
		}
		reqs = append(reqs, profile.ProfileRequest{TargetURL: t, RequestID: id})
	}
	return reqs, nil
}
