package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/browser/chromedp"
	"github.com/JakeFAU/profile-extractor/internal/browser/rod"
	"github.com/JakeFAU/profile-extractor/internal/classifier"
	"github.com/JakeFAU/profile-extractor/internal/clock/system"
	internalconfig "github.com/JakeFAU/profile-extractor/internal/config"
	"github.com/JakeFAU/profile-extractor/internal/extract"
	"github.com/JakeFAU/profile-extractor/internal/id/uuid"
	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/retry"
	"github.com/JakeFAU/profile-extractor/internal/session"
	"github.com/JakeFAU/profile-extractor/internal/sink"
	filesink "github.com/JakeFAU/profile-extractor/internal/sink/file"
	gcssink "github.com/JakeFAU/profile-extractor/internal/sink/gcs"
	pubsubsink "github.com/JakeFAU/profile-extractor/internal/sink/pubsub"
	"github.com/JakeFAU/profile-extractor/internal/stabilize"
)

// pipeline is the fully wired extraction stack for one CLI run.
type pipeline struct {
	pool        *session.Pool
	coordinator *retry.Coordinator
	sink        profile.Sink
	closers     []func() error
}

// Close releases cloud clients after the sink has been closed.
func (p *pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.sink != nil {
		if err := p.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildPipeline(ctx context.Context, cfg internalconfig.Config, stdout io.Writer, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{}
	clock := system.New()

	pool, err := session.NewPool(
		session.Config{
			Tiers:        cfg.Pool.Tiers,
			Fingerprints: cfg.Pool.Fingerprints,
			MaxUses:      cfg.Pool.MaxUses,
		},
		session.NewStaticProvisioner(cfg.Pool.Endpoints),
		uuid.NewWithPrefix("sess-"),
		clock,
		logger.Named("pool"),
	)
	if err != nil {
		return nil, fmt.Errorf("init session pool: %w", err)
	}
	p.pool = pool

	browsers, err := buildBrowserFactory(cfg.Browser, logger.Named("browser"))
	if err != nil {
		return nil, err
	}

	stabilizer := stabilize.New(stabilize.Config{
		NavigationTimeout: cfg.Stabilize.NavigationTimeout,
		SettleTimeout:     cfg.Stabilize.SettleTimeout,
		QuietWindow:       cfg.Stabilize.QuietWindow,
		AnchorTimeout:     cfg.Stabilize.AnchorTimeout,
		ContextLostDelay:  cfg.Stabilize.ContextLostDelay,
		Anchors:           cfg.Stabilize.Anchors,
	}, logger.Named("stabilize"))

	engine, err := extract.New(
		extract.MergeFieldSpecs(extract.DefaultFieldSpecs(), cfg.Extract.Fields),
		logger.Named("extract"),
	)
	if err != nil {
		return nil, fmt.Errorf("init extraction engine: %w", err)
	}

	coordinator, err := retry.New(
		retry.Config{
			MaxRetries:         cfg.Retry.MaxRetries,
			DegradedMaxRetries: cfg.Retry.DegradedMaxRetries,
			BaseBackoff:        cfg.Retry.BaseBackoff,
			MaxBackoff:         cfg.Retry.MaxBackoff,
			HostQPS:            cfg.Retry.HostQPS,
		},
		pool,
		browsers,
		stabilizer,
		classifier.New(cfg.Classifier.Markers),
		engine,
		clock,
		logger.Named("retry"),
	)
	if err != nil {
		return nil, fmt.Errorf("init retry coordinator: %w", err)
	}
	p.coordinator = coordinator

	out, err := p.buildSinks(ctx, cfg.Sink, stdout, logger.Named("sink"))
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.sink = out
	return p, nil
}

func buildBrowserFactory(cfg internalconfig.BrowserConfig, logger *zap.Logger) (profile.BrowserFactory, error) {
	switch cfg.Engine {
	case internalconfig.EngineRod:
		return rod.New(rod.Config{
			Headless: cfg.Headless,
			Bin:      cfg.ExecPath,
			Stealth:  cfg.Stealth,
		}, logger), nil
	case internalconfig.EngineChromedp, "":
		f, err := chromedp.New(chromedp.Config{
			Headless:    cfg.Headless,
			ExecPath:    cfg.ExecPath,
			MaxParallel: cfg.MaxParallel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init chromedp: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

func (p *pipeline) buildSinks(ctx context.Context, cfg internalconfig.SinkConfig, stdout io.Writer, logger *zap.Logger) (profile.Sink, error) {
	var sinks []profile.Sink
	for _, kind := range cfg.Kinds {
		switch kind {
		case internalconfig.SinkStdout:
			sinks = append(sinks, sink.NewWriter(stdout))
		case internalconfig.SinkFile:
			s, err := filesink.New(cfg.File.Dir, logger)
			if err != nil {
				return nil, fmt.Errorf("init file sink: %w", err)
			}
			sinks = append(sinks, s)
		case internalconfig.SinkGCS:
			client, err := storage.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("init storage client: %w", err)
			}
			p.closers = append(p.closers, client.Close)
			s, err := gcssink.New(client, gcssink.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
			if err != nil {
				return nil, fmt.Errorf("init gcs sink: %w", err)
			}
			sinks = append(sinks, s)
		case internalconfig.SinkPubSub:
			client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("init pubsub client: %w", err)
			}
			p.closers = append(p.closers, client.Close)
			s, err := pubsubsink.New(client, cfg.PubSub.Topic)
			if err != nil {
				return nil, fmt.Errorf("init pubsub sink: %w", err)
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unknown sink %q", kind)
		}
	}
	return sink.NewMulti(sinks...), nil
}
