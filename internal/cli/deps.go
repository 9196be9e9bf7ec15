package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/querytrail/querytrail/internal/config"
	"github.com/querytrail/querytrail/internal/correlate"
	"github.com/querytrail/querytrail/internal/extract"
	"github.com/querytrail/querytrail/internal/pipeline"
	"github.com/querytrail/querytrail/internal/report"
	"github.com/querytrail/querytrail/internal/state"
	"github.com/querytrail/querytrail/internal/storage"
	"github.com/querytrail/querytrail/internal/trail"
)

// runtime is the fully wired pipeline for one config. All service clients are
// constructed here, once, and passed down explicitly.
type runtime struct {
	location   *time.Location
	processor  *pipeline.HourProcessor
	dispatcher *pipeline.Dispatcher
	states     *state.Store
}

// buildRuntime validates cfg and wires every component.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	store := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Bucket)
	fetcher := trail.NewFetcher(cloudtrail.NewFromConfig(awsCfg), cfg.Fetch, logger)
	correlator := correlate.New(athena.NewFromConfig(awsCfg), logger)
	extractor := extract.New(correlator, loc, logger)
	sink := report.NewSink(store, cfg.OutputType, loc)
	states := state.NewStore(store)

	processor := pipeline.NewHourProcessor(fetcher, extractor, sink, states, loc, logger)
	dispatcher := pipeline.NewDispatcher(
		processor,
		sfn.NewFromConfig(awsCfg),
		cfg.StateMachineARN,
		cfg.Dispatch.HourWorkers,
		logger,
	)

	return &runtime{
		location:   loc,
		processor:  processor,
		dispatcher: dispatcher,
		states:     states,
	}, nil
}

// yesterday returns the previous calendar day in loc.
func yesterday(loc *time.Location) time.Time {
	return time.Now().In(loc).AddDate(0, 0, -1)
}
