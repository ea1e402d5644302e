// Command presync drains the DA chain's historical backlog ahead of a live
// sync run, reporting progress as it goes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mosaicgames/chainfunnel/internal/config"
	"github.com/mosaicgames/chainfunnel/internal/db"
	"github.com/mosaicgames/chainfunnel/internal/funnel"
	"github.com/mosaicgames/chainfunnel/internal/state"
	"github.com/mosaicgames/chainfunnel/pkg/db/postgres"
	"github.com/mosaicgames/chainfunnel/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	if cfg.DAStartBlock == 0 {
		slog.Info("no presync backlog configured, nothing to do")
		return
	}

	pool, err := db.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	cursor := postgres.NewStore(pool)
	if err := cursor.Init(ctx); err != nil {
		slog.Error("failed to init cursor store", "err", err)
		os.Exit(1)
	}

	evmClient := rpc.NewEVMClient(rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints: []string{cfg.EVMRPCURL},
		RPS:       cfg.RPCRPS,
		Burst:     cfg.RPCBurst,
	}))
	daClient := rpc.NewDAClient(rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints: []string{cfg.DARPCURL},
		RPS:       cfg.RPCRPS,
		Burst:     cfg.RPCBurst,
	}))
	lightClient := rpc.NewLightClient(cfg.DALightClientURL, nil)

	base := funnel.NewBaseFunnel(evmClient, "evm", cfg.BlockGroupSize)

	f, err := funnel.RecoverState(ctx, state.NewStore(), base, evmClient, daClient, lightClient, cursor,
		funnel.Config{
			Network:           cfg.NetworkName,
			ConfirmationDepth: cfg.ConfirmationDepth,
			DelaySeconds:      cfg.DelaySeconds,
			BlockGroupSize:    cfg.BlockGroupSize,
			PollInterval:      cfg.PollInterval,
		},
		state.BootstrapConfig{
			StartingBlockHeight: cfg.StartingBlockHeight,
			DAStartBlock:        cfg.DAStartBlock,
			DelaySeconds:        cfg.DelaySeconds,
		},
	)
	if err != nil {
		slog.Error("failed to recover funnel state", "err", err)
		os.Exit(1)
	}

	slog.Info("starting presync",
		"network", cfg.NetworkName,
		"da_start_block", cfg.DAStartBlock,
		"group_size", cfg.BlockGroupSize,
	)

	start := time.Now()
	var processed, withData atomic.Uint64

	g, gCtx := errgroup.WithContext(ctx)

	progressCtx, cancelProgress := context.WithCancel(gCtx)
	defer cancelProgress()
	g.Go(func() error {
		reportProgress(progressCtx, cfg.DAStartBlock, &processed, &withData)
		return nil
	})

	g.Go(func() error {
		defer cancelProgress()
		from := uint64(0)
		for {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			res, err := f.ReadPresyncData(gCtx, map[string]funnel.BlockRange{
				cfg.NetworkName: {From: from, To: from + cfg.BlockGroupSize - 1},
			})
			if err != nil {
				return err
			}

			r := res[cfg.NetworkName]
			if r.Finished {
				return nil
			}

			end := from + cfg.BlockGroupSize
			if end > cfg.DAStartBlock {
				end = cfg.DAStartBlock
			}
			processed.Add(end - from)
			withData.Add(uint64(len(r.Data)))
			from += cfg.BlockGroupSize
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("presync failed", "err", err)
		os.Exit(1)
	}

	slog.Info("presync complete",
		"network", cfg.NetworkName,
		"blocks_processed", processed.Load(),
		"blocks_with_data", withData.Load(),
		"duration", time.Since(start).Round(time.Second),
	)
}

// reportProgress logs presync progress at regular intervals.
func reportProgress(ctx context.Context, total uint64, processed, withData *atomic.Uint64) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := processed.Load()

			elapsed := time.Since(startTime)
			rate := float64(p) / elapsed.Seconds()

			var eta time.Duration
			if rate > 0 && p < total {
				remaining := total - p
				eta = time.Duration(float64(remaining)/rate) * time.Second
			}

			slog.Info("presync progress",
				"processed", p,
				"total", total,
				"with_data", withData.Load(),
				"rate_per_sec", int(rate),
				"eta", eta.Round(time.Second),
			)
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
