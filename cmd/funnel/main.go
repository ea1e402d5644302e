package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mosaicgames/chainfunnel/internal/api"
	"github.com/mosaicgames/chainfunnel/internal/config"
	"github.com/mosaicgames/chainfunnel/internal/db"
	"github.com/mosaicgames/chainfunnel/internal/funnel"
	"github.com/mosaicgames/chainfunnel/internal/listener"
	"github.com/mosaicgames/chainfunnel/internal/publisher"
	"github.com/mosaicgames/chainfunnel/internal/state"
	"github.com/mosaicgames/chainfunnel/pkg/db/postgres"
	"github.com/mosaicgames/chainfunnel/pkg/rpc"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
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

	slog.Info("starting chainfunnel",
		"network", cfg.NetworkName,
		"starting_block_height", cfg.StartingBlockHeight,
		"da_start_block", cfg.DAStartBlock,
	)

	// Connect to PostgreSQL
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

	// Optional downstream publisher
	var pub *publisher.Publisher
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to parse redis url", "err", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		pub, err = publisher.New(redisClient, cfg.BlocksTopic)
		if err != nil {
			slog.Error("failed to create publisher", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
	}

	// Chain clients
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

	store := state.NewStore()
	f, err := funnel.RecoverState(ctx, store, base, evmClient, daClient, lightClient, cursor,
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

	// A buffered nudge channel lets the WS listener wake the sync loop early.
	nudge := make(chan struct{}, 1)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runSyncLoop(ctx, f, cursor, pub, cfg, nudge)
	})

	if cfg.WSEnabled {
		lst := listener.New(listener.Config{
			URL:            cfg.DAWSURL,
			Network:        cfg.NetworkName,
			MaxRetries:     cfg.WSMaxRetries,
			ReconnectDelay: cfg.WSReconnectDelay,
		}, func(network string, height uint64) {
			select {
			case nudge <- struct{}{}:
			default:
			}
		})
		g.Go(func() error {
			slog.Info("starting websocket head listener", "url", cfg.DAWSURL)
			return lst.Run(ctx)
		})
	}

	if cfg.HTTPEnabled {
		logger, err := zap.NewProduction()
		if err != nil {
			slog.Error("failed to create zap logger", "err", err)
			os.Exit(1)
		}
		defer func() { _ = logger.Sync() }()

		srv := api.NewServer(f, logger, cfg.HTTPAddr)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("funnel error", "err", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

// runSyncLoop drains the presync backlog, then polls the funnel for
// correlated blocks, recording and publishing each emitted height.
func runSyncLoop(ctx context.Context, f *funnel.DAFunnel, cursor *postgres.Store, pub *publisher.Publisher, cfg *config.Config, nudge <-chan struct{}) error {
	if err := drainPresync(ctx, f, cfg); err != nil {
		return err
	}

	height := cfg.StartingBlockHeight
	if h, ok, err := cursor.LatestPrimaryHeight(ctx, cfg.NetworkName); err != nil {
		return err
	} else if ok && h+1 > height {
		height = h + 1
		slog.Info("resuming from recorded primary height", "height", height)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-nudge:
		}

		blocks, err := f.ReadData(ctx, height)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			slog.Error("funnel read failed", "at_height", height, "err", err)
			continue
		}
		if len(blocks) == 0 {
			continue
		}

		daHeight := uint64(0)
		if s := f.Status(); s.LastDABlock > 0 {
			daHeight = uint64(s.LastDABlock)
		}

		for _, b := range blocks {
			if err := cursor.RecordProcessed(ctx, cfg.NetworkName, b.BlockNumber, daHeight); err != nil {
				return err
			}
			if pub != nil {
				if err := pub.PublishBlock(ctx, cfg.NetworkName, b.BlockNumber, daHeight); err != nil {
					return err
				}
			}
		}

		last := blocks[len(blocks)-1]
		slog.Info("blocks emitted",
			"network", cfg.NetworkName,
			"from", blocks[0].BlockNumber,
			"to", last.BlockNumber,
			"da_height", daHeight,
		)
		height = last.BlockNumber + 1
	}
}

// drainPresync reads the DA chain's historical backlog in group-size ranges
// until the funnel reports it finished.
func drainPresync(ctx context.Context, f *funnel.DAFunnel, cfg *config.Config) error {
	from := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := f.ReadPresyncData(ctx, map[string]funnel.BlockRange{
			cfg.NetworkName: {From: from, To: from + cfg.BlockGroupSize - 1},
		})
		if err != nil {
			return err
		}

		r := res[cfg.NetworkName]
		if r.Finished {
			slog.Info("presync finished", "network", cfg.NetworkName)
			return nil
		}

		slog.Info("presync progress",
			"network", cfg.NetworkName,
			"from", from,
			"blocks_with_data", len(r.Data),
		)
		from += cfg.BlockGroupSize
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
