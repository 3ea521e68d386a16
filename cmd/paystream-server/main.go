package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/Rampop01/streamit/events"
	ginrouter "github.com/Rampop01/streamit/gin"
	x402grpc "github.com/Rampop01/streamit/grpc"
	"github.com/Rampop01/streamit/internal/config"
	"github.com/Rampop01/streamit/recheck"
	"github.com/Rampop01/streamit/stacks"
	"github.com/Rampop01/streamit/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

// catalog is a content repository that can be seeded.
type catalog interface {
	x402.ContentRepository
	Seed(ctx context.Context, items []x402.Content) error
}

// ledger records payments and hands pending ones to the recheck job.
type ledger interface {
	x402.PaymentLedger
	recheck.PendingStore
}

type backends struct {
	catalog catalog
	ledger  ledger
	cache   x402.VerificationCache
	events  x402.EventPublisher
	closers []io.Closer
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i].Close()
	}
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	seed := flag.Bool("seed", false, "write the sample catalog before serving")
	usage := flag.Bool("usage", false, "print the supported environment variables and exit")
	flag.Parse()

	if *usage {
		(&config.ServerConfig{}).OutputUsage(os.Stdout)
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *seed, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig, seed bool, logger *slog.Logger) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if seed {
		if err := b.catalog.Seed(ctx, store.SampleCatalog(time.Now())); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		logger.Info("sample catalog written")
	}

	receipts, err := x402.NewReceiptIssuer([]byte(cfg.ReceiptSecret), cfg.ReceiptTTL)
	if err != nil {
		return err
	}

	indexer := stacks.NewClient(cfg.Indexer(),
		stacks.WithRetry(cfg.IndexerMaxRetries, 0),
		stacks.WithLogger(logger),
	)

	engine, err := x402.NewEngine(x402.Config{
		Repository:     b.catalog,
		Indexer:        indexer,
		Network:        x402.Network(cfg.Network),
		FacilitatorURL: cfg.FacilitatorURL,
		Policy:         cfg.Policy(),
		IndexerTimeout: cfg.IndexerTimeout,
		Receipts:       receipts,
		Cache:          b.cache,
		Ledger:         b.ledger,
		Events:         b.events,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	handler, err := httpHandler(cfg, engine)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "port", cfg.Port, "router", cfg.Router, "network", cfg.Network)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GrpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GrpcPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(
			x402grpc.UnaryServerInterceptor(engine, healthpb.Health_Check_FullMethodName),
		))
		healthpb.RegisterHealthServer(grpcServer, health.NewServer())
		go func() {
			logger.Info("grpc server listening", "port", cfg.GrpcPort)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var scheduler *recheck.Scheduler
	if cfg.RecheckSchedule != "" {
		job := recheck.NewJob(b.ledger, engine, b.events, logger)
		scheduler, err = recheck.NewScheduler(job, cfg.RecheckSchedule, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func httpHandler(cfg *config.ServerConfig, engine *x402.Engine) (http.Handler, error) {
	if cfg.Router == config.RouterGin {
		return ginrouter.NewRouter(engine, cfg.AllowedOrigins), nil
	}
	return x402.NewHandler(engine, cfg.AllowedOrigins)
}

// openBackends picks Postgres, Redis and RabbitMQ when configured and falls
// back to the JSON file, the in-process LRU and the log.
func openBackends(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.DatabaseURL != "" {
		db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db)
		if err := store.CreateTables(ctx, db); err != nil {
			b.Close()
			return nil, err
		}
		b.catalog = store.NewPostgresRepository(db)
		b.ledger = store.NewPostgresLedger(db)
		logger.Info("using postgres storage")
	} else {
		repo, err := store.NewFileRepository(cfg.DataFile)
		if err != nil {
			return nil, err
		}
		b.catalog = repo
		b.ledger = store.NewMemoryLedger()
		logger.Info("using file storage", "path", cfg.DataFile)
	}

	if cfg.RedisURL != "" {
		client, err := store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.closers = append(b.closers, client)
		b.cache = store.NewRedisCache(client, x402.DefaultCacheTTL, logger)
	}

	publishers := events.MultiPublisher{events.NewLogPublisher(logger)}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, amqpPub)
		publishers = append(publishers, amqpPub)
	}
	b.events = publishers

	return b, nil
}
