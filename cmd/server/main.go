package main

import (
	"context"
	"errors"
	"flag"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fracx/api/grpcserver"
	"fracx/api/httpserver"
	"fracx/api/ws"
	"fracx/domain/asset"
	"fracx/domain/event"
	"fracx/infra/config"
	"fracx/infra/kafka"
	"fracx/infra/logger"
	"fracx/infra/outbox"
	"fracx/infra/rooms"
	"fracx/infra/sequence"
	"fracx/infra/store"
	"fracx/jobs/broadcaster"
	"fracx/service"
	"fracx/snapshot"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)

	if err := run(cfg, log); err != nil {
		log.Error("engine exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("engine stopped")
	_ = log.Sync()
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Prices go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- State ----------------

	assets := asset.NewRegistry(asset.DefaultCatalog())
	orders := store.NewOrderLedger(nil)
	trades := store.NewTradeLedger()
	books := snapshot.NewStore()
	hub := rooms.NewHub(log)

	// ---------------- Event bus ----------------

	seq := sequence.New(0)
	sinks := []event.Sink{hub}

	var bc *broadcaster.Broadcaster
	if cfg.Kafka.Enabled {
		ob, err := outbox.Open(cfg.Outbox.Dir)
		if err != nil {
			return err
		}
		defer func() { _ = ob.Close() }()

		last, err := ob.LastSeq()
		if err != nil {
			return err
		}
		seq.Advance(last)

		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc = broadcaster.New(ob, producer, cfg.Kafka.EventsTopic, cfg.Outbox.DrainInterval, log)
		defer func() { _ = bc.Close() }()

		sinks = append(sinks, ob)
	}
	bus := event.NewBus(seq, log, sinks...)

	// ---------------- Services ----------------

	engine := service.NewMatchingEngine(assets, orders, trades, books, log)
	svc := service.NewOrderService(engine, assets, orders, trades, books, bus, log)

	simCfg := service.SimulatorConfig{Interval: cfg.Simulator.TickInterval, Depth: cfg.Book.Depth}
	if cfg.Simulator.Seed != 0 {
		simCfg.Rand = rand.New(rand.NewPCG(cfg.Simulator.Seed, cfg.Simulator.Seed>>1))
	}
	sim := service.NewSimulator(assets, orders, books, engine, bus, simCfg, log)
	if cfg.Simulator.Autostart {
		if err := sim.Start(ctx); err != nil {
			return err
		}
	}
	defer sim.Stop()

	// ---------------- Transports ----------------

	gateway := ws.NewGateway(svc, hub, cfg.Server.CORSOrigins, cfg.Book.Depth, log)
	api := httpserver.New(svc, sim, httpserver.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		BookDepth:   cfg.Book.Depth,
		WebSocket:   gateway,
	}, log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcserver.NewGRPCServer(grpcserver.NewServer(svc, hub, log), log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		return grpcSrv.Serve(lis)
	})

	if bc != nil {
		g.Go(func() error {
			bc.Run(gctx)
			return nil
		})

		intake := kafka.NewIntake(
			kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.GroupID),
			svc, log,
		)
		g.Go(func() error {
			defer func() { _ = intake.Close() }()
			return intake.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
