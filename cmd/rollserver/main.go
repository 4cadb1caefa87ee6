// Package main runs the Telnet dice roll server and, when enabled, the gRPC
// roll service.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/dicenotation/internal/config"
	"github.com/cory-johannsen/dicenotation/internal/dice"
	"github.com/cory-johannsen/dicenotation/internal/frontend/handlers"
	"github.com/cory-johannsen/dicenotation/internal/frontend/telnet"
	"github.com/cory-johannsen/dicenotation/internal/observability"
	"github.com/cory-johannsen/dicenotation/internal/preset"
	"github.com/cory-johannsen/dicenotation/internal/rollservice"
	"github.com/cory-johannsen/dicenotation/internal/scripting"
	"github.com/cory-johannsen/dicenotation/internal/server"
	"github.com/cory-johannsen/dicenotation/internal/storage/postgres"
)

const healthInterval = 30 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "rollserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting roll server",
		zap.String("telnet_addr", cfg.Telnet.Addr()),
		zap.String("source", cfg.Roller.Source),
		zap.Bool("history", cfg.History.Enabled),
		zap.Bool("rpc", cfg.RPC.Enabled),
	)

	src, err := dice.NewSource(cfg.Roller.Source, cfg.Roller.Seed)
	if err != nil {
		logger.Fatal("creating random source", zap.Error(err))
	}
	roller := dice.NewLoggedRoller(src, logger.Named("dice"))

	var presets *preset.Library
	if cfg.Presets.Path != "" {
		presets, err = preset.Load(cfg.Presets.Path)
		if err != nil {
			logger.Fatal("loading presets", zap.Error(err))
		}
		logger.Info("presets loaded", zap.Int("count", presets.Len()))
	}

	var scripts handlers.ScriptCaller
	if cfg.Scripting.ScriptDir != "" {
		mgr := scripting.NewManager(roller, logger.Named("scripting"), scripting.WithDiceLimit(cfg.Telnet.MaxDice))
		defer mgr.Close()
		if err := mgr.LoadGlobal(cfg.Scripting.ScriptDir, cfg.Scripting.InstructionLimit); err != nil {
			logger.Fatal("loading scripts", zap.Error(err))
		}
		scripts = mgr
	}

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var history handlers.RollRecorder
	if cfg.History.Enabled {
		dbStart := time.Now()
		pool, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		history = pool.Rolls()

		quit := make(chan struct{})
		lifecycle.AddFunc("postgres",
			func() error {
				ticker := time.NewTicker(healthInterval)
				defer ticker.Stop()
				for {
					select {
					case <-quit:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			func() {
				close(quit)
				pool.Close()
			},
		)
	}

	session := handlers.NewRollSession(roller, presets, scripts, history, handlers.RollSessionConfig{
		MaxDice:      cfg.Telnet.MaxDice,
		HistoryLimit: cfg.History.DefaultLimit,
	}, logger.Named("session"))
	acceptor := telnet.NewAcceptor(cfg.Telnet, session, logger.Named("telnet"))
	lifecycle.Add("telnet", acceptor)

	if cfg.RPC.Enabled {
		var recorder rollservice.Recorder
		if history != nil {
			recorder = history
		}
		grpcServer := grpc.NewServer(
			grpc.ChainUnaryInterceptor(rollservice.LoggingInterceptor(logger.Named("rpc"))),
		)
		rollservice.RegisterRollServiceServer(grpcServer,
			rollservice.NewServer(roller, presets, recorder, cfg.Telnet.MaxDice, logger.Named("rollservice")))

		lifecycle.Add("grpc", &server.FuncService{
			StartFn: func() error {
				lis, err := net.Listen("tcp", cfg.RPC.Addr())
				if err != nil {
					return err
				}
				logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
				return grpcServer.Serve(lis)
			},
			StopFn: grpcServer.GracefulStop,
		})
	}

	logger.Info("roll server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
