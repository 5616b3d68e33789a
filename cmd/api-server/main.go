package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/sqlxray/sqlxray/internal/checkpoint"
	"github.com/sqlxray/sqlxray/internal/config"
	"github.com/sqlxray/sqlxray/internal/logger"
	"github.com/sqlxray/sqlxray/internal/pool"
	"github.com/sqlxray/sqlxray/internal/scanner"
	"github.com/sqlxray/sqlxray/internal/server"
	"github.com/sqlxray/sqlxray/sdk"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("XRAY_CONFIG"), "YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	mongoURL := flag.String("mongo-url", "", "MongoDB connection URL (overrides config)")
	mongoDB := flag.String("mongo-db", "", "MongoDB database name (overrides config)")
	openapi := flag.String("openapi", "", "write OpenAPI JSON and exit")
	flag.Parse()

	logger.Set(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L.Error("load config", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mongoURL != "" {
		cfg.MongoURL = *mongoURL
	}
	if *mongoDB != "" {
		cfg.MongoDB = *mongoDB
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
	if err == nil {
		err = client.Ping(ctx, readpref.Primary())
	}
	cancel()
	if err != nil {
		logger.L.Error("mongo connect", "url", cfg.MongoURL, "err", err)
		os.Exit(1)
	}
	db := client.Database(cfg.MongoDB)

	zl, err := zap.NewProduction()
	if err != nil {
		logger.L.Error("zap init", "err", err)
		os.Exit(1)
	}
	defer zl.Sync()

	pools := pool.NewRegistry(pool.Options{
		MaxConns:        cfg.Pool.MaxConns,
		RetryAttempts:   cfg.Pool.RetryAttempts,
		ConnectTimeout:  cfg.Pool.ConnectTimeout.Std(),
		QueryTimeout:    cfg.Pool.QueryTimeout.Std(),
		RecycleInterval: cfg.Pool.RecycleInterval.Std(),
	})
	svc := sdk.New(sdk.ServiceConfig{
		Logger:    zl.Sugar(),
		Scans:     checkpoint.NewScanStore(db),
		Workloads: checkpoint.NewWorkloadStore(db),
		Pools:     pools,
		Scanner: scanner.Options{
			BatchSize:    cfg.Scanner.BatchSize,
			TableTimeout: cfg.Scanner.TableTimeout.Std(),
			BatchPause:   cfg.Scanner.BatchPause.Std(),
		},
	})

	api := server.New(svc)

	if *openapi != "" {
		data, err := json.MarshalIndent(api.OpenAPI(), "", "  ")
		if err != nil {
			logger.L.Error("marshal openapi", "err", err)
			os.Exit(1)
		}
		p := filepath.Clean(*openapi)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			logger.L.Error("write openapi", "err", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Rescan.Every > 0 && len(cfg.Rescan.Targets) > 0 {
		s := gocron.NewScheduler(time.UTC)
		if _, err := s.Every(cfg.Rescan.Every.Std()).Do(func() {
			rescan(svc, cfg.Rescan.Targets)
		}); err != nil {
			logger.L.Error("schedule rescan", "err", err)
		}
		s.StartAsync()
		defer s.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Adapter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.L.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.L.Info("shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.L.Error("server shutdown", "err", err)
	}
	if err := svc.Close(); err != nil {
		logger.L.Error("service close", "err", err)
	}
	if err := client.Disconnect(shutCtx); err != nil {
		logger.L.Error("mongo disconnect", "err", err)
	}
}

func rescan(svc sdk.Service, targets []config.Target) {
	ctx := context.Background()
	for _, t := range targets {
		scanType := checkpoint.ScanType(t.ScanType)
		if scanType == "" {
			scanType = checkpoint.ScanTypeIntelligence
		}
		id, err := svc.StartScan(ctx, pool.Config{
			Host:     t.Host,
			Port:     t.Port,
			User:     t.User,
			Password: t.Password,
			Database: t.Database,
			TLS:      t.TLS,
		}, scanType)
		if err != nil {
			logger.L.Error("scheduled rescan", "database", t.Database, "err", err)
			continue
		}
		logger.L.Info("scheduled rescan started", "database", t.Database, "scan_id", id)
	}
}
