package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradingfloor/broker"
	"tradingfloor/config"
	"tradingfloor/events"
	"tradingfloor/session"
	"tradingfloor/store"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	if cfgErr != nil {
		logger.Fatal("invalid configuration", zap.Error(cfgErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("building event sinks", zap.Error(err))
	}
	defer closeSinks()

	registry := session.NewRegistry(session.Options{
		Logger:        logger,
		Sinks:         sinks,
		EventBuffer:   cfg.EventBuffer,
		TickInterval:  cfg.TickInterval,
		OrderInterval: cfg.OrderInterval,
	})
	srv := newServer(registry, cfg.AuthToken, cfg.CORSOrigin, logger)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("store", string(cfg.StoreKind)), zap.Bool("kafka", cfg.KafkaEnabled()))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", zap.Error(err))
	}
	registry.Shutdown()
	logger.Info("stopped")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// buildSinks wires persistence and the broker behind the session event
// stream. The returned func releases them after the registry has shut down.
func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]events.Sink, func(), error) {
	var (
		sinks   []events.Sink
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("closing sink", zap.Error(err))
			}
		}
	}

	var st store.Store
	switch cfg.StoreKind {
	case config.StorePebble:
		p, err := store.OpenPebble(cfg.PebbleDir)
		if err != nil {
			return nil, func() {}, err
		}
		st = p
	case config.StorePostgres:
		db, err := store.ConnectWithRetries(ctx, cfg.DB, logger)
		if err != nil {
			return nil, func() {}, err
		}
		p, err := store.NewPostgres(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, func() {}, err
		}
		st = p
	}
	if st != nil {
		closers = append(closers, st.Close)
		sinks = append(sinks, store.NewSink(st, logger.Named("store")))
	}

	if cfg.KafkaEnabled() {
		codec, err := broker.CodecByName(cfg.EventCodec)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		prod, err := broker.NewSyncProducer(ctx, cfg.KafkaBrokers, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		ks := broker.NewKafkaSink(prod, cfg.KafkaTopic, codec)
		closers = append(closers, ks.Close)
		sinks = append(sinks, ks)
	}
	return sinks, closeAll, nil
}
