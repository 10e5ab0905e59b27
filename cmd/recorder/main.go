// Command recorder consumes the session event topic and writes trades, final
// order states and privilege grants to the configured store.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tradingfloor/broker"
	"tradingfloor/config"
	"tradingfloor/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer st.Close()

	codec, err := broker.CodecByName(cfg.EventCodec)
	if err != nil {
		logger.Fatal("event codec", zap.Error(err))
	}
	reader := broker.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer reader.Close()

	sink := store.NewSink(st, logger.Named("store"))
	logger.Info("recording events",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaGroup),
		zap.String("store", string(cfg.StoreKind)))

	if err := broker.NewConsumer(reader, codec, logger.Named("consumer")).Run(ctx, sink.Publish); err != nil {
		logger.Error("consumer stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreKind {
	case config.StorePebble:
		return store.OpenPebble(cfg.PebbleDir)
	case config.StorePostgres:
		db, err := store.ConnectWithRetries(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		pg, err := store.NewPostgres(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, errors.New("STORE must be pebble or postgres")
	}
}
