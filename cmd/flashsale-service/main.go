package main

import (
	"context"
	"time"

	"mall/internal/contracts"
	"mall/internal/flashsale/application"
	"mall/internal/flashsale/infrastructure"
	"mall/internal/flashsale/interfaces"
	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/mq"
	"mall/internal/pkg/redis"
	"mall/internal/pkg/zookeeper"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	serviceName    = "flashsale-service"
	servicePort    = 8083
	commandGroupID = "flashsale-command-group"
)

func main() {
	var (
		consumer    *interfaces.CommandConsumer
		reconciler  *application.Reconciler
		eventWriter *kafka.Writer
		redisClient *redis.Client
		zkConn      *zookeeper.Conn
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config
			tracer := otel.Tracer(serviceName)

			db, err := gorm.Open(mysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{})
			if err != nil {
				log.Fatal().Err(err).Msg("failed to connect to mysql")
			}
			if err := db.AutoMigrate(&infrastructure.FlashSaleModel{}); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate flash sale tables")
			}

			redisClient, err = redis.NewClient(cfg.Infra.Redis.Addrs)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to connect to redis")
			}
			store, err := infrastructure.NewRedisCounterStore(redisClient)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load flash sale scripts")
			}

			zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to connect to zookeeper")
			}

			repo := infrastructure.NewGormFlashSaleRepository(db)
			counter := application.NewCounter(repo, store, tracer)
			reconciler = application.NewReconciler(repo, store, zkConn,
				cfg.Flashsale.ReconcileInterval.Std(), tracer)

			eventWriter = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, contracts.StockEventTopic)
			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, contracts.FlashSaleCommandTopic, commandGroupID)
			consumer = interfaces.NewCommandConsumer(reader, eventWriter, counter, tracer)
		},
		Background: []func(ctx context.Context) error{
			func(ctx context.Context) error { return consumer.Run(ctx) },
			func(ctx context.Context) error { return reconciler.Run(ctx) },
		},
		OnShutdown: func(ctx context.Context) {
			if err := eventWriter.Close(); err != nil {
				log.Error().Err(err).Msg("error closing kafka writer")
			}
			if redisClient != nil {
				_ = redisClient.Close()
			}
			if zkConn != nil {
				zkConn.Close()
			}
		},
	})
}
