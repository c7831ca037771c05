package main

import (
	"context"

	"mall/internal/contracts"
	"mall/internal/inventory/application"
	"mall/internal/inventory/infrastructure"
	"mall/internal/inventory/interfaces"
	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/mq"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	serviceName    = "inventory-service"
	servicePort    = 8082
	commandGroupID = "inventory-command-group"
)

func main() {
	var (
		consumer    *interfaces.CommandConsumer
		eventWriter *kafka.Writer
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
			if err := db.AutoMigrate(&infrastructure.InventoryModel{}, &infrastructure.ReservationModel{}); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate inventory tables")
			}

			ledger := application.NewLedger(
				infrastructure.NewGormInventoryRepository(db),
				infrastructure.NewGormReservationStore(db),
				tracer)

			eventWriter = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, contracts.StockEventTopic)
			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, contracts.StockCommandTopic, commandGroupID)
			consumer = interfaces.NewCommandConsumer(reader, eventWriter, ledger, tracer)
		},
		Background: []func(ctx context.Context) error{
			func(ctx context.Context) error { return consumer.Run(ctx) },
		},
		OnShutdown: func(ctx context.Context) {
			if err := eventWriter.Close(); err != nil {
				log.Error().Err(err).Msg("error closing kafka writer")
			}
		},
	})
}
