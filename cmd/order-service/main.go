package main

import (
	"context"
	"time"

	"mall/internal/contracts"
	"mall/internal/order/application"
	"mall/internal/order/infrastructure"
	"mall/internal/order/infrastructure/adapter"
	"mall/internal/order/interfaces"
	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/httpclient"
	"mall/internal/pkg/mq"
	"mall/internal/pkg/zookeeper"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	serviceName     = "order-service"
	servicePort     = 8081
	outcomeGroupID  = "order-saga-outcome-group"
	creationGroupID = "order-creation-group"
)

// main 是组装根：建依赖、装编排器、挂路由，其余交给 bootstrap。
func main() {
	var (
		creationConsumer *interfaces.CreationConsumer
		outcomeConsumer  *interfaces.OutcomeConsumer
		sweeper          *application.Sweeper
		writers          []*kafka.Writer
		zkConn           *zookeeper.Conn
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
			if err := db.AutoMigrate(&infrastructure.OrderModel{}, &infrastructure.OrderItemModel{}); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate order tables")
			}

			zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to connect to zookeeper")
			}

			brokers := cfg.Infra.Kafka.Brokers
			stockWriter := mq.NewKafkaWriter(brokers, contracts.StockCommandTopic)
			flashWriter := mq.NewKafkaWriter(brokers, contracts.FlashSaleCommandTopic)
			eventWriter := mq.NewKafkaWriter(brokers, contracts.OrderEventTopic)
			creationWriter := mq.NewKafkaWriter(brokers, contracts.OrderCreationTopic)
			writers = []*kafka.Writer{stockWriter, flashWriter, eventWriter, creationWriter}

			repo := infrastructure.NewGormOrderRepository(db)
			gateway := adapter.NewPaymentHTTPAdapter(httpclient.NewClient(tracer), cfg.Order.PaymentURL)
			stock := adapter.NewStockKafkaAdapter(stockWriter, flashWriter)
			events := adapter.NewOrderEventKafkaAdapter(eventWriter)

			orch := application.NewOrchestrator(repo, gateway, stock, events, tracer,
				cfg.Order.PaymentTimeout.Std(), cfg.Order.PaymentRetries)
			sweeper = application.NewSweeper(orch, zkConn,
				cfg.Order.StuckThreshold.Std(), cfg.Order.SweepInterval.Std())

			validator, err := application.NewValidator(cfg.Order.ValidationRules)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to compile order validation rules")
			}

			creationConsumer = interfaces.NewCreationConsumer(
				mq.NewKafkaReader(brokers, contracts.OrderCreationTopic, creationGroupID), orch, tracer)
			outcomeConsumer = interfaces.NewOutcomeConsumer(
				mq.NewKafkaReader(brokers, contracts.StockEventTopic, outcomeGroupID),
				orch, mq.NewKeyedPool(16, 64), tracer)

			handler := interfaces.NewOrderHandler(validator, orch, creationWriter, tracer)
			handler.RegisterRoutes(appCtx.Mux)
		},
		Background: []func(ctx context.Context) error{
			func(ctx context.Context) error { return creationConsumer.Run(ctx) },
			func(ctx context.Context) error { return outcomeConsumer.Run(ctx) },
			func(ctx context.Context) error { return sweeper.Run(ctx) },
		},
		OnShutdown: func(ctx context.Context) {
			for _, w := range writers {
				if err := w.Close(); err != nil {
					log.Error().Err(err).Msg("error closing kafka writer")
				}
			}
			if zkConn != nil {
				zkConn.Close()
			}
		},
	})
}
