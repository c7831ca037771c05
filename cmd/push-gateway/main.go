package main

import (
	"context"
	"net/http"

	"mall/internal/contracts"
	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/mq"
	"mall/internal/push"
)

const (
	serviceName = "push-gateway"
	servicePort = 8088
	// 每个网关节点独立消费全量事件流，只推给连在自己身上的用户，
	// 所以消费组按实例生成，不能共享
	consumerGroupBase = "push-gateway"
)

func main() {
	var consumer *push.EventConsumer

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			hub := push.NewHub()
			reader := mq.NewTailKafkaReader(appCtx.Config.Infra.Kafka.Brokers, contracts.OrderEventTopic,
				push.InstanceGroupID(consumerGroupBase))
			consumer = push.NewEventConsumer(reader, hub)

			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				hub.ServeWS(w, r)
			})
		},
		Background: []func(ctx context.Context) error{
			func(ctx context.Context) error { return consumer.Run(ctx) },
		},
	})
}
