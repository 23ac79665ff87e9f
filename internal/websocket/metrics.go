package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveSubscribers - текущее количество подписчиков
var ActiveSubscribers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskstream",
		Subsystem: "websocket",
		Name:      "subscribers",
		Help:      "Current number of registered subscribers",
	},
)

// SendFailures - ошибки отправки подписчикам
var SendFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskstream",
		Subsystem: "websocket",
		Name:      "send_failures_total",
		Help:      "Number of failed sends to subscribers",
	},
	[]string{"message"}, // initial, update, selection, error
)

// InboundMessages - входящие сообщения по результату обработки
var InboundMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskstream",
		Subsystem: "websocket",
		Name:      "inbound_messages_total",
		Help:      "Inbound client messages by result",
	},
	[]string{"result"}, // ok, malformed, unsupported, rate_limited
)

func recordSendFailure(t MessageType) {
	SendFailures.WithLabelValues(string(t)).Inc()
}
