package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RegimeDesk/internal/domain/models"
	domrepo "RegimeDesk/internal/domain/repository"
	mid "RegimeDesk/internal/middleware"
	pkgkafka "RegimeDesk/pkg/kafka"
)

// KafkaQuotesHandler feeds last-price messages from a Kafka topic into the
// live price feed through the same pipeline as the websocket stream.
type KafkaQuotesHandler struct {
	topic   string
	sink    mid.TickSink
	metrics domrepo.Metrics
}

func NewKafkaQuotesHandler(topic string, sink mid.TickSink, metrics domrepo.Metrics) *KafkaQuotesHandler {
	return &KafkaQuotesHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaQuotesHandler) Topic() string { return h.topic }

// Handle decodes {symbol, t, c, v}; t may be seconds or milliseconds.
// Undecodable and invalid quotes are skipped rather than retried. A feed
// failure is not returned either: the pipeline already holds the tick and
// retries it itself.
func (h *KafkaQuotesHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		C      float64 `json:"c"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: quote message: %v", pkgkafka.ErrSkip, err)
	}
	if m.T > 1e11 {
		m.T /= 1000
	}
	h.metrics.RecordLatency("quote_ingest_lag", time.Since(time.Unix(m.T, 0)).Seconds())

	err := h.sink.Process(ctx, &models.PriceTick{Symbol: m.Symbol, Price: m.C, Volume: m.V, Timestamp: m.T})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mid.ErrInvalidTick):
		return fmt.Errorf("%w: %v", pkgkafka.ErrSkip, err)
	default:
		h.metrics.RecordError("consumer_quote")
		return nil
	}
}

var _ pkgkafka.MessageHandler = (*KafkaQuotesHandler)(nil)
