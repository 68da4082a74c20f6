// Package events publishes quote and swap lifecycle events to Kafka.
// Publishing is strictly best-effort analytics: failures are logged and
// swallowed, and a nil *Publisher is a valid no-op.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/router"
	"github.com/Aidin1998/dexroute_unified/pkg/models"
)

// Publisher writes lifecycle events to the configured topics.
type Publisher struct {
	quotes *kafka.Writer
	swaps  *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka publisher. Returns nil when no brokers are
// configured, which disables publishing everywhere.
func NewPublisher(brokers []string, quoteTopic, swapTopic string, writeTimeout time.Duration, logger *zap.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	if writeTimeout <= 0 {
		writeTimeout = time.Second
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: writeTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
	}
	return &Publisher{
		quotes: newWriter(quoteTopic),
		swaps:  newWriter(swapTopic),
		logger: logger,
	}
}

// Close flushes and closes the writers.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.quotes.Close(); err != nil {
		return err
	}
	return p.swaps.Close()
}

// QuoteServed emits a quote event keyed by the traded pair.
func (p *Publisher) QuoteServed(ctx context.Context, resp *router.RouteResponse) {
	if p == nil {
		return
	}
	p.publish(ctx, p.quotes, resp.Best.InputMint+":"+resp.Best.OutputMint, map[string]interface{}{
		"event":         "quote_served",
		"requestId":     resp.RequestID,
		"quoteId":       resp.QuoteID,
		"provider":      resp.Best.Provider,
		"inputMint":     resp.Best.InputMint,
		"outputMint":    resp.Best.OutputMint,
		"inAmount":      resp.Best.InAmount,
		"outAmount":     resp.Best.OutAmount,
		"totalScore":    resp.Best.Score.TotalScore,
		"cacheHitRatio": resp.CacheHitRatio,
		"timestamp":     time.Now().UTC(),
	})
}

// SwapCreated emits a swap-opened event keyed by transaction id.
func (p *Publisher) SwapCreated(ctx context.Context, record *models.SwapTransactionRecord) {
	if p == nil {
		return
	}
	p.publish(ctx, p.swaps, record.ID, map[string]interface{}{
		"event":         "swap_created",
		"transactionId": record.ID,
		"quoteId":       record.QuoteID,
		"provider":      record.Provider,
		"status":        record.Status,
		"inputMint":     record.InputMint,
		"outputMint":    record.OutputMint,
		"inAmount":      record.InAmount,
		"timestamp":     time.Now().UTC(),
	})
}

// SwapStatusChanged emits a lifecycle transition event.
func (p *Publisher) SwapStatusChanged(ctx context.Context, record *models.SwapTransactionRecord) {
	if p == nil {
		return
	}
	p.publish(ctx, p.swaps, record.ID, map[string]interface{}{
		"event":         "swap_status_changed",
		"transactionId": record.ID,
		"status":        record.Status,
		"txHash":        record.TxHash,
		"errorCode":     record.ErrorCode,
		"timestamp":     time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, w *kafka.Writer, key string, payload map[string]interface{}) {
	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("event payload marshal failed", zap.Error(err))
		return
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("topic", w.Topic), zap.Error(err))
	}
}
