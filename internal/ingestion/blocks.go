package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/mxwtnb/ampo/internal/observability"
)

const (
	// BlockSubject carries chain block headers from the feed.
	BlockSubject = "ampo.blocks"

	// BlockStream is the JetStream stream backing the block feed.
	BlockStream = "AMPO_BLOCKS"

	blockConsumer = "ampo-block-feed"
)

// BlockHeader is the minimal header the accrual clock needs. The engine only
// consumes the height; the timestamp is used for lag metrics.
type BlockHeader struct {
	Height    int64     `json:"height"`
	Hash      string    `json:"hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockSink receives block heights from the feed. Heights may arrive out of
// order on redelivery; the sink must treat them as a high-water mark.
type BlockSink interface {
	SetBlock(height int64)
}

// BlockSubscriber consumes the block feed and advances the engine's block
// height. Every accrual in the system is driven by this clock.
type BlockSubscriber struct {
	js       jetstream.JetStream
	sink     BlockSink
	log      zerolog.Logger
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewBlockSubscriber(js jetstream.JetStream, sink BlockSink, log zerolog.Logger, metrics *observability.Metrics) *BlockSubscriber {
	return &BlockSubscriber{
		js:      js,
		sink:    sink,
		log:     log,
		metrics: metrics,
	}
}

// Subscribe creates the durable consumer and starts feeding the sink.
// Consumers use explicit ACK; malformed headers are TERMed, not redelivered.
func (bs *BlockSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := bs.js.CreateOrUpdateConsumer(ctx, BlockStream, jetstream.ConsumerConfig{
		Durable:       blockConsumer,
		FilterSubject: BlockSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", blockConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var header BlockHeader
		if err := json.Unmarshal(msg.Data(), &header); err != nil {
			bs.log.Warn().Err(err).Msg("malformed block header, discarding")
			msg.Term()
			return
		}

		bs.sink.SetBlock(header.Height)
		if bs.metrics != nil {
			bs.metrics.BlocksReceived.Inc()
			if !header.Timestamp.IsZero() {
				bs.metrics.BlockLag.Observe(time.Since(header.Timestamp).Seconds())
			}
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", blockConsumer, err)
	}

	bs.consumer = cc
	bs.log.Info().Str("subject", BlockSubject).Str("consumer", blockConsumer).Msg("subscribed to block feed")
	return nil
}

// Stop gracefully stops the consumer.
func (bs *BlockSubscriber) Stop() {
	if bs.consumer != nil {
		bs.consumer.Stop()
	}
	bs.log.Info().Msg("block subscriber stopped")
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      BlockStream,
			Subjects:  []string{BlockSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventStream,
			Subjects:  []string{EventSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
