package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/mxwtnb/ampo/internal/event"
)

const (
	// EventSubjectPrefix roots all outbound event subjects. The full subject
	// is ampo.events.{kind}.{pool}.
	EventSubjectPrefix = "ampo.events"

	// EventStream is the JetStream stream backing outbound events.
	EventStream = "AMPO_EVENTS"
)

// OutboundPublisher publishes committed operations to NATS for downstream
// consumers. Publishing is best-effort: a failed publish is logged and
// dropped, consumers can rebuild from the Postgres event log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Event
	log       zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Event, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the outbound publisher loop. It returns when the context is
// cancelled or the input channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				op.log.Warn().Err(err).
					Str("event_id", evt.ID.String()).
					Str("kind", evt.Kind).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, evt.Kind, evt.Pool.Hex())

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = op.js.Publish(ctx, subject, data)
	return err
}
