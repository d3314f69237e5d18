package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"media-pipeline/config"
	"media-pipeline/dto"
)

const routingBase = "media.pipeline."

// Publisher emits pipeline telemetry events. Publishing is best-effort by
// design: the pipeline never fails because the broker is unhappy.
type Publisher interface {
	Report(ctx context.Context, event dto.PipelineEvent)
	Close() error
}

type publisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", cfg.ExchangeName).Msg("failed to declare exchange")
		ch.Close()
		return nil, err
	}

	return &publisher{ch: ch, exchange: cfg.ExchangeName}, nil
}

func (p *publisher) Report(ctx context.Context, event dto.PipelineEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("kind", event.Kind).Msg("failed to marshal telemetry event")
		return
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingBase+event.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("kind", event.Kind).Msg("failed to publish telemetry event")
	}
}

func (p *publisher) Close() error {
	return p.ch.Close()
}
