package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topic carries every execution event.
const Topic = "chainflow.executions"

// Bus publishes and fans out execution events over a watermill
// go-channel pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
	seqs   sync.Map // execution ID -> *atomic.Uint64
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		&zapLoggerAdapter{logger: logger},
	)
	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish stamps the event with an ID, timestamp and its execution's
// next sequence number, then hands it to every subscriber.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = watermill.NewUUID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Sequence = b.nextSequence(evt.ExecutionID)

	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("execution_id", evt.ExecutionID)
	msg.Metadata.Set("type", string(evt.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return err
	}

	// release the counter once the execution is done, the map would
	// otherwise grow with every execution ever seen. A manual retry
	// starts a fresh sequence.
	if evt.Type.Terminal() {
		b.seqs.Delete(evt.ExecutionID)
	}
	return nil
}

// Subscribe delivers all events published after the call. Messages are
// acked as they are decoded; undecodable messages are dropped with a log
// line rather than redelivered forever.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn("dropping undecodable event",
					zap.String("message_id", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the pub/sub down; subscriber channels are closed.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

func (b *Bus) nextSequence(executionID string) uint64 {
	val, _ := b.seqs.LoadOrStore(executionID, &atomic.Uint64{})
	return val.(*atomic.Uint64).Add(1)
}

// zapLoggerAdapter routes watermill's internal logging through zap.
type zapLoggerAdapter struct {
	logger *zap.Logger
	fields watermill.LogFields
}

func (a *zapLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(a.zapFields(fields), zap.Error(err))...)
}

func (a *zapLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *zapLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *zapLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *zapLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zapLoggerAdapter{logger: a.logger, fields: merged}
}

func (a *zapLoggerAdapter) zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(a.fields)+len(fields))
	for k, v := range a.fields {
		out = append(out, zap.Any(k, v))
	}
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
