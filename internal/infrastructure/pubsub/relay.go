// Package pubsub relays flow messages between hosts over Redis Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/shared/goroutine"
	"github.com/touchon/flowbus/internal/shared/logger"
)

const (
	MessageChannel = "flowbus:messages"
	TriggerChannel = "flowbus:triggers"
	StatusChannel  = "flowbus:status"
)

// OutputEvent is a message a node forwarded on one of its outputs.
type OutputEvent struct {
	NodeID     string        `json:"node_id"`
	Output     int           `json:"output"`
	Message    *flow.Message `json:"message"`
	Timestamp  int64         `json:"timestamp"`
	InstanceID string        `json:"instance_id,omitempty"`
}

// TriggerEvent asks a host to inject payload as an input of NodeID.
type TriggerEvent struct {
	NodeID     string `json:"node_id"`
	Payload    any    `json:"payload"`
	InstanceID string `json:"instance_id,omitempty"`
}

// StatusEvent announces a node status change.
type StatusEvent struct {
	NodeID     string `json:"node_id"`
	Severity   string `json:"severity"`
	Shape      string `json:"shape"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	InstanceID string `json:"instance_id,omitempty"`
}

// Publisher sends flow traffic to other hosts.
type Publisher interface {
	PublishOutput(ctx context.Context, event OutputEvent) error
	PublishStatus(ctx context.Context, event StatusEvent) error
}

// Subscriber receives triggers addressed to local nodes.
type Subscriber interface {
	SubscribeTriggers(ctx context.Context, handler func(event TriggerEvent)) error
}

// Relay implements Publisher and Subscriber on Redis Pub/Sub.
type Relay struct {
	client     *redis.Client
	logger     logger.Interface
	instanceID string // stamped on published events; own triggers are skipped
}

func NewRelay(client *redis.Client, log logger.Interface) *Relay {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Relay{
		client:     client,
		logger:     log,
		instanceID: uuid.NewString(),
	}
}

func (r *Relay) InstanceID() string {
	return r.instanceID
}

// PublishOutput publishes a forwarded node message on MessageChannel.
func (r *Relay) PublishOutput(ctx context.Context, event OutputEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UTC().Unix()
	}
	event.InstanceID = r.instanceID
	return r.publish(ctx, MessageChannel, event, "node_id", event.NodeID, "output", event.Output)
}

// PublishStatus publishes a node status change on StatusChannel.
func (r *Relay) PublishStatus(ctx context.Context, event StatusEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UTC().Unix()
	}
	event.InstanceID = r.instanceID
	return r.publish(ctx, StatusChannel, event, "node_id", event.NodeID, "status", event.Text)
}

// PublishTrigger publishes a trigger for whichever host owns event.NodeID.
// The publishing host ignores its own trigger.
func (r *Relay) PublishTrigger(ctx context.Context, event TriggerEvent) error {
	event.InstanceID = r.instanceID
	return r.publish(ctx, TriggerChannel, event, "node_id", event.NodeID)
}

func (r *Relay) publish(ctx context.Context, channel string, event any, fields ...any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", channel, err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		r.logger.Errorw("failed to publish relay event",
			append([]any{"channel", channel, "error", err}, fields...)...,
		)
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	r.logger.Debugw("relay event published", append([]any{"channel", channel}, fields...)...)
	return nil
}

// SubscribeTriggers blocks until ctx is done, delivering triggers from other
// instances to handler. The subscription is re-established after failures.
func (r *Relay) SubscribeTriggers(ctx context.Context, handler func(event TriggerEvent)) error {
	return r.subscribeWithReconnect(ctx, TriggerChannel, func(payload string) {
		event, ok := r.decodeTrigger(payload)
		if !ok {
			return
		}
		handler(event)
	})
}

// decodeTrigger parses a trigger payload and drops malformed or self-sent ones.
func (r *Relay) decodeTrigger(payload string) (TriggerEvent, bool) {
	var event TriggerEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Warnw("failed to unmarshal trigger event",
			"payload", payload,
			"error", err,
		)
		return TriggerEvent{}, false
	}
	if event.NodeID == "" {
		r.logger.Warnw("trigger event without node_id", "payload", payload)
		return TriggerEvent{}, false
	}
	if event.InstanceID == r.instanceID {
		return TriggerEvent{}, false
	}
	return event, true
}

func (r *Relay) subscribeWithReconnect(ctx context.Context, channel string, handler func(payload string)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		err := r.subscribe(ctx, channel, b.Reset, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		r.logger.Warnw("relay subscription disconnected, reconnecting",
			"channel", channel,
			"error", err,
			"backoff", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Relay) subscribe(ctx context.Context, channel string, onSubscribed func(), handler func(payload string)) error {
	ps := r.client.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}
	onSubscribed()

	r.logger.Infow("subscribed to relay channel", "channel", channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("relay subscriber stopped",
				"channel", channel,
				"reason", ctx.Err(),
			)
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				r.logger.Warnw("relay channel closed", "channel", channel)
				return nil
			}
			goroutine.SafeGo(r.logger, "relay-handler-"+channel, func() {
				handler(msg.Payload)
			})
		}
	}
}
