// Package actionqueue implements the action queue (C8): a small queue of
// post-transition side effects that must outlive the triggering call
// ("cancel prior subscription at provider", cascading an expired initial
// transaction to its subscription, notifying on activation). Callers enqueue
// an action after writing its trigger transition; actions are not stored in
// the Repository, so an action not yet enqueued when the process stops is
// lost. Once enqueued on the JetStream queue, delivery is at-least-once and
// handlers MUST be idempotent.
package actionqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Type discriminates the queued post-transition effects.
type Type string

const (
	// TypeCancelSubscriptionAtProvider asks the provider adapter to cancel
	// a subscription superseded by a plan change.
	TypeCancelSubscriptionAtProvider Type = "cancel-subscription-at-provider"

	// TypeCascadeCancelSubscription cancels the subscription whose
	// initiating transaction just expired unconfirmed (§9 open question,
	// resolved to cascade by default).
	TypeCascadeCancelSubscription Type = "cascade-cancel-subscription"

	// TypeSubscriptionActivated notifies that a subscription reached
	// active for the first time.
	TypeSubscriptionActivated Type = "subscription-activated"
)

// Action is a single queued side effect.
type Action struct {
	Type                  Type      `json:"type"`
	Provider              string    `json:"provider"`
	OriginalTransactionID string    `json:"originalTransactionId"`
	EnqueuedAt            time.Time `json:"enqueuedAt"`
}

// Handler processes one Action. Returning an error causes redelivery; it
// must be safe to call more than once for the same Action.
type Handler func(ctx context.Context, action Action) error

// Queue publishes and dispatches Actions.
type Queue interface {
	Enqueue(ctx context.Context, action Action) error
	Subscribe(ctx context.Context, handler Handler) error
}

// publisher is the minimal surface actionqueue needs from a JetStream
// client, matched against pkg/broker/nats/jetstream.JetStream.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// JetStreamQueue dispatches actions at-least-once over NATS JetStream,
// following pkg/broker/nats/jetstream's explicit-ack, bounded-redelivery
// consumer convention. Subscribe is left to the caller's JetStream consumer
// loop (ConsumeMessages); this type focuses on the publish side plus
// decoding for a handler driven externally.
type JetStreamQueue struct {
	js      publisher
	subject string
}

// NewJetStreamQueue wraps a connected JetStream publisher for the given
// subject (e.g. "billing.actions").
func NewJetStreamQueue(js publisher, subject string) *JetStreamQueue {
	return &JetStreamQueue{js: js, subject: subject}
}

// Enqueue implements Queue.
func (q *JetStreamQueue) Enqueue(ctx context.Context, action Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return err
	}
	return q.js.Publish(ctx, q.subject, data)
}

// Subscribe is not implemented directly on JetStreamQueue: callers drive a
// jetstream.Consumer via ConsumeMessages and decode each message with
// DecodeAction, calling handler themselves. This mirrors the teacher's
// worker, which owns its own ticker/consume loop rather than a generic
// subscribe callback.
func (q *JetStreamQueue) Subscribe(_ context.Context, _ Handler) error {
	return errUnsupportedSubscribe
}

// DecodeAction decodes a JetStream message payload back into an Action.
func DecodeAction(data []byte) (Action, error) {
	var a Action
	err := json.Unmarshal(data, &a)
	return a, err
}

var errUnsupportedSubscribe = &unsupportedSubscribeError{}

type unsupportedSubscribeError struct{}

func (*unsupportedSubscribeError) Error() string {
	return "actionqueue: JetStreamQueue.Subscribe is not supported; drive a jetstream.Consumer and call DecodeAction"
}

// InMemoryQueue is a synchronous, in-process Queue for tests and
// single-process deployments: Enqueue calls every subscribed handler
// immediately. It still honors at-least-once semantics in spirit — a
// handler error is surfaced to the enqueuer rather than silently dropped.
type InMemoryQueue struct {
	handlers []Handler
}

// NewInMemoryQueue returns an empty InMemoryQueue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

// Subscribe implements Queue.
func (q *InMemoryQueue) Subscribe(_ context.Context, handler Handler) error {
	q.handlers = append(q.handlers, handler)
	return nil
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, action Action) error {
	for _, h := range q.handlers {
		if err := h(ctx, action); err != nil {
			return err
		}
	}
	return nil
}
