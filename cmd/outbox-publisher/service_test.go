package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

func TestPublishBatchRetriesOneAndPublishesTheOther(t *testing.T) {
	store := &fakeStore{events: []models.OutboxEvent{
		orderCreatedRow(t, 0),
		orderCreatedRow(t, 0),
	}}
	b := &fakeBroker{errs: []error{errors.New("transient")}}
	svc := newTestService(t, store, b, &fakeRegistry{}, config.OutboxConfig{MaxAttempts: 5})

	handled, err := svc.publishBatch(context.Background())
	if err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if handled != 2 {
		t.Fatalf("expected 2 rows handled, got %d", handled)
	}
	if len(store.failed) != 1 || store.failed[0] != store.events[0].ID {
		t.Fatalf("expected the first row to be retried, got %v", store.failed)
	}
	if len(store.published) != 1 || store.published[0] != store.events[1].ID {
		t.Fatalf("expected the second row to be published, got %v", store.published)
	}
	if len(store.letters) != 0 {
		t.Fatalf("transient failures must not be dead-lettered")
	}
}

func TestSendCarriesEnvelopeAndAttributes(t *testing.T) {
	row := orderCreatedRow(t, 0)
	store := &fakeStore{events: []models.OutboxEvent{row}}
	b := &fakeBroker{}
	reg := prometheus.NewRegistry()
	svc := newTestService(t, store, b, &fakeRegistry{}, config.OutboxConfig{})
	svc.metrics = metrics.NewOutboxMetrics(reg)

	if _, err := svc.publishBatch(context.Background()); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(b.sent))
	}
	if b.topics[0] != "orders-topic" {
		t.Fatalf("unexpected topic %q", b.topics[0])
	}
	msg := b.sent[0]
	if !bytes.Equal(msg.Data, row.Payload) {
		t.Fatal("message body should be the stored envelope")
	}
	if msg.Attributes["event_type"] != string(enums.EventOrderCreated) || msg.Attributes["aggregate_id"] != row.AggregateID.String() {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var published float64
	for _, mf := range mfs {
		if mf.GetName() == "outbox_published_total" {
			published = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if published != 1 {
		t.Fatalf("expected outbox_published_total=1, got %v", published)
	}
}

func TestUnresolvableRowIsDeadLettered(t *testing.T) {
	row := orderCreatedRow(t, 0)
	store := &fakeStore{events: []models.OutboxEvent{row}}
	b := &fakeBroker{}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	svc := newTestService(t, store, b, resolver, config.OutboxConfig{MaxAttempts: 4})

	if _, err := svc.publishBatch(context.Background()); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if len(b.sent) != 0 {
		t.Fatal("nothing should reach the broker")
	}
	if len(store.letters) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(store.letters))
	}
	letter := store.letters[0]
	if letter.event.ID != row.ID || letter.reason != enums.DeadLetterUnroutable || letter.ceiling != 4 {
		t.Fatalf("unexpected dead letter %+v", letter)
	}
}

func TestLastAttemptIsDeadLettered(t *testing.T) {
	store := &fakeStore{events: []models.OutboxEvent{orderCreatedRow(t, 1)}}
	b := &fakeBroker{errs: []error{errors.New("deadline exceeded")}}
	svc := newTestService(t, store, b, &fakeRegistry{}, config.OutboxConfig{MaxAttempts: 2})

	if _, err := svc.publishBatch(context.Background()); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if len(store.failed) != 0 {
		t.Fatal("the last attempt should not be recorded as a plain failure")
	}
	if len(store.letters) != 1 || store.letters[0].reason != enums.DeadLetterMaxAttempts {
		t.Fatalf("expected a max_attempts dead letter, got %+v", store.letters)
	}
}

func TestStoreErrorAbortsBatch(t *testing.T) {
	store := &fakeStore{
		events:     []models.OutboxEvent{orderCreatedRow(t, 0)},
		publishErr: errors.New("connection reset"),
	}
	svc := newTestService(t, store, &fakeBroker{}, &fakeRegistry{}, config.OutboxConfig{})

	if _, err := svc.publishBatch(context.Background()); err == nil {
		t.Fatal("expected the batch to fail when the row cannot be marked")
	}
}

func TestJudge(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		attempt int
		want    verdict
		reason  enums.DeadLetterReason
	}{
		{"ok", nil, 1, verdictPublished, ""},
		{"transient", errors.New("unavailable"), 1, verdictRetry, ""},
		{"exhausted", errors.New("unavailable"), 3, verdictDeadLetter, enums.DeadLetterMaxAttempts},
		{"unroutable", registry.NewNonRetryableError(errors.New("no topic")), 1, verdictDeadLetter, enums.DeadLetterUnroutable},
	}
	for _, tc := range cases {
		got, reason := judge(tc.err, tc.attempt, 3)
		if got != tc.want || reason != tc.reason {
			t.Fatalf("%s: got %v/%q, want %v/%q", tc.name, got, reason, tc.want, tc.reason)
		}
	}
}

func TestPollBackoffDoublesAndResets(t *testing.T) {
	b := newPollBackoff(100*time.Millisecond, time.Second)
	within := func(got, want time.Duration) bool {
		return got >= want && got < want+jitterWindow
	}
	if got := b.failed(); !within(got, 200*time.Millisecond) {
		t.Fatalf("unexpected first backoff %v", got)
	}
	for i := 0; i < 5; i++ {
		b.failed()
	}
	if got := b.failed(); !within(got, time.Second) {
		t.Fatalf("expected cap, got %v", got)
	}
	if got := b.idle(); !within(got, 100*time.Millisecond) {
		t.Fatalf("expected reset to base, got %v", got)
	}
}

func TestRunStopsWhenBrokerIsDown(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, &fakeBroker{pingErr: errors.New("no credentials")}, &fakeRegistry{}, config.OutboxConfig{})
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected readiness failure")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := newTestService(t, &fakeStore{}, &fakeBroker{}, &fakeRegistry{}, config.OutboxConfig{})
	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func newTestService(t *testing.T, store outboxStore, b broker, resolver eventResolver, cfg config.OutboxConfig) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Outbox:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:       fakeDB{},
		Broker:   b,
		Store:    store,
		Registry: resolver,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func orderCreatedRow(tb testing.TB, attempts int) models.OutboxEvent {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{"paymentReference":"SF-1"}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type deadLetter struct {
	event   models.OutboxEvent
	reason  enums.DeadLetterReason
	ceiling int
}

type fakeStore struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	letters    []deadLetter
	publishErr error
}

func (f *fakeStore) ClaimBatchTx(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeStore) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeStore) RecordFailureTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) DeadLetterTx(_ *gorm.DB, event models.OutboxEvent, reason enums.DeadLetterReason, _ error, ceiling int) error {
	f.letters = append(f.letters, deadLetter{event: event, reason: reason, ceiling: ceiling})
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakeBroker struct {
	pingErr error
	errs    []error
	topics  []string
	sent    []*gcppubsub.Message
}

func (f *fakeBroker) Ping(context.Context) error { return f.pingErr }

func (f *fakeBroker) Send(_ context.Context, topic string, msg *gcppubsub.Message) error {
	f.topics = append(f.topics, topic)
	f.sent = append(f.sent, msg)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeRegistry struct {
	err error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "orders-topic", AggregateType: event.AggregateType},
		Envelope:   outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
	}, nil
}
