package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
)

type failingStore struct{ MemoryStore }

func (f *failingStore) Append(context.Context, *Record) error {
	return errors.New("disk on fire")
}

func captureLogger(buf *bytes.Buffer) Option {
	return WithSlog(obs.NewLoggerTo(buf, "debug", "test", "test"))
}

func TestRecordAppendsWithRequestContext(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	logger := NewLogger(store, captureLogger(&buf), WithClock(func() time.Time { return at }))

	ctx := WithRequestID(context.Background(), "req-123")
	actor := ActorFrom(auth.Identity{SubjectID: "adm-1", Email: "ops@custodia.test", Role: "admin"})
	logger.Record(ctx, Record{Actor: actor, Action: "suspend", TargetType: "account", TargetID: "A1", Details: "fraud"})

	recs, err := store.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" || rec.Sequence != 1 || !rec.OccurredAt.Equal(at) {
		t.Fatalf("record not stamped: %+v", rec)
	}
	if rec.RequestID != "req-123" || rec.Actor.SubjectID != "adm-1" || rec.Details != "fraud" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "audit" || entry["action"] != "suspend" || entry["request_id"] != "req-123" {
		t.Fatalf("unexpected audit echo: %v", entry)
	}
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	logger := NewLogger(store, captureLogger(&bytes.Buffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger.Record(ctx, Record{Action: "approve", TargetType: "merchant", TargetID: "M1"})
	recs, _ := store.List(context.Background(), Filter{})
	if len(recs) != 1 {
		t.Fatalf("expected record despite cancelled context, got %d", len(recs))
	}
}

func TestRecordFailureIsLoggedAndCounted(t *testing.T) {
	obs.Init()
	before := testutil.ToFloat64(obs.AuditFailures)
	var buf bytes.Buffer
	sinkCalled := false
	logger := NewLogger(&failingStore{}, captureLogger(&buf), WithSink("spy", SinkFunc(func(context.Context, Record) error {
		sinkCalled = true
		return nil
	})))

	logger.Record(context.Background(), Record{Action: "reject", TargetType: "account", TargetID: "A9", Details: "kyc"})

	if got := testutil.ToFloat64(obs.AuditFailures) - before; got != 1 {
		t.Fatalf("expected failure counter +1, got %v", got)
	}
	if sinkCalled {
		t.Fatalf("sinks must only see persisted records")
	}
	line := buf.String()
	for _, want := range []string{`"level":"ERROR"`, "audit append failed", "disk on fire", `"target_id":"A9"`, `"details":"kyc"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %q: %s", want, line)
		}
	}
}

func TestSinkFailureDoesNotAffectStore(t *testing.T) {
	store := NewMemoryStore()
	var got []Record
	logger := NewLogger(store, captureLogger(&bytes.Buffer{}),
		WithSink("broken", SinkFunc(func(context.Context, Record) error { return errors.New("down") })),
		WithSink("collect", SinkFunc(func(_ context.Context, r Record) error { got = append(got, r); return nil })),
	)
	logger.Record(context.Background(), Record{Action: "approve", TargetType: "merchant", TargetID: "M1"})
	if len(got) != 1 || got[0].Sequence != 1 {
		t.Fatalf("second sink not reached: %+v", got)
	}
	if recs, _ := store.List(context.Background(), Filter{}); len(recs) != 1 {
		t.Fatalf("expected stored record")
	}
}

func TestMemoryStoreOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for _, r := range []Record{
		{ID: "c", TargetType: "account", TargetID: "A1", OccurredAt: t0.Add(time.Second)},
		{ID: "a", TargetType: "account", TargetID: "A1", OccurredAt: t0},
		{ID: "b", TargetType: "account", TargetID: "A1", OccurredAt: t0},
		{ID: "m", TargetType: "merchant", TargetID: "M1", OccurredAt: t0},
	} {
		r := r
		if err := store.Append(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := store.List(ctx, Filter{TargetType: "account", TargetID: "A1"})
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, r := range recs {
		order = append(order, r.ID)
	}
	if strings.Join(order, ",") != "c,a,b" {
		t.Fatalf("unexpected order %v", order)
	}
	recs, _ = store.List(ctx, Filter{Limit: 1})
	if len(recs) != 1 {
		t.Fatalf("limit ignored: %d", len(recs))
	}
}

func TestMemoryStorePagingVisitsEveryRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{t0.Add(2 * time.Second), t0, t0.Add(time.Second)} {
		rec := Record{TargetType: "account", TargetID: "A1", OccurredAt: at}
		if err := store.Append(ctx, &rec); err != nil {
			t.Fatal(err)
		}
	}

	var seen []uint64
	var after uint64
	for page := 0; page < 10; page++ {
		recs, err := store.List(ctx, Filter{AfterSequence: after, Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) == 0 {
			break
		}
		seen = append(seen, recs[0].Sequence)
		after = recs[len(recs)-1].Sequence
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("paged sequences %v, want [1 2 3]", seen)
	}
}

func TestKafkaSinkPublishes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "backoffice.audit" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "account:A1" {
			return errors.New("wrong key " + string(key))
		}
		val, _ := msg.Value.Encode()
		var rec Record
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.Action != "suspend" {
			return errors.New("wrong action " + rec.Action)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "backoffice.audit")
	if err := sink.Publish(context.Background(), Record{Action: "suspend", TargetType: "account", TargetID: "A1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sink.Publish(context.Background(), Record{Action: "approve", TargetType: "account", TargetID: "A1"}); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
