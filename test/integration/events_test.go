//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/domain/patient"
	"github.com/ehr/neuroscribe/internal/platform/clock"
	"github.com/ehr/neuroscribe/internal/platform/eventbus"
	"github.com/ehr/neuroscribe/internal/platform/websocket"
)

func newRedisBus(t *testing.T, ctx context.Context, channel string) eventbus.Bus {
	t.Helper()
	bus, err := eventbus.NewRedis(ctx, eventbus.RedisConfig{URL: redisURL, Channel: channel}, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func readEvent(t *testing.T, c *websocket.Client) websocket.Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev websocket.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
		return websocket.Event{}
	}
}

// A classification completed in one process reaches WebSocket clients of
// another through Redis.
func TestClassificationCrossesProcesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	channel := fmt.Sprintf("neuroscribe.test.%d", time.Now().UnixNano())

	// Process A owns the store.
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	store := patient.NewStore(
		patient.WithClock(clk),
		patient.WithScheduler(patient.NewClassifier(patient.ClassifierConfig{
			Clock:    clk,
			MinDelay: patient.DefaultMinDelay,
			MaxDelay: patient.DefaultMaxDelay,
			Rand:     rand.New(rand.NewPCG(1, 2)),
		})),
	)
	publisher := patient.NewEventPublisher(newRedisBus(t, ctx, channel), zerolog.Nop())
	detach := publisher.Attach(store)
	defer detach()

	// Process B only relays to its WebSocket clients.
	hub := websocket.NewHub(zerolog.Nop())
	if err := newRedisBus(t, ctx, channel).StartForwarder(ctx, hub.Forward); err != nil {
		t.Fatal(err)
	}

	rec := store.Create(patient.NewRecord{
		Name:         "Jane Smith",
		ClinicalData: patient.ClinicalData{Age: 80, Sex: patient.SexFemale, MMSE: 20, CDR: 1, ETIV: 1850, NWBV: 0.68, ASF: 0.95},
	})
	client := &websocket.Client{
		ID:     "viewer",
		Topics: []string{patient.RecordTopic(rec.ID)},
		Send:   make(chan []byte, 8),
	}
	hub.Register(client)
	defer hub.Unregister(client)

	clk.Advance(patient.DefaultMaxDelay)

	ev := readEvent(t, client)
	if ev.Type != patient.EventUpdated || ev.ResourceID != rec.ID.String() {
		t.Fatalf("unexpected event %+v", ev)
	}
	var got patient.PatientRecord
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != patient.StatusComplete || !got.Prediction.IsSet() {
		t.Errorf("expected completed record with prediction, got %+v", got)
	}
}

func TestRedisBus_StopsForwardingOnCancel(t *testing.T) {
	ctx := context.Background()
	channel := fmt.Sprintf("neuroscribe.test.%d", time.Now().UnixNano())
	pub := newRedisBus(t, ctx, channel)
	sub := newRedisBus(t, ctx, channel)

	fwdCtx, cancel := context.WithCancel(ctx)
	got := make(chan eventbus.Message, 4)
	if err := sub.StartForwarder(fwdCtx, func(m eventbus.Message) { got <- m }); err != nil {
		t.Fatal(err)
	}

	if err := pub.Publish(ctx, eventbus.Message{Type: "patient.created", Topic: "patients"}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if m.Type != "patient.created" {
			t.Errorf("unexpected message %+v", m)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	time.Sleep(200 * time.Millisecond)
	pub.Publish(ctx, eventbus.Message{Type: "patient.updated", Topic: "patients"})
	select {
	case m := <-got:
		t.Errorf("expected no delivery after cancel, got %+v", m)
	case <-time.After(500 * time.Millisecond):
	}
}
