package patient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/platform/eventbus"
)

func TestEventPublisher(t *testing.T) {
	store, fc := newTestStore(t)
	bus := eventbus.NewLocal()
	defer bus.Close()

	var got []eventbus.Message
	if err := bus.StartForwarder(context.Background(), func(m eventbus.Message) { got = append(got, m) }); err != nil {
		t.Fatal(err)
	}

	pub := NewEventPublisher(bus, zerolog.Nop())
	detach := pub.Attach(store)

	rec := store.Create(janeSmith())
	pub.SubmissionAccepted(rec)
	fc.Advance(DefaultMaxDelay)

	if len(got) != 4 {
		t.Fatalf("expected 4 messages (2 events x 2 topics), got %d", len(got))
	}

	wantTypes := []string{EventCreated, EventCreated, EventUpdated, EventUpdated}
	wantTopics := []string{TopicPatients, RecordTopic(rec.ID), TopicPatients, RecordTopic(rec.ID)}
	for i, m := range got {
		if m.Type != wantTypes[i] || m.Topic != wantTopics[i] {
			t.Errorf("message %d: expected %s on %s, got %s on %s", i, wantTypes[i], wantTopics[i], m.Type, m.Topic)
		}
		if m.ResourceID != rec.ID.String() {
			t.Errorf("message %d: unexpected resource id %s", i, m.ResourceID)
		}
	}

	var updated PatientRecord
	if err := json.Unmarshal(got[2].Data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusComplete || !updated.Prediction.IsSet() {
		t.Errorf("expected completed record in update payload, got %+v", updated)
	}

	detach()
	if store.SubscriberCount() != 0 {
		t.Error("expected publisher detached from store")
	}
}
