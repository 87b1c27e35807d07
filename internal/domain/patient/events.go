package patient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/platform/eventbus"
)

const (
	EventCreated = "patient.created"
	EventUpdated = "patient.updated"

	// TopicPatients carries events for every record.
	TopicPatients = "patients"
)

// RecordTopic is the topic carrying events for a single record.
func RecordTopic(id uuid.UUID) string {
	return TopicPatients + "/" + id.String()
}

// EventPublisher puts record events on the bus: created for accepted
// submissions, updated for finished classifications.
type EventPublisher struct {
	bus    eventbus.Bus
	logger zerolog.Logger
	now    func() time.Time
}

func NewEventPublisher(bus eventbus.Bus, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:    bus,
		logger: logger.With().Str("component", "patient_events").Logger(),
		now:    time.Now,
	}
}

// Attach subscribes p to store completions. The returned func detaches it.
func (p *EventPublisher) Attach(store *Store) (detach func()) {
	return store.Subscribe(func(rec PatientRecord) {
		p.publish(EventUpdated, rec)
	})
}

// SubmissionAccepted implements SubmissionRecorder.
func (p *EventPublisher) SubmissionAccepted(rec PatientRecord) {
	p.publish(EventCreated, rec)
}

func (p *EventPublisher) publish(eventType string, rec PatientRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error().Err(err).Str("record_id", rec.ID.String()).Msg("marshal record event")
		return
	}

	ts := p.now().UTC()
	for _, topic := range []string{TopicPatients, RecordTopic(rec.ID)} {
		msg := eventbus.Message{
			Type:       eventType,
			Topic:      topic,
			ResourceID: rec.ID.String(),
			Timestamp:  ts,
			Data:       data,
		}
		// Observers run on the classification timer, which has no context.
		if err := p.bus.Publish(context.Background(), msg); err != nil {
			p.logger.Error().Err(err).
				Str("record_id", rec.ID.String()).
				Str("topic", topic).
				Msg("publish record event")
		}
	}
}
