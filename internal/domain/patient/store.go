package patient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/neuroscribe/internal/platform/clock"
)

var (
	ErrRecordNotFound = errors.New("patient record not found")
	ErrInvalidRecord  = errors.New("invalid patient record")
)

// Scheduler arranges for complete to be called once for id, some time later.
// It returns the delay it chose.
type Scheduler interface {
	Schedule(id uuid.UUID, complete func(id uuid.UUID, label string)) time.Duration
}

// Store owns the in-memory set of patient records and the observers waiting
// for classification results. One Store is created per process and shared
// by reference.
type Store struct {
	clock       clock.Clock
	listLatency time.Duration
	scheduler   Scheduler
	logger      zerolog.Logger

	mu      sync.RWMutex
	records map[uuid.UUID]PatientRecord
	order   []uuid.UUID // newest first

	observers *observerRegistry
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source for SubmittedAt and list latency.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithListLatency makes List wait d before answering, mimicking a remote
// backend.
func WithListLatency(d time.Duration) StoreOption {
	return func(s *Store) { s.listLatency = d }
}

// WithScheduler sets the classifier that completes new records.
func WithScheduler(sch Scheduler) StoreOption {
	return func(s *Store) { s.scheduler = sch }
}

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = l.With().Str("component", "patient_store").Logger() }
}

// NewStore returns an empty Store. Without WithScheduler it uses a
// Classifier with default settings on the store's clock.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		clock:     clock.Real(),
		logger:    zerolog.Nop(),
		records:   make(map[uuid.UUID]PatientRecord),
		observers: newObserverRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		cfg := DefaultClassifierConfig()
		cfg.Clock = s.clock
		s.scheduler = NewClassifier(cfg)
	}
	return s
}

// List returns a snapshot of every record, newest first. It only fails if
// ctx ends while the configured latency elapses.
func (s *Store) List(ctx context.Context) ([]PatientRecord, error) {
	if s.listLatency > 0 {
		select {
		case <-s.clock.After(s.listLatency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PatientRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

// Get returns a snapshot of a single record.
func (s *Store) Get(id uuid.UUID) (PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return PatientRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CountByStatus returns the number of records in status.
func (s *Store) CountByStatus(status Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// Create stores a new Processing record, schedules its classification and
// returns it without waiting for the result. Content is not validated here.
func (s *Store) Create(in NewRecord) PatientRecord {
	s.mu.Lock()
	id := s.unusedIDLocked()
	rec := PatientRecord{
		ID:           id,
		Name:         in.Name,
		ClinicalData: in.ClinicalData,
		ImagingFile:  in.ImagingFile,
		Status:       StatusProcessing,
		SubmittedAt:  s.clock.Now(),
		Summary:      in.Summary,
	}
	s.records[id] = rec
	s.order = append([]uuid.UUID{id}, s.order...)
	s.mu.Unlock()

	delay := s.scheduler.Schedule(id, s.complete)
	s.logger.Info().
		Str("record_id", id.String()).
		Dur("classification_delay", delay).
		Msg("patient record created")

	return rec
}

// Restore inserts pre-built records, e.g. demo data. Records still in
// Processing are scheduled exactly like created ones. Either every record
// is inserted or none is.
func (s *Store) Restore(records ...PatientRecord) error {
	s.mu.Lock()
	seen := make(map[uuid.UUID]bool, len(records))
	for i, rec := range records {
		if err := checkRecord(rec); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := s.records[rec.ID]; dup || seen[rec.ID] {
			s.mu.Unlock()
			return fmt.Errorf("record %s: duplicate id: %w", rec.ID, ErrInvalidRecord)
		}
		seen[rec.ID] = true
	}

	var pending []uuid.UUID
	for _, rec := range records {
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
		if rec.Status == StatusProcessing {
			pending = append(pending, rec.ID)
		}
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.records[s.order[i]].SubmittedAt.After(s.records[s.order[j]].SubmittedAt)
	})
	s.mu.Unlock()

	for _, id := range pending {
		s.scheduler.Schedule(id, s.complete)
	}
	s.logger.Info().Int("count", len(records)).Int("pending", len(pending)).Msg("patient records restored")
	return nil
}

// Subscribe registers fn for every completed classification. The returned
// func removes exactly this registration; calling it again does nothing.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return s.observers.register(fn)
}

// SubscriberCount returns the number of registered observers.
func (s *Store) SubscriberCount() int {
	return s.observers.len()
}

// complete moves a Processing record to Complete by replacing it whole,
// then notifies observers outside the lock. A missing or already settled
// record is left alone.
func (s *Store) complete(id uuid.UUID, label string) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusProcessing {
		s.mu.Unlock()
		s.logger.Warn().Str("record_id", id.String()).Bool("found", ok).Msg("classification result dropped")
		return
	}
	updated := rec.completed(label)
	s.records[id] = updated
	s.mu.Unlock()

	s.logger.Info().
		Str("record_id", id.String()).
		Str("prediction", label).
		Msg("patient record classified")

	s.observers.notify(updated)
}

func (s *Store) unusedIDLocked() uuid.UUID {
	for {
		id := uuid.New()
		if _, taken := s.records[id]; !taken {
			return id
		}
	}
}

func checkRecord(rec PatientRecord) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("missing id: %w", ErrInvalidRecord)
	}
	switch rec.Status {
	case StatusComplete:
		if label, ok := rec.Prediction.Get(); !ok || label == "" {
			return fmt.Errorf("complete record without prediction: %w", ErrInvalidRecord)
		}
	case StatusProcessing, StatusError:
		if rec.Prediction.IsSet() {
			return fmt.Errorf("%s record with prediction: %w", rec.Status, ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("unknown status %q: %w", rec.Status, ErrInvalidRecord)
	}
	return nil
}
