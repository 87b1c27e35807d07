package patient

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/neuroscribe/internal/platform/clock"
)

// DefaultLabels are the diagnostic classes the simulated model can return.
var DefaultLabels = []string{
	"Non Demented",
	"Very Mild Demented",
	"Mild Demented",
	"Moderate Demented",
}

const (
	DefaultMinDelay = 8 * time.Second
	DefaultMaxDelay = 13 * time.Second
)

// Classifier stands in for an external predictive service. Each scheduled
// record completes after a random delay with a randomly chosen label.
type Classifier struct {
	clock    clock.Clock
	minDelay time.Duration
	maxDelay time.Duration
	labels   []string

	mu  sync.Mutex
	rng *rand.Rand
}

// ClassifierConfig configures a Classifier. A nil Clock, Rand or empty
// Labels take the defaults; the delay window is used as given, so a zero
// window classifies immediately.
type ClassifierConfig struct {
	Clock    clock.Clock
	MinDelay time.Duration
	MaxDelay time.Duration
	Labels   []string
	Rand     *rand.Rand
}

// DefaultClassifierConfig returns the 8-13s window over DefaultLabels.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
		Labels:   DefaultLabels,
	}
}

// NewClassifier builds a Classifier from cfg.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	labels := make([]string, len(cfg.Labels))
	copy(labels, cfg.Labels)

	return &Classifier{
		clock:    cfg.Clock,
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		labels:   labels,
		rng:      cfg.Rand,
	}
}

// Schedule arms a timer for id. When it fires, complete is called with a
// label drawn uniformly from the configured set. It always fires; there is
// no cancellation.
func (c *Classifier) Schedule(id uuid.UUID, complete func(id uuid.UUID, label string)) time.Duration {
	delay := c.nextDelay()
	c.clock.AfterFunc(delay, func() {
		complete(id, c.nextLabel())
	})
	return delay
}

// Labels returns a copy of the label set.
func (c *Classifier) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

func (c *Classifier) nextDelay() time.Duration {
	span := c.maxDelay - c.minDelay
	if span <= 0 {
		return c.minDelay
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minDelay + time.Duration(c.rng.Int64N(int64(span)))
}

func (c *Classifier) nextLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.labels[c.rng.IntN(len(c.labels))]
}
