package patient

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/neuroscribe/internal/platform/clock"
)

func seededConfig(fc *clock.Fake, seed1, seed2 uint64) ClassifierConfig {
	cfg := DefaultClassifierConfig()
	cfg.Clock = fc
	cfg.Rand = rand.New(rand.NewPCG(seed1, seed2))
	return cfg
}

func TestClassifier_DelayWithinWindow(t *testing.T) {
	fc := clock.NewFake(testStart)
	c := NewClassifier(seededConfig(fc, 7, 7))

	for i := 0; i < 500; i++ {
		d := c.Schedule(uuid.New(), func(uuid.UUID, string) {})
		if d < DefaultMinDelay || d >= DefaultMaxDelay {
			t.Fatalf("delay %v outside [%v, %v)", d, DefaultMinDelay, DefaultMaxDelay)
		}
	}
}

func TestClassifier_FiresOnceWithKnownLabel(t *testing.T) {
	fc := clock.NewFake(testStart)
	c := NewClassifier(seededConfig(fc, 1, 2))

	id := uuid.New()
	var gotID uuid.UUID
	var labels []string
	delay := c.Schedule(id, func(got uuid.UUID, label string) {
		gotID = got
		labels = append(labels, label)
	})

	fc.Advance(delay - time.Nanosecond)
	if len(labels) != 0 {
		t.Fatal("fired before its delay")
	}
	fc.Advance(time.Nanosecond)
	fc.Advance(time.Hour)

	if len(labels) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(labels))
	}
	if gotID != id {
		t.Errorf("expected id %s, got %s", id, gotID)
	}
	if !slices.Contains(DefaultLabels, labels[0]) {
		t.Errorf("unexpected label %q", labels[0])
	}
}

func TestClassifier_LabelsCoverSet(t *testing.T) {
	fc := clock.NewFake(testStart)
	c := NewClassifier(seededConfig(fc, 3, 4))

	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		c.Schedule(uuid.New(), func(_ uuid.UUID, label string) { counts[label]++ })
	}
	fc.Advance(DefaultMaxDelay)

	for _, label := range DefaultLabels {
		if counts[label] == 0 {
			t.Errorf("label %q never drawn in 400 samples", label)
		}
	}
	if len(counts) != len(DefaultLabels) {
		t.Errorf("unexpected labels drawn: %v", counts)
	}
}

func TestClassifier_Config(t *testing.T) {
	fc := clock.NewFake(testStart)
	c := NewClassifier(ClassifierConfig{
		Clock:    fc,
		MinDelay: time.Second,
		MaxDelay: time.Second,
		Labels:   []string{"Only"},
	})

	var label string
	if d := c.Schedule(uuid.New(), func(_ uuid.UUID, l string) { label = l }); d != time.Second {
		t.Errorf("expected fixed 1s delay, got %v", d)
	}
	fc.Advance(time.Second)
	if label != "Only" {
		t.Errorf("expected custom label, got %q", label)
	}

	got := c.Labels()
	got[0] = "changed"
	if c.Labels()[0] != "Only" {
		t.Error("Labels must return a copy")
	}
}

func TestNewClassifier_Defaults(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	if c.minDelay != DefaultMinDelay || c.maxDelay != DefaultMaxDelay {
		t.Errorf("expected default window, got [%v, %v]", c.minDelay, c.maxDelay)
	}
	if !slices.Equal(c.Labels(), DefaultLabels) {
		t.Errorf("expected default labels, got %v", c.Labels())
	}

	c = NewClassifier(ClassifierConfig{MinDelay: 5 * time.Second, MaxDelay: time.Second})
	if c.maxDelay != 5*time.Second {
		t.Errorf("expected max clamped to min, got %v", c.maxDelay)
	}
}

func TestNewClassifier_ZeroWindowIsImmediate(t *testing.T) {
	fc := clock.NewFake(testStart)
	c := NewClassifier(ClassifierConfig{Clock: fc})
	if !slices.Equal(c.Labels(), DefaultLabels) {
		t.Errorf("expected default labels, got %v", c.Labels())
	}

	var fired int
	if d := c.Schedule(uuid.New(), func(uuid.UUID, string) { fired++ }); d != 0 {
		t.Fatalf("expected zero delay, got %v", d)
	}
	fc.Advance(0)
	if fired != 1 {
		t.Errorf("expected immediate completion, got %d", fired)
	}
}
