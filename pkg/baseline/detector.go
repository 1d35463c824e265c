package baseline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/argus-obs/argus/pkg/events"
)

const (
	// Z-score thresholds: above zNotable is an anomaly, above zUrgent an
	// urgent one.
	zNotable = 2.0
	zUrgent  = 3.0

	// anomalyCooldown stops the same metric from re-firing for 15 minutes.
	anomalyCooldown = 900 * time.Second
)

// Anomaly is one metric sample that deviates from its baseline.
type Anomaly struct {
	MetricName    string
	Value         float64
	ZScore        float64
	BaselineMean  float64
	BaselineStdev float64
	Severity      events.Severity
	Message       string
}

// Event converts the anomaly to a bus event.
func (a Anomaly) Event(source events.Source, tenant string) events.Event {
	e := events.New(source, events.TypeAnomalyDetected, tenant)
	e.Severity = a.Severity
	e.Message = a.Message
	e.Data = map[string]any{
		"metric_name":     a.MetricName,
		"value":           a.Value,
		"z_score":         a.ZScore,
		"baseline_mean":   a.BaselineMean,
		"baseline_stddev": a.BaselineStdev,
	}
	return e
}

// Detector compares live samples against tracked baselines.
//
// A metric whose baseline stddev is zero never produces an anomaly. A
// per-metric cooldown prevents alert storms from a sustained deviation.
type Detector struct {
	tracker *Tracker
	now     func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithClock injects a clock for cooldown tests.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

func NewDetector(tracker *Tracker, opts ...DetectorOption) *Detector {
	d := &Detector{
		tracker:   tracker,
		now:       time.Now,
		lastFired: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check tests one sample against its baseline. Returns nil when there is no
// baseline, the stddev is zero, the deviation is within bounds, or the
// metric is in cooldown.
func (d *Detector) Check(name string, value float64) *Anomaly {
	bl, ok := d.tracker.Get(name)
	if !ok || bl.Stddev == 0 {
		return nil
	}

	z := math.Abs(value-bl.Mean) / bl.Stddev
	if z <= zNotable {
		return nil
	}

	now := d.now()
	d.mu.Lock()
	if last, ok := d.lastFired[name]; ok && now.Sub(last) < anomalyCooldown {
		d.mu.Unlock()
		return nil
	}
	d.lastFired[name] = now
	d.mu.Unlock()

	severity := events.SeverityNotable
	if z > zUrgent {
		severity = events.SeverityUrgent
	}
	return &Anomaly{
		MetricName:    name,
		Value:         value,
		ZScore:        math.Round(z*100) / 100,
		BaselineMean:  bl.Mean,
		BaselineStdev: bl.Stddev,
		Severity:      severity,
		Message: fmt.Sprintf("Anomaly: %s=%.1f (z=%.1f, baseline mean=%.1f, stddev=%.1f)",
			name, value, z, bl.Mean, bl.Stddev),
	}
}

// CheckAllCurrent tests a snapshot of current samples, returning every
// detected anomaly.
func (d *Detector) CheckAllCurrent(metrics map[string]float64) []Anomaly {
	var anomalies []Anomaly
	for name, value := range metrics {
		if a := d.Check(name, value); a != nil {
			anomalies = append(anomalies, *a)
		}
	}
	return anomalies
}
