package debug

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Profiler collects timing statistics for named sections.
type Profiler struct {
	mu           sync.Mutex
	measurements map[string]*Measurement
	enabled      atomic.Bool
	maxSamples   int
	skipped      atomic.Uint64
}

// Measurement holds timing statistics for a profiled section.
type Measurement struct {
	Name      string
	Count     uint64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	samples   []time.Duration
	next      int
}

// NewProfiler creates a new profiler keeping maxSamples recent samples per section.
func NewProfiler(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	p := &Profiler{
		measurements: make(map[string]*Measurement),
		maxSamples:   maxSamples,
	}
	p.enabled.Store(true)
	return p
}

// SetEnabled enables or disables profiling.
func (p *Profiler) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

// Time measures the execution time of a function.
func (p *Profiler) Time(name string, fn func()) {
	start := time.Now()
	fn()
	p.Record(name, time.Since(start))
}

// Record stores a measurement, waiting for the lock. Control thread only.
func (p *Profiler) Record(name string, elapsed time.Duration) {
	if !p.enabled.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordLocked(name, elapsed)
}

// TryRecord stores a measurement unless the profiler is busy. Safe to call
// from the audio thread once the section has been seen before.
func (p *Profiler) TryRecord(name string, elapsed time.Duration) bool {
	if !p.enabled.Load() {
		return false
	}
	if !p.mu.TryLock() {
		p.skipped.Add(1)
		return false
	}
	defer p.mu.Unlock()
	p.recordLocked(name, elapsed)
	return true
}

func (p *Profiler) recordLocked(name string, elapsed time.Duration) {
	m, exists := p.measurements[name]
	if !exists {
		m = &Measurement{
			Name:    name,
			MinTime: elapsed,
			MaxTime: elapsed,
			samples: make([]time.Duration, p.maxSamples),
		}
		p.measurements[name] = m
	}

	m.Count++
	m.TotalTime += elapsed
	m.LastTime = elapsed
	if elapsed < m.MinTime {
		m.MinTime = elapsed
	}
	if elapsed > m.MaxTime {
		m.MaxTime = elapsed
	}

	m.samples[m.next] = elapsed
	m.next = (m.next + 1) % len(m.samples)
}

// Get returns a copy of the measurement for a named section.
func (p *Profiler) Get(name string) (Measurement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, exists := p.measurements[name]
	if !exists {
		return Measurement{}, false
	}
	c := *m
	c.samples = append([]time.Duration(nil), m.samples...)
	return c, true
}

// Skipped returns how many TryRecord calls were dropped.
func (p *Profiler) Skipped() uint64 {
	return p.skipped.Load()
}

// Reset clears all measurements.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.measurements = make(map[string]*Measurement)
}

// Report generates a performance report.
func (p *Profiler) Report() string {
	p.mu.Lock()
	names := make([]string, 0, len(p.measurements))
	for name := range p.measurements {
		names = append(names, name)
	}
	p.mu.Unlock()

	if len(names) == 0 {
		return "No measurements recorded"
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Performance Report:\n")
	for _, name := range names {
		m, _ := p.Get(name)
		fmt.Fprintf(&sb, "%s: count=%d avg=%v min=%v max=%v p99=%v\n",
			name, m.Count, m.Average(), m.MinTime, m.MaxTime, m.Percentile(99))
	}
	return sb.String()
}

// Average returns the average time for this measurement.
func (m *Measurement) Average() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// Percentile calculates the given percentile from recent samples.
func (m *Measurement) Percentile(pct float64) time.Duration {
	n := int(m.Count)
	if n > len(m.samples) {
		n = len(m.samples)
	}
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, m.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(n-1) * pct / 100.0)
	return sorted[index]
}

// CPULoad returns the average time of a section as a percentage of the
// block period for the given sample rate and block size.
func (m *Measurement) CPULoad(sampleRate float64, blockSize int) float64 {
	if sampleRate <= 0 || blockSize <= 0 {
		return 0
	}
	period := time.Duration(float64(blockSize) / sampleRate * float64(time.Second))
	return float64(m.Average()) / float64(period) * 100.0
}
