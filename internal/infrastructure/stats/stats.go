// Package stats keeps rolling latency samples per named operation.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultWindow = 512

type Summary struct {
	Name  string
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("%-24s %5d∑ %8s×50 %8s×95 %8s×99",
		s.Name, s.Count, s.P50.Round(time.Millisecond), s.P95.Round(time.Millisecond), s.P99.Round(time.Millisecond))
}

type series struct {
	samples []time.Duration
	next    int
	count   int
}

type Recorder struct {
	mu     sync.Mutex
	window int
	series map[string]*series
}

// New creates a recorder keeping at most window samples per name.
func New(window int) *Recorder {
	if window <= 0 {
		window = defaultWindow
	}
	return &Recorder{window: window, series: make(map[string]*series)}
}

func (r *Recorder) Record(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[name]
	if !ok {
		s = &series{samples: make([]time.Duration, 0, r.window)}
		r.series[name] = s
	}
	if len(s.samples) < r.window {
		s.samples = append(s.samples, d)
	} else {
		s.samples[s.next] = d
	}
	s.next = (s.next + 1) % r.window
	s.count++
}

// Summary returns percentiles for name; ok is false when nothing was recorded
// since the last reset.
func (r *Recorder) Summary(name string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, found := r.series[name]
	if !found || s.count == 0 {
		return Summary{}, false
	}
	sorted := append([]time.Duration(nil), s.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Summary{
		Name:  name,
		Count: s.count,
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}, true
}

// Summaries returns every non-empty series ordered by name.
func (r *Recorder) Summaries() []Summary {
	r.mu.Lock()
	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	var out []Summary
	for _, name := range names {
		if s, ok := r.Summary(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// LogAll writes one line per known operation.
func (r *Recorder) LogAll(log interface{ Infof(string, ...interface{}) }) {
	for _, s := range r.Summaries() {
		log.Infof("stats: %s", s)
	}
}

// Reset clears samples but keeps the known names.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.series {
		s.samples = s.samples[:0]
		s.next = 0
		s.count = 0
	}
}

// nearest-rank percentile over sorted samples
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
