package ops

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"steamharvest/internal/domain"
	"steamharvest/internal/ports"
)

// Terminal dispositions tallied per item.
const (
	DispositionSucceeded = "succeeded"
	DispositionInvalid   = "invalid"
	DispositionSkipped   = "skipped_terminal"
	DispositionAbandoned = "abandoned"
)

// Metrics aggregates run counters for the exposition endpoint. Updates
// come from the fetch path, the pool and the writer; reads come from the
// ops server.
type Metrics struct {
	mu sync.Mutex

	requests    map[requestKey]int64
	latencySum  map[domain.SourceKind]time.Duration
	latencyObs  map[domain.SourceKind]int64
	items       map[string]int64
	concurrency int
	delayMs     int64
	mode        string
	hibernates  int64
	buffered    int
	flushes     int
	persisted   int
	startedAt   time.Time
}

type requestKey struct {
	source domain.SourceKind
	status domain.OutcomeStatus
}

var _ ports.OutcomeRecorder = (*Metrics)(nil)

// NewMetrics returns an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{
		requests:   map[requestKey]int64{},
		latencySum: map[domain.SourceKind]time.Duration{},
		latencyObs: map[domain.SourceKind]int64{},
		items:      map[string]int64{},
		startedAt:  time.Now(),
	}
}

// Record counts one fetch attempt.
func (m *Metrics) Record(outcome domain.FetchOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[requestKey{outcome.Source, outcome.Status}]++
	m.latencySum[outcome.Source] += outcome.Latency
	m.latencyObs[outcome.Source]++
}

// CountItem tallies one item reaching a terminal disposition for this run.
func (m *Metrics) CountItem(disposition string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[disposition]++
}

// SetGovernor snapshots the admission decision gauges.
func (m *Metrics) SetGovernor(concurrency int, delay time.Duration, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concurrency = concurrency
	m.delayMs = delay.Milliseconds()
	m.mode = mode
}

// CountHibernation tallies one hibernation escalation.
func (m *Metrics) CountHibernation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hibernates++
}

// SetSink snapshots the writer gauges.
func (m *Metrics) SetSink(buffered, flushes, persisted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffered = buffered
	m.flushes = flushes
	m.persisted = persisted
}

// Render produces the Prometheus text exposition of every counter and gauge.
func (m *Metrics) Render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder

	b.WriteString("# HELP steamharvest_requests_total Fetch attempts by source and status.\n")
	b.WriteString("# TYPE steamharvest_requests_total counter\n")
	for _, key := range sortedRequestKeys(m.requests) {
		fmt.Fprintf(&b, "steamharvest_requests_total{source=%q,status=%q} %d\n",
			key.source, key.status, m.requests[key])
	}

	b.WriteString("# HELP steamharvest_request_seconds Cumulative fetch latency by source.\n")
	b.WriteString("# TYPE steamharvest_request_seconds counter\n")
	for _, source := range sortedSources(m.latencyObs) {
		fmt.Fprintf(&b, "steamharvest_request_seconds_sum{source=%q} %.3f\n",
			source, m.latencySum[source].Seconds())
		fmt.Fprintf(&b, "steamharvest_request_seconds_count{source=%q} %d\n",
			source, m.latencyObs[source])
	}

	b.WriteString("# HELP steamharvest_items_total Items by terminal disposition.\n")
	b.WriteString("# TYPE steamharvest_items_total counter\n")
	for _, disposition := range sortedKeys(m.items) {
		fmt.Fprintf(&b, "steamharvest_items_total{disposition=%q} %d\n",
			disposition, m.items[disposition])
	}

	b.WriteString("# TYPE steamharvest_governor_concurrency gauge\n")
	fmt.Fprintf(&b, "steamharvest_governor_concurrency %d\n", m.concurrency)
	b.WriteString("# TYPE steamharvest_governor_delay_ms gauge\n")
	fmt.Fprintf(&b, "steamharvest_governor_delay_ms %d\n", m.delayMs)
	if m.mode != "" {
		b.WriteString("# TYPE steamharvest_governor_mode gauge\n")
		fmt.Fprintf(&b, "steamharvest_governor_mode{mode=%q} 1\n", m.mode)
	}
	b.WriteString("# TYPE steamharvest_governor_hibernations_total counter\n")
	fmt.Fprintf(&b, "steamharvest_governor_hibernations_total %d\n", m.hibernates)

	b.WriteString("# TYPE steamharvest_sink_buffered gauge\n")
	fmt.Fprintf(&b, "steamharvest_sink_buffered %d\n", m.buffered)
	b.WriteString("# TYPE steamharvest_sink_flushes_total counter\n")
	fmt.Fprintf(&b, "steamharvest_sink_flushes_total %d\n", m.flushes)
	b.WriteString("# TYPE steamharvest_sink_persisted_total counter\n")
	fmt.Fprintf(&b, "steamharvest_sink_persisted_total %d\n", m.persisted)

	fmt.Fprintf(&b, "# TYPE steamharvest_uptime_seconds gauge\nsteamharvest_uptime_seconds %.0f\n",
		time.Since(m.startedAt).Seconds())

	return b.String()
}

func sortedRequestKeys(m map[requestKey]int64) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].status < keys[j].status
	})
	return keys
}

func sortedSources(m map[domain.SourceKind]int64) []domain.SourceKind {
	sources := make([]domain.SourceKind, 0, len(m))
	for source := range m {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
