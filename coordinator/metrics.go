package coordinator

import (
	"sync"

	"github.com/keilerkonzept/topk"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Coordinator's operational counters, grounded on
// core/handler_metrics.go's promhttp-served CounterVec pattern. rateLimited
// additionally feeds a top-K sketch so an operator dashboard can surface
// which domains are hitting provider rate limits without storing a
// per-domain counter (cardinality of domains is unbounded).
type Metrics struct {
	issuesTotal      *prometheus.CounterVec
	forceIssueTotal  prometheus.Counter
	preflightTimeout prometheus.Counter

	mu               sync.Mutex
	rateLimitedTopK  *topk.Sketch
}

// NewMetrics registers the Coordinator's counters against reg. Panics on
// registration collision, consistent with the teacher's
// NewMetricsMiddleware contract (caller ensures metric names are unique).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		issuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acmebigip_issuances_total",
			Help: "Total certificate issuance attempts, labeled by outcome.",
		}, []string{"outcome"}),
		forceIssueTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acmebigip_force_issue_retries_total",
			Help: "Total force-issue retries triggered by a reused-skip outcome.",
		}),
		preflightTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acmebigip_preflight_timeouts_total",
			Help: "Total preflight verifications that exceeded their deadline.",
		}),
		rateLimitedTopK: topk.New(20),
	}

	reg.MustRegister(m.issuesTotal, m.forceIssueTotal, m.preflightTimeout)
	return m
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.issuesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeForceIssue() {
	if m == nil {
		return
	}
	m.forceIssueTotal.Inc()
}

func (m *Metrics) observePreflightTimeout() {
	if m == nil {
		return
	}
	m.preflightTimeout.Inc()
}

// observeRateLimited feeds domain into the top-K sketch of most frequently
// rate-limited domains.
func (m *Metrics) observeRateLimited(domain string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitedTopK.Incr(domain)
}

// TopRateLimited returns the current top-K most frequently rate-limited
// domains, most-frequent first.
func (m *Metrics) TopRateLimited() []topk.Item {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLimitedTopK.Top()
}
