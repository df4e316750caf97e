package prerouter

import (
	"net/http"
	"strconv"

	"github.com/caasmo/acmebigip/core"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricName = "http_server_requests_total"
	metricHelp = "Total number of HTTP requests handled by the server, labeled by status code."
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricName,
		Help: metricHelp,
	},
	[]string{"code"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Metrics is a middleware that counts requests by response status code. It
// defers to the app's configuration on every request so toggling
// Metrics.Activated takes effect without restarting the process.
type Metrics struct {
	app           *core.App
	requestsTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics middleware backed by the global request counter.
func NewMetrics(app *core.App) *Metrics {
	return &Metrics{
		app:           app,
		requestsTotal: requestsTotal,
	}
}

// Execute wraps next, counting each request once it completes. It relies on
// an earlier Recorder middleware in the chain to expose the response status
// via core.ResponseRecorder; if that's missing, the request is still served
// but isn't counted.
func (m *Metrics) Execute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.app.Config().Metrics.Activated {
			next.ServeHTTP(w, r)
			return
		}

		rec, ok := w.(*core.ResponseRecorder)
		if !ok {
			m.app.Logger().Error("metrics middleware: expected core.ResponseRecorder but got different type",
				"got", w,
			)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(rec, r)

		m.requestsTotal.WithLabelValues(strconv.Itoa(rec.Status)).Inc()
	})
}
