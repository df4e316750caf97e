package prerouter

import (
	"net/http"

	"github.com/caasmo/acmebigip/core"
)

// Maintenance short-circuits every request with 503 while the operator has
// flipped Maintenance.Activated on, e.g. during a BIG-IP appliance upgrade
// window where renewals would fail anyway.
type Maintenance struct {
	app *core.App
}

// NewMaintenance creates a maintenance-mode middleware instance.
func NewMaintenance(app *core.App) *Maintenance {
	return &Maintenance{app: app}
}

func (m *Maintenance) Execute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.app.Config().Maintenance.Activated {
			next.ServeHTTP(w, r)
			return
		}

		setHeadersMaintenance(w)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("service temporarily unavailable for maintenance"))
	})
}

func setHeadersMaintenance(w http.ResponseWriter) {
	for key, value := range core.HeadersMaintenancePage {
		w.Header().Set(key, value)
	}
}
