package core

import "net/http"

// RegisterRoutes wires the REST API surface of spec §6 onto the app's
// router, plus the ambient liveness/metrics/favicon endpoints.
func (a *App) RegisterRoutes() {
	r := a.Router()

	r.Get("/", http.HandlerFunc(a.Index))
	r.Get("/favicon.ico", http.HandlerFunc(FaviconHandler))
	r.Get("/metrics", http.HandlerFunc(a.MetricsHandler))

	r.Post("/acme/request_certificate", http.HandlerFunc(a.RequestCertificate))
	r.Post("/acme/renew_certificate", http.HandlerFunc(a.RenewCertificate))
	r.Post("/acme/finalize_order", http.HandlerFunc(a.FinalizeOrder))
	r.Post("/acme/get_certificate_bundle", http.HandlerFunc(a.GetCertificateBundle))
	r.Post("/acme/revoke_certificate", http.HandlerFunc(a.RevokeCertificate))
	r.Post("/acme/list_certificates", http.HandlerFunc(a.ListCertificates))

	r.Post("/bigip/publish_http01_challenges", http.HandlerFunc(a.PublishHttp01Challenges))
	r.Post("/bigip/deploy_certificate", http.HandlerFunc(a.DeployCertificate))
}
