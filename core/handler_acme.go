package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/db"
)

// acmeErrorResponse is the friendly-error envelope of spec §6/§7: a
// coordinator.Error's Kind selects the status and reason; DirectoryURL,
// RetryAfter (ISO) and FieldsNeeded ride along only when the Kind uses them.
type acmeErrorResponse struct {
	Reason       string   `json:"reason"`
	DirectoryURL string   `json:"directory_url,omitempty"`
	RetryAfter   string   `json:"retry_after,omitempty"`
	FieldsNeeded []string `json:"fields_needed,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// writeCoordinatorError maps a coordinator.Error's Kind onto the status
// codes and body shapes of spec §6/§7. Any other error is treated as
// internal.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	var cerr *coordinator.Error
	if !errors.As(err, &cerr) {
		writeJsonError(w, errorInternal)
		return
	}

	status := http.StatusInternalServerError
	code := CodeErrorInternal
	resp := acmeErrorResponse{Message: cerr.Error()}

	switch cerr.Kind {
	case coordinator.KindValidation:
		status, code = http.StatusBadRequest, CodeErrorInvalidRequest
		resp.Reason = "invalid_request"
	case coordinator.KindAcmeRateLimited:
		status, code = http.StatusTooManyRequests, CodeErrorAcmeRateLimit
		resp.Reason = "acme_rate_limited"
		resp.DirectoryURL = cerr.DirectoryURL
		if !cerr.RetryAfter.IsZero() {
			resp.RetryAfter = cerr.RetryAfter.UTC().Format(time.RFC3339)
		}
	case coordinator.KindAcmeEABRequired:
		status, code = http.StatusBadRequest, CodeErrorEabRequired
		resp.Reason = "acme_eab_required"
		resp.DirectoryURL = cerr.DirectoryURL
		resp.FieldsNeeded = cerr.FieldsNeeded
	case coordinator.KindAcmeNotManaged:
		status, code = http.StatusConflict, CodeErrorConflict
		resp.Reason = "acme_not_managed"
	case coordinator.KindAcmeUnknown:
		status, code = http.StatusBadGateway, CodeErrorAcmeChallenge
		resp.Reason = "acme_unknown_failure"
	case coordinator.KindPreflightTimeout:
		status, code = http.StatusGatewayTimeout, CodeErrorAcmeChallenge
		resp.Reason = "preflight_timeout"
	case coordinator.KindLBAPIError:
		status, code = http.StatusBadGateway, CodeErrorBigipUnreachable
		resp.Reason = "bigip_unreachable"
	case coordinator.KindSecretStoreError:
		status, code = http.StatusBadGateway, CodeErrorSecretStore
		resp.Reason = "secret_store_error"
	default:
		resp.Reason = "internal_error"
	}

	writeJsonWithData(w, JsonResponseWithData{Status: status, Code: code, Message: cerr.Error(), Data: resp})
}

// http01File is one published challenge, shaped per spec §6's
// challenge.http01_files entries.
type http01File struct {
	Path             string `json:"path"`
	KeyAuthorization string `json:"keyAuthorization"`
}

// certResponse mirrors spec §6's request/renew_certificate response body.
type certResponse struct {
	CertID       string   `json:"cert_id"`
	Status       string   `json:"status"`
	NotBefore    string   `json:"not_before,omitempty"`
	NotAfter     string   `json:"not_after,omitempty"`
	San          []string `json:"san"`
	Provider     string   `json:"provider"`
	DirectoryURL string   `json:"directory_url"`
	Challenge    struct {
		Type       string       `json:"type"`
		Http01Files []http01File `json:"http01_files"`
	} `json:"challenge"`
}

func newCertResponse(rec *db.CertRecord) certResponse {
	resp := certResponse{
		CertID:       rec.CertID,
		Status:       string(rec.Status),
		San:          rec.San,
		Provider:     string(rec.Provider),
		DirectoryURL: rec.DirectoryURL,
	}
	if !rec.NotBefore.IsZero() {
		resp.NotBefore = rec.NotBefore.UTC().Format(time.RFC3339)
	}
	if !rec.NotAfter.IsZero() {
		resp.NotAfter = rec.NotAfter.UTC().Format(time.RFC3339)
	}
	resp.Challenge.Type = "HTTP-01"
	for _, ch := range rec.Deployed.Http01Challenges {
		resp.Challenge.Http01Files = append(resp.Challenge.Http01Files, http01File{
			Path:             ".well-known/acme-challenge/" + ch.Token,
			KeyAuthorization: ch.KeyAuthorization,
		})
	}
	return resp
}

func eabFromBody(kid, hmacKey string) *coordinator.EABSecret {
	if kid == "" && hmacKey == "" {
		return nil
	}
	return &coordinator.EABSecret{Kid: kid, HmacKey: hmacKey}
}

// requestCertificateBody is spec §6's request_certificate body.
type requestCertificateBody struct {
	Domains        []string `json:"domains"`
	Provider       string   `json:"provider"`
	DirectoryURL   string   `json:"directory_url"`
	EABKid         string   `json:"eab_kid"`
	EABHmacKey     string   `json:"eab_hmac_key"`
	ChallengeType  string   `json:"challenge_type"`
	ContactEmails  []string `json:"contact_emails"`
	KeyType        string   `json:"key_type"`
	Tags           []string `json:"tags"`
	BigipHost      string   `json:"bigip_host"`
	BigipPartition string   `json:"bigip_partition"`
	KeySecretPath  string   `json:"key_secret_path"`
}

// RequestCertificate handles POST /acme/request_certificate (spec §6).
func (a *App) RequestCertificate(w http.ResponseWriter, r *http.Request) {
	var body requestCertificateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJsonError(w, errorInvalidRequest)
		return
	}

	req := &coordinator.Request{
		Domains:        body.Domains,
		Provider:       body.Provider,
		DirectoryURL:   body.DirectoryURL,
		EAB:            eabFromBody(body.EABKid, body.EABHmacKey),
		ContactEmails:  body.ContactEmails,
		KeyType:        coordinator.KeyType(body.KeyType),
		Tags:           body.Tags,
		KeySecretPath:  body.KeySecretPath,
		BigipHost:      body.BigipHost,
		BigipPartition: body.BigipPartition,
	}

	rec, err := a.Coordinator().Issue(r.Context(), req)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk, Data: newCertResponse(rec)})
}

// renewCertificateBody is spec §6's renew_certificate body.
type renewCertificateBody struct {
	CertID        string   `json:"cert_id"`
	DirectoryURL  string   `json:"directory_url"`
	Provider      string   `json:"provider"`
	ContactEmails []string `json:"contact_emails"`
	EABKid        string   `json:"eab_kid"`
	EABHmacKey    string   `json:"eab_hmac_key"`
}

// RenewCertificate handles POST /acme/renew_certificate (spec §6).
func (a *App) RenewCertificate(w http.ResponseWriter, r *http.Request) {
	var body renewCertificateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJsonError(w, errorInvalidRequest)
		return
	}
	if body.CertID == "" {
		writeJsonError(w, errorMissingFields)
		return
	}

	req := &coordinator.Request{
		CertID:        body.CertID,
		DirectoryURL:  body.DirectoryURL,
		Provider:      body.Provider,
		ContactEmails: body.ContactEmails,
		EAB:           eabFromBody(body.EABKid, body.EABHmacKey),
	}

	rec, err := a.Coordinator().Renew(r.Context(), req)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJsonError(w, errorNotFound)
			return
		}
		writeCoordinatorError(w, err)
		return
	}
	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk, Data: newCertResponse(rec)})
}

// FinalizeOrder handles POST /acme/finalize_order (spec §6). The Coordinator
// runs issuance synchronously within request_certificate/renew_certificate,
// so finalize_order here re-reads the already-settled Certificate Record
// rather than resuming an in-flight order (SPEC_FULL §12).
func (a *App) FinalizeOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CertID string `json:"cert_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CertID == "" {
		writeJsonError(w, errorMissingFields)
		return
	}

	rec, err := a.Db().Get(body.CertID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJsonError(w, errorNotFound)
			return
		}
		writeJsonError(w, errorInternal)
		return
	}
	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk, Data: newCertResponse(rec)})
}

// bundleResponse is spec §6's get_certificate_bundle response body.
type bundleResponse struct {
	CertPEM       string   `json:"cert_pem"`
	ChainPEM      string   `json:"chain_pem"`
	NotBefore     string   `json:"not_before"`
	NotAfter      string   `json:"not_after"`
	San           []string `json:"san"`
	PrivateKeyPEM string   `json:"private_key_pem,omitempty"`
}

// GetCertificateBundle handles POST /acme/get_certificate_bundle (spec §6).
// private_key_pem is only populated when the operator has enabled export via
// ALLOW_KEY_EXPORT, per the environment variable list of spec §6.
func (a *App) GetCertificateBundle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CertID string `json:"cert_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CertID == "" {
		writeJsonError(w, errorMissingFields)
		return
	}

	rec, err := a.Db().Get(body.CertID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJsonError(w, errorNotFound)
			return
		}
		writeJsonError(w, errorInternal)
		return
	}

	certPath := rec.Path + "/cert.pem"
	fullchainPath := rec.Path + "/fullchain.pem"
	certPEM, err := readCertFile(certPath)
	if err != nil {
		writeJsonError(w, errorNotFound)
		return
	}
	chainPEM, err := readCertFile(fullchainPath)
	if err != nil {
		writeJsonError(w, errorNotFound)
		return
	}

	resp := bundleResponse{
		CertPEM:   certPEM,
		ChainPEM:  chainPEM,
		NotBefore: rec.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  rec.NotAfter.UTC().Format(time.RFC3339),
		San:       rec.San,
	}

	if a.allowKeyExport {
		entry, err := a.Secrets().Read(r.Context(), rec.KeySecretPath)
		if err != nil {
			writeJsonError(w, errorInternal)
			return
		}
		resp.PrivateKeyPEM = entry.PrivateKeyPEM
	}

	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk, Data: resp})
}

// RevokeCertificate handles POST /acme/revoke_certificate (spec §6).
func (a *App) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CertID string `json:"cert_id"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CertID == "" {
		writeJsonError(w, errorMissingFields)
		return
	}

	rec, err := a.Coordinator().Revoke(r.Context(), body.CertID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJsonError(w, errorNotFound)
			return
		}
		writeCoordinatorError(w, err)
		return
	}
	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk, Data: newCertResponse(rec)})
}

// ListCertificates handles POST /acme/list_certificates (spec §6), defaults
// matching original_source/mcp-acme's orchestrator (expiring_within_days=30).
func (a *App) ListCertificates(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query              string `json:"query"`
		Tag                string `json:"tag"`
		ExpiringWithinDays *int   `json:"expiring_within_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJsonError(w, errorInvalidRequest)
		return
	}

	days := 30
	if body.ExpiringWithinDays != nil {
		days = *body.ExpiringWithinDays
	}

	recs, err := a.Db().Search(db.SearchQuery{Query: body.Query, Tag: body.Tag, ExpiringWithinDays: days})
	if err != nil {
		writeJsonError(w, errorInternal)
		return
	}

	out := make([]certResponse, 0, len(recs))
	for i := range recs {
		out = append(out, newCertResponse(&recs[i]))
	}
	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk, Data: out})
}

func readCertFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
