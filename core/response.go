package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type jsonResponse struct {
	status int
	body   []byte
}

// JsonResponseWithData is used for structured JSON responses with optional data
type JsonResponseWithData struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewJsonResponseWithData creates a new JsonResponseWithData instance
func NewJsonResponseWithData(status int, code, message string, data interface{}) *JsonResponseWithData {
	return &JsonResponseWithData{
		Status:  status,
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Standard response codes
const (
	CodeOk = "ok"

	CodeErrorInvalidRequest     = "invalid_input"
	CodeErrorInvalidContentType = "invalid_content_type"
	CodeErrorMissingFields      = "missing_fields"
	CodeErrorNotFound           = "not_found"
	CodeErrorConflict           = "conflict"
	CodeErrorTooManyRequests    = "too_many_requests"
	CodeErrorServiceUnavailable = "service_unavailable"
	CodeErrorInternal           = "internal_error"

	// ACME/issuance-specific codes, set by writeCoordinatorError
	// (handler_acme.go) per coordinator.Kind; the Kind-derived reason string
	// is sent separately in the response's reason field
	CodeErrorAcmeChallenge    = "acme_challenge_error"
	CodeErrorAcmeRateLimit    = "acme_rate_limit"
	CodeErrorAcmeCAUnknown    = "acme_ca_unreachable"
	CodeErrorBigipUnreachable = "bigip_unreachable"
	CodeErrorSecretStore      = "secret_store_error"
	CodeErrorEabRequired      = "eab_required"
)

// ResponseBasicFormat is used for short ok and error responses
const shortFormat = `{"status":%d,"code":"%s","message":"%s"}`

// precomputeResponse() runs during initialization so the JSON body is
// already []byte by the time a handler needs it, avoiding repeated
// marshaling on hot paths.
func precomputeResponse(status int, code, message string) jsonResponse {
	body := fmt.Sprintf(shortFormat, status, code, message)
	return jsonResponse{status: status, body: []byte(body)}
}

// Precomputed error responses with status codes
var (
	errorInvalidRequest     = precomputeResponse(http.StatusBadRequest, CodeErrorInvalidRequest, "The request contains invalid data")
	errorInvalidContentType = precomputeResponse(http.StatusUnsupportedMediaType, CodeErrorInvalidContentType, "Unsupported content type")
	errorMissingFields      = precomputeResponse(http.StatusBadRequest, CodeErrorMissingFields, "Required fields are missing")
	errorNotFound           = precomputeResponse(http.StatusNotFound, CodeErrorNotFound, "Requested resource not found")
	errorConflict           = precomputeResponse(http.StatusConflict, CodeErrorConflict, "Request conflicts with current state")
	errorTooManyRequests    = precomputeResponse(http.StatusTooManyRequests, CodeErrorTooManyRequests, "Too many requests, please try again later")
	errorServiceUnavailable = precomputeResponse(http.StatusServiceUnavailable, CodeErrorServiceUnavailable, "Service is temporarily unavailable")
	errorInternal           = precomputeResponse(http.StatusInternalServerError, CodeErrorInternal, "Internal server error")
)

// writeJsonOk writes a precomputed JSON ok response
func writeJsonOk(w http.ResponseWriter, resp jsonResponse) {
	setHeaders(w, HeadersJson)
	w.WriteHeader(resp.status)
	w.Write(resp.body)
}

// writeJsonWithData writes a structured JSON response with the provided data
func writeJsonWithData(w http.ResponseWriter, resp JsonResponseWithData) {
	setHeaders(w, HeadersJson)
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

// writeJsonError writes a precomputed JSON error response
func writeJsonError(w http.ResponseWriter, resp jsonResponse) {
	setHeaders(w, HeadersJson)
	w.WriteHeader(resp.status)
	w.Write(resp.body)
}
