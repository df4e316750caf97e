package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/caasmo/acmebigip/coordinator"
	"github.com/caasmo/acmebigip/db"
)

// publishChallengesBody is spec §6's publish_http01_challenges body. Tokens
// maps a challenge token to its keyAuthorization, letting a caller publish
// challenges it obtained out-of-band (without an in-flight Issue/Renew
// call). An empty bigip_partition or datagroup_name falls back to the
// Coordinator's configured value (datagroup "acme_http01_challenges" unless
// overridden).
type publishChallengesBody struct {
	CertID        string            `json:"cert_id"`
	Partition     string            `json:"bigip_partition"`
	DatagroupName string            `json:"datagroup_name"`
	Tokens        map[string]string `json:"tokens"`
}

// PublishHttp01Challenges handles POST /bigip/publish_http01_challenges.
func (a *App) PublishHttp01Challenges(w http.ResponseWriter, r *http.Request) {
	var body publishChallengesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJsonError(w, errorInvalidRequest)
		return
	}

	tokens := body.Tokens
	if len(tokens) == 0 && body.CertID != "" {
		rec, err := a.Db().Get(body.CertID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeJsonError(w, errorNotFound)
				return
			}
			writeJsonError(w, errorInternal)
			return
		}
		tokens = make(map[string]string, len(rec.Deployed.Http01Challenges))
		for _, ch := range rec.Deployed.Http01Challenges {
			tokens[ch.Token] = ch.KeyAuthorization
		}
	}
	if len(tokens) == 0 {
		writeJsonError(w, errorMissingFields)
		return
	}

	if err := a.Coordinator().PublishChallenges(r.Context(), body.Partition, body.DatagroupName, tokens); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJsonWithData(w, JsonResponseWithData{Status: http.StatusOK, Code: CodeOk})
}

// deployCertificateBody is spec §6's deploy_certificate body.
type deployCertificateBody struct {
	CertID                   string `json:"cert_id"`
	Partition                string `json:"bigip_partition"`
	ClientSSLProfileName     string `json:"clientssl_profile"`
	DefaultsFromProfile      string `json:"defaults_from_profile"`
	VirtualServerFullPath    string `json:"virtual_server"`
	ReplaceExistingClientSSL bool   `json:"replace_existing_clientssl"`
}

// deployResponse is the deployment pointer recorded per spec §3 `deployed.bigip`.
type deployResponse struct {
	Host      string `json:"host,omitempty"`
	Partition string `json:"partition,omitempty"`
	Profile   string `json:"profile,omitempty"`
	SNI       string `json:"sni,omitempty"`
}

// DeployCertificate handles POST /bigip/deploy_certificate (spec §6),
// loading the issued cert and chain for cert_id off disk and its private key
// from the secret store, and pushing them onto the LB.
func (a *App) DeployCertificate(w http.ResponseWriter, r *http.Request) {
	var body deployCertificateBody
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

	entry, err := a.Secrets().Read(r.Context(), rec.KeySecretPath)
	if err != nil {
		writeCoordinatorError(w, &coordinator.Error{Kind: coordinator.KindSecretStoreError, Err: err})
		return
	}
	if entry.PrivateKeyPEM == "" {
		writeJsonError(w, errorNotFound)
		return
	}

	certPEM, err := os.ReadFile(rec.Path + "/cert.pem")
	if err != nil {
		writeJsonError(w, errorNotFound)
		return
	}
	chainPEM, err := os.ReadFile(rec.Path + "/fullchain.pem")
	if err != nil {
		writeJsonError(w, errorNotFound)
		return
	}

	deployReq := coordinator.DeployRequest{
		CertID:                   rec.CertID,
		MainDomain:               rec.MainDomain,
		KeyPEM:                   []byte(entry.PrivateKeyPEM),
		CertPEM:                  certPEM,
		FullChainPEM:             chainPEM,
		Partition:                body.Partition,
		ClientSSLProfileName:     body.ClientSSLProfileName,
		DefaultsFromProfile:      body.DefaultsFromProfile,
		VirtualServerFullPath:    body.VirtualServerFullPath,
		ReplaceExistingClientSSL: body.ReplaceExistingClientSSL,
	}

	deployment, err := a.Coordinator().Deploy(r.Context(), deployReq)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	if err := a.Db().MarkDeployed(rec.CertID, deployment.Host, deployment.Partition, deployment.Profile, deployment.SNI); err != nil {
		a.Logger().Error("deploy_certificate: mark_deployed failed", "cert_id", rec.CertID, "err", err)
	}

	writeJsonWithData(w, JsonResponseWithData{
		Status: http.StatusOK,
		Code:   CodeOk,
		Data: deployResponse{
			Host:      deployment.Host,
			Partition: deployment.Partition,
			Profile:   deployment.Profile,
			SNI:       deployment.SNI,
		},
	})
}
