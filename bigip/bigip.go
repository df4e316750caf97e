// Package bigip implements the LB Adapter (C4): the iControl REST
// primitives the Coordinator needs to publish HTTP-01 challenges and
// install issued certificates onto a BIG-IP-style load balancer. No
// iControl SDK exists anywhere in the example corpus, so the client is
// hand-rolled over net/http the same way the teacher's mail and Discord
// clients talk to their own vendor APIs.
package bigip

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/caasmo/acmebigip/cache"
	"golang.org/x/time/rate"
)

// chunkSize bounds a single chunked_upload POST; some BIG-IP firmware
// versions misparse a file-transfer request over 1 MiB sent whole.
const chunkSize = 1 << 20 // 1 MiB

// Options configures a Client.
type Options struct {
	Host         string
	Username     string
	Password     string
	APIRateLimit rate.Limit
	APIBurst     int
	Timeout      time.Duration
	MaxRetries   uint64
}

// Client drives the iControl REST management plane of one BIG-IP device.
// Certificate validation is disabled against the mgmt plane, consistent
// with operating against an internal, self-signed appliance endpoint.
type Client struct {
	scheme        string
	host          string
	username      string
	password      string
	httpClient    *http.Client
	logger        *slog.Logger
	rateLimiter   *rate.Limiter
	maxRetries    uint64
	profileExists cache.Cache[string, bool]
}

func New(opts Options, logger *slog.Logger, profileExists cache.Cache[string, bool]) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("bigip: Host is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("bigip: logger is required")
	}
	if opts.APIRateLimit == 0 {
		opts.APIRateLimit = rate.Every(200 * time.Millisecond)
	}
	if opts.APIBurst <= 0 {
		opts.APIBurst = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}

	return &Client{
		scheme:      "https",
		host:        strings.TrimRight(opts.Host, "/"),
		username:    opts.Username,
		password:    opts.Password,
		logger:      logger,
		rateLimiter: rate.NewLimiter(opts.APIRateLimit, opts.APIBurst),
		maxRetries:  opts.MaxRetries,
		profileExists: profileExists,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}, nil
}

// do executes req, applying the rate limiter and basic auth, and retrying
// transient (5xx, connection) failures with backoff.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)

	var resp *http.Response
	op := func() error {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Body = body
		}
		r, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("bigip: %s %s: status %d", req.Method, req.URL.Path, r.StatusCode)
		}
		resp = r
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s://%s%s", c.scheme, c.host, path)
}

// ChunkedUpload splits data into ≤1 MiB chunks and POSTs each with the
// Content-Range header the file-transfer endpoint expects, returning the
// server-side download path.
func (c *Client) ChunkedUpload(ctx context.Context, name string, data []byte) (string, error) {
	total := len(data)
	if total == 0 {
		total = 1 // iControl rejects Content-Range for a zero-length body
	}

	numChunks := (len(data) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		reqURL := c.url("/mgmt/shared/file-transfer/uploads/" + url.PathEscape(name))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(chunk))
		if err != nil {
			return "", fmt.Errorf("bigip: build upload request: %w", err)
		}
		req.Header.Set("Content-Range", fmt.Sprintf("%d-%d/%d", start, end-1, total))
		req.Header.Set("Content-Length", fmt.Sprintf("%d", len(chunk)))
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.do(ctx, req)
		if err != nil {
			return "", fmt.Errorf("bigip: chunked_upload %s: %w", name, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return "", fmt.Errorf("bigip: chunked_upload %s: unexpected status %d", name, resp.StatusCode)
		}
	}

	return fmt.Sprintf("/var/config/rest/downloads/%s", name), nil
}

type fileInstallRequest struct {
	Name       string `json:"name"`
	Partition  string `json:"partition"`
	SourcePath string `json:"source-path"`
}

// InstallSSLKey installs a previously-uploaded file as an ssl-key object.
func (c *Client) InstallSSLKey(ctx context.Context, partition, name, sourcePath string) error {
	return c.installFile(ctx, "/mgmt/tm/sys/file/ssl-key", partition, name, sourcePath)
}

// InstallSSLCert installs a previously-uploaded file as an ssl-cert object.
func (c *Client) InstallSSLCert(ctx context.Context, partition, name, sourcePath string) error {
	return c.installFile(ctx, "/mgmt/tm/sys/file/ssl-cert", partition, name, sourcePath)
}

func (c *Client) installFile(ctx context.Context, endpoint, partition, name, sourcePath string) error {
	body, err := json.Marshal(fileInstallRequest{
		Name:       name,
		Partition:  partition,
		SourcePath: "file:" + sourcePath,
	})
	if err != nil {
		return fmt.Errorf("bigip: marshal install request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bigip: build install request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("bigip: install %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bigip: install %s: status %d: %s", name, resp.StatusCode, b)
	}
	return nil
}

// pathSeparatorsToTilde turns "/partition/name" lookups into iControl's
// "~partition~name" object-path encoding.
func pathSeparatorsToTilde(partition, name string) string {
	return "~" + partition + "~" + name
}

type clientSSLProfileRequest struct {
	Name         string `json:"name"`
	Partition    string `json:"partition"`
	DefaultsFrom string `json:"defaultsFrom"`
}

type clientSSLProfileResponse struct {
	FullPath string `json:"fullPath"`
}

// EnsureClientSSLProfile returns the fully-qualified name of a client-ssl
// profile, creating it from defaultsFrom if it does not already exist.
func (c *Client) EnsureClientSSLProfile(ctx context.Context, partition, name, defaultsFrom string) (string, error) {
	cacheKey := partition + "/" + name
	if exists, ok := c.profileExists.Get(cacheKey); ok && exists {
		return fmt.Sprintf("/%s/%s", partition, name), nil
	}

	getURL := c.url("/mgmt/tm/ltm/profile/client-ssl/" + pathSeparatorsToTilde(partition, name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return "", fmt.Errorf("bigip: build profile get request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("bigip: get client-ssl profile %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		c.profileExists.Set(cacheKey, true, 1)
		return fmt.Sprintf("/%s/%s", partition, name), nil
	}
	if resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bigip: get client-ssl profile %s: status %d: %s", name, resp.StatusCode, b)
	}

	body, err := json.Marshal(clientSSLProfileRequest{Name: name, Partition: partition, DefaultsFrom: defaultsFrom})
	if err != nil {
		return "", fmt.Errorf("bigip: marshal profile create: %w", err)
	}
	createReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/mgmt/tm/ltm/profile/client-ssl"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("bigip: build profile create request: %w", err)
	}
	createReq.Header.Set("Content-Type", "application/json")

	createResp, err := c.do(ctx, createReq)
	if err != nil {
		return "", fmt.Errorf("bigip: create client-ssl profile %s: %w", name, err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusOK && createResp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(createResp.Body)
		return "", fmt.Errorf("bigip: create client-ssl profile %s: status %d: %s", name, createResp.StatusCode, b)
	}

	c.profileExists.Set(cacheKey, true, 1)
	return fmt.Sprintf("/%s/%s", partition, name), nil
}

type certKeyChainEntry struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Cert  string `json:"cert"`
	Chain string `json:"chain,omitempty"`
}

type certKeyChainPatch struct {
	CertKeyChain []certKeyChainEntry `json:"certKeyChain"`
}

// AttachKeyCertChain patches profile with the key/cert/chain triple. Older
// firmware rejects the PATCH shape outright, so any failure there falls
// back to a tmsh bash-utility invocation.
func (c *Client) AttachKeyCertChain(ctx context.Context, profileFQ, keyFQ, certFQ, chainFQ string) error {
	body, err := json.Marshal(certKeyChainPatch{CertKeyChain: []certKeyChainEntry{
		{Name: "default", Key: keyFQ, Cert: certFQ, Chain: chainFQ},
	}})
	if err != nil {
		return fmt.Errorf("bigip: marshal cert-key-chain patch: %w", err)
	}

	fqPath := strings.TrimPrefix(profileFQ, "/")
	partition, name, ok := strings.Cut(fqPath, "/")
	if !ok {
		return fmt.Errorf("bigip: malformed profile path %q", profileFQ)
	}

	patchURL := c.url("/mgmt/tm/ltm/profile/client-ssl/" + pathSeparatorsToTilde(partition, name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, patchURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bigip: build patch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}

	chainClause := ""
	if chainFQ != "" {
		chainClause = fmt.Sprintf(" chain %s", chainFQ)
	}
	cmd := fmt.Sprintf(
		"tmsh modify ltm profile client-ssl %s cert-key-chain replace-all-with { default { cert %s key %s%s } }",
		profileFQ, certFQ, keyFQ, chainClause,
	)
	return c.runBashUtility(ctx, cmd)
}

type virtualProfilesResponse struct {
	Items []struct {
		FullPath string `json:"fullPath"`
	} `json:"items"`
}

// ListClientSSLProfiles returns the fullPath of every profile currently
// attached to vsFQ whose name contains "client-ssl", for use ahead of a
// replace_existing_clientssl deploy (spec §4.7 Deployment paragraph).
func (c *Client) ListClientSSLProfiles(ctx context.Context, vsFQ string) ([]string, error) {
	fqPath := strings.TrimPrefix(vsFQ, "/")
	partition, name, ok := strings.Cut(fqPath, "/")
	if !ok {
		return nil, fmt.Errorf("bigip: malformed virtual path %q", vsFQ)
	}

	getURL := c.url("/mgmt/tm/ltm/virtual/" + pathSeparatorsToTilde(partition, name) + "/profiles")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bigip: build list profiles request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bigip: list profiles for %s: %w", vsFQ, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bigip: list profiles for %s: status %d: %s", vsFQ, resp.StatusCode, b)
	}

	var vp virtualProfilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vp); err != nil {
		return nil, fmt.Errorf("bigip: decode profiles for %s: %w", vsFQ, err)
	}

	var clientSSL []string
	for _, item := range vp.Items {
		if strings.Contains(item.FullPath, "client-ssl") {
			clientSSL = append(clientSSL, item.FullPath)
		}
	}
	return clientSSL, nil
}

// AttachProfileToVirtual attaches profileFQ to vsFQ's clientside context.
func (c *Client) AttachProfileToVirtual(ctx context.Context, vsFQ, profileFQ string) error {
	cmd := fmt.Sprintf("tmsh modify ltm virtual %s profiles add { %s { context clientside } }", vsFQ, profileFQ)
	return c.runBashUtility(ctx, cmd)
}

// DetachClientSSLProfiles removes every clientside profile on vsFQ whose
// fullPath contains "client-ssl", in one batch, ahead of attaching a new one.
func (c *Client) DetachClientSSLProfiles(ctx context.Context, vsFQ string, fullPaths []string) error {
	var toDelete []string
	for _, p := range fullPaths {
		if strings.Contains(p, "client-ssl") {
			toDelete = append(toDelete, p)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}
	cmd := fmt.Sprintf("tmsh modify ltm virtual %s profiles delete { %s }", vsFQ, strings.Join(toDelete, " "))
	return c.runBashUtility(ctx, cmd)
}

type bashUtilityRequest struct {
	Command   string `json:"command"`
	UtilCmdArgs string `json:"utilCmdArgs"`
}

func (c *Client) runBashUtility(ctx context.Context, tmshCmd string) error {
	body, err := json.Marshal(bashUtilityRequest{
		Command:     "run",
		UtilCmdArgs: "-c " + "'" + strings.ReplaceAll(tmshCmd, "'", `'\''`) + "'",
	})
	if err != nil {
		return fmt.Errorf("bigip: marshal bash-utility request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/mgmt/tm/util/bash"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bigip: build bash-utility request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("bigip: bash-utility %q: %w", tmshCmd, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bigip: bash-utility %q: status %d: %s", tmshCmd, resp.StatusCode, b)
	}
	return nil
}

type datagroupRecord struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type datagroupResponse struct {
	Records []datagroupRecord `json:"records"`
}

type datagroupRequest struct {
	Name      string            `json:"name,omitempty"`
	Partition string            `json:"partition,omitempty"`
	Type      string            `json:"type,omitempty"`
	Records   []datagroupRecord `json:"records"`
}

func (c *Client) getDatagroup(ctx context.Context, partition, name string) ([]datagroupRecord, bool, error) {
	getURL := c.url("/mgmt/tm/ltm/data-group/internal/" + pathSeparatorsToTilde(partition, name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("bigip: build datagroup get request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("bigip: get datagroup %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("bigip: get datagroup %s: status %d: %s", name, resp.StatusCode, b)
	}

	var dr datagroupResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, false, fmt.Errorf("bigip: decode datagroup %s: %w", name, err)
	}
	return dr.Records, true, nil
}

func (c *Client) putDatagroup(ctx context.Context, partition, name string, records []datagroupRecord, create bool) error {
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	var req *http.Request
	var err error
	if create {
		body, merr := json.Marshal(datagroupRequest{
			Name: name, Partition: partition, Type: "string", Records: records,
		})
		if merr != nil {
			return fmt.Errorf("bigip: marshal datagroup create: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.url("/mgmt/tm/ltm/data-group/internal"), bytes.NewReader(body))
	} else {
		body, merr := json.Marshal(datagroupRequest{Records: records})
		if merr != nil {
			return fmt.Errorf("bigip: marshal datagroup patch: %w", merr)
		}
		patchURL := c.url("/mgmt/tm/ltm/data-group/internal/" + pathSeparatorsToTilde(partition, name))
		req, err = http.NewRequestWithContext(ctx, http.MethodPatch, patchURL, bytes.NewReader(body))
	}
	if err != nil {
		return fmt.Errorf("bigip: build datagroup write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("bigip: write datagroup %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bigip: write datagroup %s: status %d: %s", name, resp.StatusCode, b)
	}
	return nil
}

// DatagroupUpsert merges tokens (token -> keyAuthorization) into the
// records of the internal string datagroup partition/name, creating it if
// absent, and writes back the full sorted array only if something changed.
func (c *Client) DatagroupUpsert(ctx context.Context, partition, name string, tokens map[string]string) error {
	existing, found, err := c.getDatagroup(ctx, partition, name)
	if err != nil {
		return err
	}

	byName := make(map[string]string, len(existing))
	for _, r := range existing {
		byName[r.Name] = r.Data
	}

	changed := false
	for token, keyAuth := range tokens {
		if cur, ok := byName[token]; !ok || cur != keyAuth {
			byName[token] = keyAuth
			changed = true
		}
	}
	if !changed {
		return nil
	}

	merged := make([]datagroupRecord, 0, len(byName))
	for n, d := range byName {
		merged = append(merged, datagroupRecord{Name: n, Data: d})
	}
	return c.putDatagroup(ctx, partition, name, merged, !found)
}

// DatagroupDelete removes tokens from the datagroup, symmetric with Upsert.
func (c *Client) DatagroupDelete(ctx context.Context, partition, name string, tokens []string) error {
	existing, found, err := c.getDatagroup(ctx, partition, name)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	toRemove := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		toRemove[t] = true
	}

	changed := false
	merged := existing[:0]
	for _, r := range existing {
		if toRemove[r.Name] {
			changed = true
			continue
		}
		merged = append(merged, r)
	}
	if !changed {
		return nil
	}
	return c.putDatagroup(ctx, partition, name, merged, false)
}

// Namesafe turns a domain into the filename-safe token the deployment step
// uses for uploaded key/cert/chain names.
func Namesafe(domain string) string {
	s := strings.ReplaceAll(domain, "*", "wildcard")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}
