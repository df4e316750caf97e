package coordinator

import (
	"context"
	"fmt"

	"github.com/caasmo/acmebigip/bigip"
	"github.com/caasmo/acmebigip/db"
)

// LBDeployer is the subset of bigip.Client the deployment step needs,
// narrowed for testability (spec §4.7 Deployment paragraph).
type LBDeployer interface {
	ChunkedUpload(ctx context.Context, name string, data []byte) (string, error)
	InstallSSLKey(ctx context.Context, partition, name, sourcePath string) error
	InstallSSLCert(ctx context.Context, partition, name, sourcePath string) error
	EnsureClientSSLProfile(ctx context.Context, partition, name, defaultsFrom string) (string, error)
	AttachKeyCertChain(ctx context.Context, profileFQ, keyFQ, certFQ, chainFQ string) error
	ListClientSSLProfiles(ctx context.Context, vsFQ string) ([]string, error)
	DetachClientSSLProfiles(ctx context.Context, vsFQ string, fullPaths []string) error
	AttachProfileToVirtual(ctx context.Context, vsFQ, profileFQ string) error

	// DatagroupUpsert satisfies challengepump.Publisher so the same LB
	// client doubles as the Pump's publisher during WAIT_FILES_OR_EXIT.
	DatagroupUpsert(ctx context.Context, partition, name string, tokens map[string]string) error
}

// DeployRequest deploys one already-issued certificate onto the LB.
type DeployRequest struct {
	CertID       string
	MainDomain   string
	KeyPEM       []byte
	CertPEM      []byte
	FullChainPEM []byte

	Partition              string // default "Common"
	ClientSSLProfileName   string // default "clientssl_<namesafe>"
	DefaultsFromProfile    string // default "/Common/clientssl"
	VirtualServerFullPath  string // optional; if set, attach to VS
	ReplaceExistingClientSSL bool
}

// Deploy uploads key/cert/fullchain as three distinct files, installs them,
// ensures the client-ssl profile, attaches the key/cert/chain triple, and
// optionally attaches the profile to a Virtual Server (spec §4.7 Deployment
// paragraph). It returns the deployment pointer for the Inventory record.
func (c *Coordinator) Deploy(ctx context.Context, req DeployRequest) (*db.BigipDeployment, error) {
	partition := req.Partition
	if partition == "" {
		partition = "Common"
	}
	defaultsFrom := req.DefaultsFromProfile
	if defaultsFrom == "" {
		defaultsFrom = "/Common/clientssl"
	}
	profileName := req.ClientSSLProfileName
	if profileName == "" {
		profileName = "clientssl_" + bigip.Namesafe(req.MainDomain)
	}

	suffix := req.CertID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	base := fmt.Sprintf("%s_%s", bigip.Namesafe(req.MainDomain), suffix)
	keyName := base + ".key"
	certName := base + ".crt"
	chainName := base + "_chain.crt"

	if err := c.uploadAndInstall(ctx, partition, keyName, req.KeyPEM, c.lb.InstallSSLKey); err != nil {
		return nil, err
	}
	if err := c.uploadAndInstall(ctx, partition, certName, req.CertPEM, c.lb.InstallSSLCert); err != nil {
		return nil, err
	}
	if err := c.uploadAndInstall(ctx, partition, chainName, req.FullChainPEM, c.lb.InstallSSLCert); err != nil {
		return nil, err
	}

	profileFQ, err := c.lb.EnsureClientSSLProfile(ctx, partition, profileName, defaultsFrom)
	if err != nil {
		return nil, &Error{Kind: KindLBAPIError, Err: fmt.Errorf("ensure client-ssl profile: %w", err)}
	}

	keyFQ := fmt.Sprintf("/%s/%s", partition, keyName)
	certFQ := fmt.Sprintf("/%s/%s", partition, certName)
	chainFQ := fmt.Sprintf("/%s/%s", partition, chainName)
	if err := c.lb.AttachKeyCertChain(ctx, profileFQ, keyFQ, certFQ, chainFQ); err != nil {
		return nil, &Error{Kind: KindLBAPIError, Err: fmt.Errorf("attach key/cert/chain: %w", err)}
	}

	if req.VirtualServerFullPath != "" {
		if req.ReplaceExistingClientSSL {
			existing, err := c.lb.ListClientSSLProfiles(ctx, req.VirtualServerFullPath)
			if err != nil {
				return nil, &Error{Kind: KindLBAPIError, Err: fmt.Errorf("list existing client-ssl profiles: %w", err)}
			}
			if err := c.lb.DetachClientSSLProfiles(ctx, req.VirtualServerFullPath, existing); err != nil {
				return nil, &Error{Kind: KindLBAPIError, Err: fmt.Errorf("detach existing client-ssl profiles: %w", err)}
			}
		}
		if err := c.lb.AttachProfileToVirtual(ctx, req.VirtualServerFullPath, profileFQ); err != nil {
			return nil, &Error{Kind: KindLBAPIError, Err: fmt.Errorf("attach profile to virtual: %w", err)}
		}
	}

	return &db.BigipDeployment{
		Host:      c.bigipHost,
		Partition: partition,
		Profile:   profileFQ,
		SNI:       req.MainDomain,
	}, nil
}

func (c *Coordinator) uploadAndInstall(ctx context.Context, partition, name string, data []byte, install func(context.Context, string, string, string) error) error {
	sourcePath, err := c.lb.ChunkedUpload(ctx, name, data)
	if err != nil {
		return &Error{Kind: KindLBAPIError, Err: fmt.Errorf("upload %s: %w", name, err)}
	}
	if err := install(ctx, partition, name, sourcePath); err != nil {
		return &Error{Kind: KindLBAPIError, Err: fmt.Errorf("install %s: %w", name, err)}
	}
	return nil
}
