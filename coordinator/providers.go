package coordinator

import "fmt"

// builtinDirectories are the provider shortcuts of spec §6. sectigo and
// digicert are deliberately absent: they require a caller-supplied
// directory_url.
var builtinDirectories = map[string]string{
	"lets-encrypt": "https://acme-v02.api.letsencrypt.org/directory",
	"google":       "https://dv.acme-v02.api.pki.goog/directory",
	"zerossl":      "https://acme.zerossl.com/v2/DV90",
}

// ResolveDirectoryURL returns the ACME directory URL for provider, applying
// the builtin shortcut unless directoryURL is already supplied. Custom
// providers (sectigo, digicert, or anything unrecognized) require an
// explicit directoryURL.
func ResolveDirectoryURL(provider, directoryURL string) (string, error) {
	if directoryURL != "" {
		return directoryURL, nil
	}
	if u, ok := builtinDirectories[provider]; ok {
		return u, nil
	}
	return "", &Error{Kind: KindValidation, Err: fmt.Errorf("provider %q requires an explicit directory_url", provider)}
}
