package credential

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Injector is an http.RoundTripper that looks up, decrypts, and attaches a
// provider's credential to every outbound request for that provider. It
// never logs the decrypted value: RoundTrip's only log line names the
// provider and header, never the value. Plaintext never enters a log
// statement.
type Injector struct {
	ProviderID string
	Store      Store
	Vault      *Vault
	Base       http.RoundTripper
	Logger     *slog.Logger
}

// RoundTrip clones the request, injects the decrypted credential, and
// forwards it to the base transport.
func (inj *Injector) RoundTrip(r *http.Request) (*http.Response, error) {
	cred, err := inj.Store.Get(r.Context(), inj.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("credential: lookup provider %q: %w", inj.ProviderID, err)
	}
	plaintext, err := inj.Vault.Open(r.Context(), cred)
	if err != nil {
		return nil, fmt.Errorf("credential: open provider %q: %w", inj.ProviderID, err)
	}

	r2 := r.Clone(r.Context())
	switch cred.Style {
	case HeaderStyleQueryParam:
		q := r2.URL.Query()
		q.Set(cred.HeaderName, plaintext)
		r2.URL.RawQuery = q.Encode()
	default:
		r2.Header.Set(cred.HeaderName, cred.Prefix+plaintext)
	}
	plaintext = "" // best-effort scrub of the local copy before it goes out of scope

	if inj.Logger != nil {
		inj.Logger.Debug("injected upstream credential", "provider", inj.ProviderID, "header", cred.HeaderName)
	}

	return inj.base().RoundTrip(r2)
}

func (inj *Injector) base() http.RoundTripper {
	if inj.Base != nil {
		return inj.Base
	}
	return http.DefaultTransport
}
