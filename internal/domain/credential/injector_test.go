package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// capturingTransport records the last request it saw instead of dialing out.
type capturingTransport struct {
	lastReq *http.Request
}

func (t *capturingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.lastReq = r
	return httptest.NewRecorder().Result(), nil
}

type mapStore struct {
	creds map[string]*Credential
}

func (m *mapStore) Get(_ context.Context, providerID string) (*Credential, error) {
	c, ok := m.creds[providerID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return c, nil
}
func (m *mapStore) Put(_ context.Context, c *Credential) error {
	m.creds[c.ProviderID] = c
	return nil
}
func (m *mapStore) Delete(_ context.Context, providerID string) error {
	delete(m.creds, providerID)
	return nil
}
func (m *mapStore) List(_ context.Context) ([]Credential, error) { return nil, nil }

func TestInjector_RoundTrip_BearerHeader(t *testing.T) {
	vault := NewVault(StaticKeySource([]byte("0123456789abcdef0123456789abcdef")))
	ciphertext, nonce, err := vault.Seal(context.Background(), "openai", "sk-live-xyz")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	store := &mapStore{creds: map[string]*Credential{
		"openai": {
			ProviderID: "openai",
			HeaderName: "Authorization",
			Style:      HeaderStyleBearer,
			Prefix:     "Bearer ",
			Ciphertext: ciphertext,
			Nonce:      nonce,
		},
	}}

	base := &capturingTransport{}
	inj := &Injector{ProviderID: "openai", Store: store, Vault: vault, Base: base}

	req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	if _, err := inj.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}

	got := base.lastReq.Header.Get("Authorization")
	if got != "Bearer sk-live-xyz" {
		t.Errorf("Authorization header = %q, want %q", got, "Bearer sk-live-xyz")
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("original request must not be mutated")
	}
}

func TestInjector_RoundTrip_QueryParam(t *testing.T) {
	vault := NewVault(StaticKeySource([]byte("0123456789abcdef0123456789abcdef")))
	ciphertext, nonce, err := vault.Seal(context.Background(), "gemini", "AIzaTest")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	store := &mapStore{creds: map[string]*Credential{
		"gemini": {
			ProviderID: "gemini",
			HeaderName: "key",
			Style:      HeaderStyleQueryParam,
			Ciphertext: ciphertext,
			Nonce:      nonce,
		},
	}}

	base := &capturingTransport{}
	inj := &Injector{ProviderID: "gemini", Store: store, Vault: vault, Base: base}

	req, _ := http.NewRequest(http.MethodPost, "https://generativelanguage.googleapis.com/v1/models/gemini-pro:generateContent", nil)
	if _, err := inj.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}

	if got := base.lastReq.URL.Query().Get("key"); got != "AIzaTest" {
		t.Errorf("query param key = %q, want %q", got, "AIzaTest")
	}
}

func TestInjector_RoundTrip_MissingCredential(t *testing.T) {
	vault := NewVault(StaticKeySource([]byte("0123456789abcdef0123456789abcdef")))
	store := &mapStore{creds: map[string]*Credential{}}
	inj := &Injector{ProviderID: "anthropic", Store: store, Vault: vault, Base: &capturingTransport{}}

	req, _ := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	if _, err := inj.RoundTrip(req); err == nil {
		t.Error("RoundTrip() with no configured credential should error")
	}
}
