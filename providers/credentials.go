package providers

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/clientcredentials"
)

// CredentialHandle resolves to the live secret a provider needs at call
// time. Config and routing-table files name a handle — an env var, or an
// OAuth2 client — rather than embedding the raw secret inline, per spec
// §6's "per-upstream credentials as handles not inline secrets".
type CredentialHandle interface {
	Token(ctx context.Context) (string, error)
}

// EnvCredential resolves to the current value of an environment variable.
// This is the handle every static-API-key provider (OpenAI, Anthropic,
// Groq, ...) effectively uses via autoRegisterProviders.
type EnvCredential struct {
	EnvVar string
}

// Token implements CredentialHandle.
func (c EnvCredential) Token(_ context.Context) (string, error) {
	v := os.Getenv(c.EnvVar)
	if v == "" {
		return "", fmt.Errorf("credential handle: %s is not set", c.EnvVar)
	}
	return v, nil
}

// OAuth2ClientCredential resolves to a bearer token via an OAuth2
// client-credentials flow — the handle Vertex/Gemini-via-Google and Azure
// AD-backed OpenAI deployments need instead of a long-lived static key.
type OAuth2ClientCredential struct {
	Config clientcredentials.Config
}

// Token implements CredentialHandle, fetching (and letting the underlying
// oauth2 transport cache/refresh) an access token.
func (c OAuth2ClientCredential) Token(ctx context.Context) (string, error) {
	tok, err := c.Config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth2 credential handle: %w", err)
	}
	return tok.AccessToken, nil
}

// StaticCredential wraps an already-resolved secret, e.g. one a caller
// decoded from a secret manager before constructing the provider.
type StaticCredential string

// Token implements CredentialHandle.
func (c StaticCredential) Token(_ context.Context) (string, error) {
	return string(c), nil
}

// ResolveCredential reads handle's current token. Construction code calls
// this once at startup; providers needing live token refresh (OAuth2) hold
// the handle itself rather than a resolved string — callers that only need
// a one-shot value at process start can use this helper directly.
func ResolveCredential(ctx context.Context, handle CredentialHandle) (string, error) {
	return handle.Token(ctx)
}
