package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/testgate/testgate/internal/image"
	"github.com/testgate/testgate/internal/safety"
)

const (
	maxTokenBodyBytes int64 = 1 * 1024 * 1024

	// tokenExpiryMargin is subtracted from a token's advertised lifetime so
	// it is refreshed before the registry stops accepting it.
	tokenExpiryMargin = 30 * time.Second

	// defaultTokenTTL applies when the token endpoint omits expires_in.
	defaultTokenTTL = 60 * time.Second

	defaultRequestTimeout = 10 * time.Second
)

var (
	manifestAcceptHeader = strings.Join([]string{
		"application/vnd.oci.image.index.v1+json",
		"application/vnd.oci.image.manifest.v1+json",
		"application/vnd.docker.distribution.manifest.list.v2+json",
		"application/vnd.docker.distribution.manifest.v2+json",
		"application/vnd.docker.distribution.manifest.v1+json",
	}, ", ")
	authParamRegexp = regexp.MustCompile(`([a-zA-Z_]+)="([^"]*)"`)

	// errUnusableChallenge marks a 401 challenge whose realm is missing,
	// unparsable, or not an HTTP(S) URL. The caller falls back to one
	// unauthenticated retry instead of failing outright.
	errUnusableChallenge = errors.New("unusable auth challenge")
)

// Client resolves container images to their manifest digests over the
// Docker Registry V2 API, performing the bearer-token handshake when a
// registry challenges the request. Issued tokens go through the shared
// TokenCache handed in at construction.
type Client struct {
	http   *http.Client
	tokens *TokenCache
	logger *slog.Logger
}

// NewClient creates a registry client. The token cache is required and is
// typically shared with every other client in the process; timeout bounds
// each individual registry round-trip.
func NewClient(tokens *TokenCache, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		http:   safety.NewHTTPClient(timeout),
		tokens: tokens,
		logger: logger,
	}
}

// Digest resolves imageName to the digest reported by its registry's
// Docker-Content-Digest header. Absence is not an error: transport
// failures, auth failures and missing manifests all report ("", false) so
// callers can apply their own retry policy.
func (c *Client) Digest(ctx context.Context, imageName string) (string, bool) {
	ref := image.Parse(imageName)
	manifestURL := ref.ManifestURL()

	token, _ := c.tokens.Get(manifestURL)
	resp, err := c.head(ctx, manifestURL, token)
	if err != nil {
		c.logger.Warn("manifest request failed", "image", imageName, "url", manifestURL, "error", err)
		return "", false
	}

	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("WWW-Authenticate")
		if challenge == "" {
			c.logger.Warn("registry rejected request without a challenge", "image", imageName, "url", manifestURL)
			return "", false
		}

		token, err = c.authorize(ctx, manifestURL, challenge)
		switch {
		case errors.Is(err, errUnusableChallenge):
			// The realm cannot be used; drop whatever stale token we had
			// and try once more without credentials.
			c.logger.Warn("auth challenge unusable, retrying unauthenticated", "image", imageName, "error", err)
			c.tokens.Remove(manifestURL)
			resp, err = c.head(ctx, manifestURL, "")
		case err != nil:
			c.logger.Warn("token request failed", "image", imageName, "error", err)
			return "", false
		default:
			resp, err = c.head(ctx, manifestURL, token)
		}
		if err != nil {
			c.logger.Warn("manifest request failed", "image", imageName, "url", manifestURL, "error", err)
			return "", false
		}
	}

	digest := resp.Header.Get("Docker-Content-Digest")
	if resp.StatusCode != http.StatusOK || digest == "" {
		c.logger.Debug("digest absent", "image", imageName, "status", resp.StatusCode)
		return "", false
	}
	return digest, true
}

// head issues a HEAD request against manifestURL, with a bearer token when
// one is supplied. The response body is closed before returning; only the
// status and headers matter to callers.
func (c *Client) head(ctx context.Context, manifestURL, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating manifest request: %w", err)
	}
	req.Header.Set("Accept", manifestAcceptHeader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing manifest request: %w", err)
	}
	_ = resp.Body.Close()
	return resp, nil
}

// authorize performs the bearer handshake for a WWW-Authenticate challenge:
// GET the realm URL with every non-realm challenge parameter as a query
// parameter, then cache the issued token against manifestURL with its
// advertised lifetime (minus the safety margin).
func (c *Client) authorize(ctx context.Context, manifestURL, challenge string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(challenge), "bearer ") {
		return "", fmt.Errorf("%w: %q", errUnusableChallenge, challenge)
	}

	params := parseAuthParams(challenge)
	realm := params["realm"]
	if realm == "" {
		return "", fmt.Errorf("%w: challenge missing realm", errUnusableChallenge)
	}
	realmURL, err := safety.ValidateHTTPURL(realm)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnusableChallenge, err)
	}

	values := realmURL.Query()
	for key, value := range params {
		if key == "realm" {
			continue
		}
		values.Set(key, value)
	}
	realmURL.RawQuery = values.Encode()

	token, ttl, err := c.fetchToken(ctx, realmURL.String())
	if err != nil {
		return "", err
	}

	c.tokens.Set(manifestURL, token, time.Now().Add(ttl-tokenExpiryMargin))
	return token, nil
}

// fetchToken requests a bearer token from tokenURL and returns it with its
// advertised lifetime.
func (c *Client) fetchToken(ctx context.Context, tokenURL string) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("executing token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	data, err := safety.ReadAllWithLimit(resp.Body, maxTokenBodyBytes)
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}

	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", 0, fmt.Errorf("token response did not include token")
	}

	ttl := time.Duration(tokenResp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return token, ttl, nil
}

// parseAuthParams extracts the key="value" pairs from a bearer challenge.
func parseAuthParams(challenge string) map[string]string {
	result := make(map[string]string)
	trimmed := strings.TrimSpace(challenge)
	if strings.HasPrefix(strings.ToLower(trimmed), "bearer ") {
		trimmed = strings.TrimSpace(trimmed[len("bearer "):])
	}
	matches := authParamRegexp.FindAllStringSubmatch(trimmed, -1)
	for _, m := range matches {
		if len(m) == 3 {
			result[strings.ToLower(m[1])] = m[2]
		}
	}
	return result
}
