package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/testgate/testgate/internal/image"
)

func newTestClient(t *testing.T) (*Client, *TokenCache) {
	t.Helper()
	tokens := NewTokenCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(tokens, 5*time.Second, logger), tokens
}

func TestDigestUnauthenticated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		if r.URL.Path != "/v2/testrepo/app/manifests/v1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Accept") == "" {
			t.Error("expected manifest Accept header")
		}
		w.Header().Set("Docker-Content-Digest", "sha256:cafebabe")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client, _ := newTestClient(t)
	imageName := ts.Listener.Addr().String() + "/testrepo/app:v1"

	digest, ok := client.Digest(context.Background(), imageName)
	if !ok {
		t.Fatal("expected digest to resolve")
	}
	if digest != "sha256:cafebabe" {
		t.Errorf("expected sha256:cafebabe, got %q", digest)
	}
}

func TestDigestBearerChallenge(t *testing.T) {
	var serverURL string
	headCount := 0
	tokenCount := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/testrepo/app/manifests/v1", func(w http.ResponseWriter, r *http.Request) {
		headCount++
		if r.Header.Get("Authorization") == "Bearer issued-token" {
			w.Header().Set("Docker-Content-Digest", "sha256:deadbeef")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer realm="%s/token",service="registry.test",scope="repository:testrepo/app:pull"`, serverURL))
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCount++
		if got := r.URL.Query().Get("service"); got != "registry.test" {
			t.Errorf("expected service query param, got %q", got)
		}
		if got := r.URL.Query().Get("scope"); got != "repository:testrepo/app:pull" {
			t.Errorf("expected scope query param, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "issued-token",
			"expires_in": 300,
		})
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	serverURL = ts.URL

	client, tokens := newTestClient(t)
	imageName := ts.Listener.Addr().String() + "/testrepo/app:v1"

	digest, ok := client.Digest(context.Background(), imageName)
	if !ok {
		t.Fatal("expected digest to resolve after bearer handshake")
	}
	if digest != "sha256:deadbeef" {
		t.Errorf("expected sha256:deadbeef, got %q", digest)
	}
	if headCount != 2 {
		t.Errorf("expected 2 HEAD requests (challenge + retry), got %d", headCount)
	}
	if tokenCount != 1 {
		t.Errorf("expected 1 token request, got %d", tokenCount)
	}

	manifestURL := image.Parse(imageName).ManifestURL()
	if _, ok := tokens.Get(manifestURL); !ok {
		t.Error("expected issued token to be cached against the manifest URL")
	}

	// Second resolution reuses the cached token: one more HEAD, no new
	// token request.
	if _, ok := client.Digest(context.Background(), imageName); !ok {
		t.Fatal("expected second digest resolution to succeed")
	}
	if headCount != 3 {
		t.Errorf("expected 3 HEAD requests total, got %d", headCount)
	}
	if tokenCount != 1 {
		t.Errorf("expected cached token to be reused, got %d token requests", tokenCount)
	}
}

func TestDigestAccessTokenFallback(t *testing.T) {
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/repo/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer alt-token" {
			w.Header().Set("Docker-Content-Digest", "sha256:0011")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s/token"`, serverURL))
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "alt-token"})
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	serverURL = ts.URL

	client, _ := newTestClient(t)
	digest, ok := client.Digest(context.Background(), ts.Listener.Addr().String()+"/repo")
	if !ok || digest != "sha256:0011" {
		t.Fatalf("expected digest via access_token fallback, got %q ok=%v", digest, ok)
	}
}

func TestDigestUnusableRealmFallsBackUnauthenticated(t *testing.T) {
	headCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headCount++
		if headCount == 1 {
			w.Header().Set("WWW-Authenticate", `Bearer service="registry.test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		// The unauthenticated retry succeeds.
		w.Header().Set("Docker-Content-Digest", "sha256:f00d")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client, tokens := newTestClient(t)
	imageName := ts.Listener.Addr().String() + "/repo:v2"
	manifestURL := image.Parse(imageName).ManifestURL()
	tokens.Set(manifestURL, "stale", time.Now().Add(time.Minute))

	digest, ok := client.Digest(context.Background(), imageName)
	if !ok || digest != "sha256:f00d" {
		t.Fatalf("expected digest from unauthenticated retry, got %q ok=%v", digest, ok)
	}
	if headCount != 2 {
		t.Errorf("expected exactly 2 HEAD requests, got %d", headCount)
	}
	if _, ok := tokens.Get(manifestURL); ok {
		t.Error("expected stale token to be dropped")
	}
}

func TestDigestNonHTTPRealmIsUnusable(t *testing.T) {
	headCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headCount++
		w.Header().Set("WWW-Authenticate", `Bearer realm="ftp://auth.example.com/token"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client, _ := newTestClient(t)
	_, ok := client.Digest(context.Background(), ts.Listener.Addr().String()+"/repo")
	if ok {
		t.Fatal("expected digest to be absent")
	}
	if headCount != 2 {
		t.Errorf("expected unauthenticated retry after unusable realm, got %d HEADs", headCount)
	}
}

func TestDigestNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client, _ := newTestClient(t)
	if _, ok := client.Digest(context.Background(), ts.Listener.Addr().String()+"/missing:v1"); ok {
		t.Fatal("expected absent digest for 404")
	}
}

func TestDigestTransportErrorIsAbsent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.Listener.Addr().String()
	ts.Close()

	client, _ := newTestClient(t)
	if _, ok := client.Digest(context.Background(), addr+"/repo:v1"); ok {
		t.Fatal("expected absent digest when registry is unreachable")
	}
}

func TestDigest401WithoutChallenge(t *testing.T) {
	headCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headCount++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client, _ := newTestClient(t)
	if _, ok := client.Digest(context.Background(), ts.Listener.Addr().String()+"/repo"); ok {
		t.Fatal("expected absent digest for bare 401")
	}
	if headCount != 1 {
		t.Errorf("expected a single HEAD for a bare 401, got %d", headCount)
	}
}

func TestParseAuthParams(t *testing.T) {
	params := parseAuthParams(`Bearer realm="https://auth.example.com/token",service="registry.example.com",scope="repository:library/app:pull"`)
	if params["realm"] != "https://auth.example.com/token" {
		t.Errorf("unexpected realm %q", params["realm"])
	}
	if params["service"] != "registry.example.com" {
		t.Errorf("unexpected service %q", params["service"])
	}
	if params["scope"] != "repository:library/app:pull" {
		t.Errorf("unexpected scope %q", params["scope"])
	}
}
