package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authTestServer(token string) *httptest.Server {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(AuthMiddleware(token)(next))
}

func doAuthRequest(t *testing.T, url, header string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	ts := authTestServer("secret-token")
	defer ts.Close()

	resp := doAuthRequest(t, ts.URL, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAuthMiddleware_NotBearer(t *testing.T) {
	ts := authTestServer("secret-token")
	defer ts.Close()

	resp := doAuthRequest(t, ts.URL, "Basic dXNlcjpwYXNz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	ts := authTestServer("secret-token")
	defer ts.Close()

	resp := doAuthRequest(t, ts.URL, "Bearer not-the-token")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", resp.StatusCode)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	ts := authTestServer("secret-token")
	defer ts.Close()

	resp := doAuthRequest(t, ts.URL, "Bearer secret-token")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}
