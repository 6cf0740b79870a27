package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestValidateAccessToken(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp, body := doJSON(t, http.MethodGet, env.ts.URL+"/validateAccessToken", "test-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["valid"] != true {
		t.Fatalf("body = %v", body)
	}

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/validateAccessToken", "wrong-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("401 must carry WWW-Authenticate")
	}

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/validateAccessToken", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing header: status = %d, want 401", resp.StatusCode)
	}
}

func TestGenerateKey_RegistersRoom(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp, body := doJSON(t, http.MethodGet, env.ts.URL+"/generateKey", "test-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	startKey, _ := body["startKey"].(string)
	if startKey == "" {
		t.Fatalf("no startKey in %v", body)
	}

	ok, err := env.reg.HasRoom(context.Background(), startKey)
	if err != nil || !ok {
		t.Fatalf("room not registered: ok=%v err=%v", ok, err)
	}

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/generateKey", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d, want 401", resp.StatusCode)
	}
}

func TestTicketEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	startKey := env.newRoom(t)

	resp, body := doJSON(t, http.MethodPost, env.ts.URL+"/ticket", "", map[string]string{"startKey": startKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	ticket, _ := body["ticket"].(string)
	if ticket == "" {
		t.Fatalf("no ticket in %v", body)
	}

	resolved, err := env.tickets.ResolveAndConsume(context.Background(), ticket)
	if err != nil || resolved != startKey {
		t.Fatalf("resolve: %q %v", resolved, err)
	}

	resp, _ = doJSON(t, http.MethodPost, env.ts.URL+"/ticket", "", map[string]string{"startKey": "bogus"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown room: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, env.ts.URL+"/ticket", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body: status = %d, want 400", resp.StatusCode)
	}
}
