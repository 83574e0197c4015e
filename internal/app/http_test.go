package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ideahive/api/internal/content"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service, *fakeStore, *fakeDocs) {
	t.Helper()
	svc, fs, fd := newTestService()
	ts := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(ts.Close)
	return ts, svc, fs, fd
}

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
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok:true, got %v", payload)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["status"] != "ready" {
		t.Fatalf("expected ready, got %v", payload)
	}
}

func TestRequiresSession(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/workspaces", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", payload)
	}
}

func TestSessionEndpointAnonymous(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["authenticated"] != false {
		t.Fatalf("expected authenticated:false, got %v", payload)
	}
}

func TestPublicPageReadableWithoutSession(t *testing.T) {
	ts, svc, fs, _ := newTestServer(t)
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.addPage("pg1", "ws1", "Handbook", true)
	fs.addPage("pg2", "ws1", "Secrets", false)

	if _, _, err := svc.CreateBlock(context.Background(), Session{UserID: "u1"}, "pg1", content.CreateBlockInput{Type: "paragraph", Content: "welcome"}); err != nil {
		t.Fatalf("seed block: %v", err)
	}

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public page: expected 200, got %d", resp.StatusCode)
	}
	if payload["title"] != "Handbook" {
		t.Fatalf("unexpected payload %v", payload)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg1/content", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public content: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg2", "", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("private page: expected 403, got %d", resp.StatusCode)
	}
}

func TestBlockLifecycleOverHTTP(t *testing.T) {
	ts, svc, fs, _ := newTestServer(t)
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.addPage("pg1", "ws1", "Notes", false)

	sess, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	token := sess.Token

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/pages/pg1/blocks", token, map[string]any{
		"type":    "heading_1",
		"content": "Title",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create block: expected 201, got %d (%v)", resp.StatusCode, payload)
	}
	block := payload["block"].(map[string]any)
	blockID := block["id"].(string)
	if payload["version"].(float64) != 1 {
		t.Fatalf("expected version 1, got %v", payload["version"])
	}

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/pages/pg1/blocks", token, map[string]any{
		"type":    "paragraph",
		"content": "Body",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second block: expected 201, got %d", resp.StatusCode)
	}
	if payload["version"].(float64) != 2 {
		t.Fatalf("expected version 2, got %v", payload["version"])
	}

	resp, payload = doJSON(t, http.MethodPatch, ts.URL+"/api/blocks/"+blockID, token, map[string]any{
		"content": "Retitled",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update block: expected 200, got %d (%v)", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPatch, ts.URL+"/api/blocks/"+blockID+"/position", token, map[string]any{
		"position": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move block: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	if _, ok := payload["unchanged"]; ok {
		t.Fatalf("real move flagged unchanged: %v", payload)
	}
	movedVersion := payload["version"].(float64)

	// Repositioning to the spot the block already occupies changes nothing.
	resp, payload = doJSON(t, http.MethodPatch, ts.URL+"/api/blocks/"+blockID+"/position", token, map[string]any{
		"position": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("no-op move: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["unchanged"] != true {
		t.Fatalf("no-op move: expected unchanged:true, got %v", payload)
	}
	if payload["version"].(float64) != movedVersion {
		t.Fatalf("no-op move bumped version to %v", payload["version"])
	}

	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg1/content", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get content: expected 200, got %d", resp.StatusCode)
	}
	blocks := payload["blocks"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	first := blocks[0].(map[string]any)
	if first["content"] != "Body" {
		t.Fatalf("expected moved order, first block is %v", first["content"])
	}

	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg1/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", resp.StatusCode)
	}
	versions := payload["versions"].([]any)
	if len(versions) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(versions))
	}
	newest := versions[0].(map[string]any)
	if newest["editedBy"] != "u1" || newest["editedByName"] != "Ada" {
		t.Fatalf("history entry missing editor identity: %v", newest)
	}

	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg1/versions/2", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version read: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["editedByName"] != "Ada" {
		t.Fatalf("version read missing editor name: %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/pages/pg1/restore/1", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["version"].(float64) != 5 {
		t.Fatalf("restore should advance the version, got %v", payload["version"])
	}
	blocks = payload["blocks"].([]any)
	if len(blocks) != 1 {
		t.Fatalf("expected restored snapshot of 1 block, got %d", len(blocks))
	}

	resp, payload = doJSON(t, http.MethodDelete, ts.URL+"/api/blocks/does-not-exist", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%v)", resp.StatusCode, payload)
	}
}

func TestBlockValidationOverHTTP(t *testing.T) {
	ts, svc, fs, _ := newTestServer(t)
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.addPage("pg1", "ws1", "Notes", false)

	sess, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/pages/pg1/blocks", sess.Token, map[string]any{
		"content": "no type",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestViewerCannotWrite(t *testing.T) {
	ts, svc, fs, _ := newTestServer(t)
	fs.addUser("u1", "Ada", "ada@example.com")
	fs.addUser("u2", "Viewer", "viewer@example.com")
	fs.addWorkspace("ws1", "Team", "u1")
	fs.members["ws1"]["u2"] = "viewer"
	fs.addPage("pg1", "ws1", "Notes", false)

	sess, err := svc.CreateSession(context.Background(), "u2")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/pages/pg1/blocks", sess.Token, map[string]any{
		"type":    "paragraph",
		"content": "nope",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%v)", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/pages/pg1", sess.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewer read: expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthFlowOverHTTP(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]any{
		"email":       "ada@example.com",
		"password":    "correct horse",
		"displayName": "Ada",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%v)", resp.StatusCode, payload)
	}
	verifyToken, _ := payload["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatal("expected dev verification token without SMTP")
	}

	// Signing in before verification is refused.
	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct horse",
	})
	if resp.StatusCode != http.StatusForbidden || payload["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("unverified signin: expected 403 EMAIL_NOT_VERIFIED, got %d (%v)", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/verify-email", "", map[string]any{"token": verifyToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.StatusCode)
	}

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	accessToken := payload["accessToken"].(string)
	refreshToken := payload["refreshToken"].(string)

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["refreshToken"] == refreshToken {
		t.Fatal("expected rotated refresh token")
	}
	rotated := payload["refreshToken"].(string)

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh: expected 401, got %d (%v)", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/session/logout", accessToken, map[string]any{"refreshToken": rotated})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/api/session", accessToken, nil)
	if payload["authenticated"] != false {
		t.Fatalf("expected revoked session, got %v", payload)
	}
	_ = resp
}
