package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chamelio/chamelio/internal/hub"
	"github.com/chamelio/chamelio/internal/registry"
	"github.com/chamelio/chamelio/internal/registry/sqlite"
	"github.com/chamelio/chamelio/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*httptest.Server, registry.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	sup := supervisor.New(store, supervisor.Config{
		WorkerBin:   "/nonexistent/worker-binary",
		ProfilesDir: t.TempDir(),
		IngestURL:   "ws://127.0.0.1:8089/ingest",
	}, nil)
	router := NewRouter(store, sup, hub.New(nil), "", nil)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestProfileCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/profiles", map[string]string{
		"name":  "shop",
		"proxy": "http://1.2.3.4:8080",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("no id in create response: %v", body)
	}

	// Duplicate name conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/profiles", map[string]string{"name": "shop"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create: expected 409, got %d", resp.StatusCode)
	}

	// Missing name is a bad request.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/profiles", map[string]string{"proxy": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("nameless create: expected 400, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/api/profiles")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer func() { _ = listResp.Body.Close() }()
	var profiles []registry.Profile
	if err := json.NewDecoder(listResp.Body).Decode(&profiles); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != id || profiles[0].State != registry.StateStopped {
		t.Fatalf("unexpected list: %+v", profiles)
	}

	resp, body = doJSON(t, http.MethodPatch, srv.URL+"/api/profiles/"+id, map[string]string{"name": "renamed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %v", resp.StatusCode, body)
	}
	if n, _ := body["updated"].(float64); n != 1 {
		t.Fatalf("expected updated=1, got %v", body)
	}

	// Empty update reports zero applied fields.
	resp, body = doJSON(t, http.MethodPatch, srv.URL+"/api/profiles/"+id, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty update: %d %v", resp.StatusCode, body)
	}
	if n, _ := body["updated"].(float64); n != 0 {
		t.Fatalf("expected updated=0, got %v", body)
	}

	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/profiles/missing", map[string]string{"name": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("update missing: expected 404, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/profiles/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/profiles/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestStartErrorMapping(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/profiles/missing/start", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("start missing: expected 404, got %d", resp.StatusCode)
	}

	bad, _ := store.Create(ctx, "badproxy", "not-a-proxy")
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/profiles/"+bad.ID+"/start", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid proxy: expected 400, got %d", resp.StatusCode)
	}

	// The worker binary does not exist, so a spawn attempt is a launch failure.
	ok, _ := store.Create(ctx, "nobin", "")
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/profiles/"+ok.ID+"/start", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("launch failure: expected 502, got %d", resp.StatusCode)
	}

	// Stop on a stopped profile succeeds with not_running.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/profiles/"+ok.ID+"/stop", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != supervisor.StatusNotRunning {
		t.Fatalf("stop stopped profile: %d %v", resp.StatusCode, body)
	}
}

func dialWS(t *testing.T, httpURL, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpURL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestIngestHeartbeatUpdatesAndBroadcasts(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "hb", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	observer := dialWS(t, srv.URL, "/ws")
	time.Sleep(50 * time.Millisecond) // let the hub register the observer
	worker := dialWS(t, srv.URL, "/ingest")

	hb := map[string]any{
		"type":       "heartbeat",
		"profile_id": p.ID,
		"state":      "running",
		"url":        "https://example.org",
		"engine":     "chromedp",
		"ts":         1700000000.5,
	}
	if err := worker.WriteJSON(hb); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	_ = observer.SetReadDeadline(time.Now().Add(3 * time.Second))
	var state map[string]any
	if err := observer.ReadJSON(&state); err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if state["type"] != "state" || state["profile_id"] != p.ID || state["url"] != "https://example.org" {
		t.Fatalf("unexpected state update: %v", state)
	}

	got, _ := store.Get(ctx, p.ID)
	if got.State != registry.StateRunning || got.LastURL != "https://example.org" {
		t.Fatalf("heartbeat not recorded: %+v", got)
	}
}

func TestIngestHeartbeatWithoutStateDefaultsToRunning(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "terse", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	observer := dialWS(t, srv.URL, "/ws")
	time.Sleep(50 * time.Millisecond) // let the hub register the observer
	worker := dialWS(t, srv.URL, "/ingest")

	payload := `{"type":"heartbeat","profile_id":"` + p.ID + `","url":"https://terse.example","engine":"chromedp","ts":1700000000.5}`
	if err := worker.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	_ = observer.SetReadDeadline(time.Now().Add(3 * time.Second))
	var state map[string]any
	if err := observer.ReadJSON(&state); err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if state["state"] != registry.StateRunning {
		t.Fatalf("broadcast state not defaulted: %v", state)
	}

	got, _ := store.Get(ctx, p.ID)
	if got.State != registry.StateRunning {
		t.Fatalf("registry state must default to running, got %q", got.State)
	}
}

func TestIngestMalformedPayloadIsDiscarded(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	p, _ := store.Create(ctx, "quiet", "")
	observer := dialWS(t, srv.URL, "/ws")
	time.Sleep(50 * time.Millisecond) // let the hub register the observer
	worker := dialWS(t, srv.URL, "/ingest")

	// Garbage, a wrong type and a missing profile id: none may mutate state or
	// reach the observer, and the channel must stay up.
	for _, payload := range []string{
		"{not json",
		`{"type":"state","profile_id":"` + p.ID + `"}`,
		`{"type":"heartbeat","state":"running"}`,
		`{"type":"heartbeat","profile_id":"unknown","state":"running"}`,
	} {
		if err := worker.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatalf("write %q: %v", payload, err)
		}
	}

	// A valid heartbeat afterwards proves the connection survived.
	valid := map[string]any{"type": "heartbeat", "profile_id": p.ID, "state": "running", "url": "https://ok"}
	if err := worker.WriteJSON(valid); err != nil {
		t.Fatalf("write valid: %v", err)
	}

	_ = observer.SetReadDeadline(time.Now().Add(3 * time.Second))
	var state map[string]any
	if err := observer.ReadJSON(&state); err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if state["url"] != "https://ok" {
		t.Fatalf("observer saw a discarded payload first: %v", state)
	}

	got, _ := store.Get(ctx, p.ID)
	if got.LastURL != "https://ok" {
		t.Fatalf("valid heartbeat not recorded: %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
