package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/mschirtzinger/tasksync/internal/dashboard"
	"github.com/mschirtzinger/tasksync/internal/storage/memory"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Metadata json.RawMessage `json:"metadata"`
	Error    string          `json:"error"`
}

type pushData struct {
	Synced    int `json:"synced"`
	Conflicts []struct {
		TaskID     string `json:"taskId"`
		Reason     string `json:"reason"`
		Resolution string `json:"resolution"`
	} `json:"conflicts"`
	Errors []struct {
		TaskID string `json:"taskId"`
		Error  string `json:"error"`
	} `json:"errors"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	svc, err := sync.New(store, sync.DefaultConfig(), sync.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("sync.New failed: %v", err)
	}
	return NewServer(svc, Config{Logger: quietLogger()}), store
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
		}
	}
	return w, env
}

func task(id string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":        id,
		"title":     "Task " + id,
		"status":    "pending",
		"priority":  "medium",
		"createdAt": at.Format(time.RFC3339),
		"updatedAt": at.Format(time.RFC3339),
	}
}

func push(t *testing.T, s *Server, source string, tasks ...interface{}) pushData {
	t.Helper()
	w, env := do(t, s, http.MethodPost, "/api/sync/push", map[string]interface{}{
		"source": source,
		"tasks":  tasks,
	})
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("push status = %d, body = %s", w.Code, w.Body.String())
	}
	var data pushData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal push data: %v", err)
	}
	return data
}

func TestHealth(t *testing.T) {
	s, _ := setupTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["clients"] != float64(0) {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestPushPull_Scenarios(t *testing.T) {
	s, _ := setupTestServer(t)

	// Vault creates T1.
	if got := push(t, s, "vault", task("T1", t0)); got.Synced != 1 {
		t.Fatalf("synced = %d, want 1", got.Synced)
	}

	// Extension pushes an older version and loses.
	got := push(t, s, "extension", task("T1", t0.Add(-5*time.Minute)))
	if got.Synced != 0 || len(got.Conflicts) != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
	c := got.Conflicts[0]
	if c.TaskID != "T1" || c.Reason != "Server version is newer" || c.Resolution != "server_wins" {
		t.Errorf("unexpected conflict: %+v", c)
	}
	if got.Errors == nil {
		t.Error("errors should be an empty array, not null")
	}

	// Extension pushes a newer version and wins.
	if got := push(t, s, "extension", task("T1", t0.Add(5*time.Minute))); got.Synced != 1 {
		t.Fatalf("synced = %d, want 1", got.Synced)
	}

	since := t0.Format(time.RFC3339)

	w, env := do(t, s, http.MethodGet, "/api/sync/pull?source=vault&since="+since, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pull status = %d", w.Code)
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(env.Data, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["id"] != "T1" || records[0]["source"] != "extension" {
		t.Errorf("vault pull = %v", records)
	}
	if records[0]["syncStatus"] != "synced" {
		t.Errorf("syncStatus = %v, want synced", records[0]["syncStatus"])
	}

	var meta struct {
		Count int       `json:"count"`
		Since time.Time `json:"since"`
	}
	if err := json.Unmarshal(env.Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Count != 1 || !meta.Since.Equal(t0) {
		t.Errorf("metadata = %+v", meta)
	}

	// Echo suppression for the last writer.
	_, env = do(t, s, http.MethodGet, "/api/sync/pull?source=extension&since="+since, nil)
	if string(env.Data) != "[]" {
		t.Errorf("extension pull = %s, want []", env.Data)
	}
}

func TestPull_NoSince(t *testing.T) {
	s, _ := setupTestServer(t)
	push(t, s, "vault", task("A", t0), task("B", t0.Add(time.Minute)))

	_, env := do(t, s, http.MethodGet, "/api/sync/pull", nil)

	var records []map[string]interface{}
	if err := json.Unmarshal(env.Data, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0]["id"] != "B" {
		t.Errorf("pull = %v, want B then A", records)
	}
	if !strings.Contains(string(env.Metadata), `"since":null`) {
		t.Errorf("metadata since should be null: %s", env.Metadata)
	}
}

func TestPull_BadInput(t *testing.T) {
	s, _ := setupTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"bad since", "?since=yesterday"},
		{"bad source", "?source=phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, s, http.MethodGet, "/api/sync/pull"+tt.query, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if env.Success || env.Error == "" {
				t.Errorf("unexpected envelope: %+v", env)
			}
		})
	}
}

func TestPush_BadRequests(t *testing.T) {
	s, store := setupTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing source", map[string]interface{}{"tasks": []interface{}{task("T1", t0)}}},
		{"unknown source", map[string]interface{}{"source": "phone", "tasks": []interface{}{}}},
		{"not json", "{not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, s, http.MethodPost, "/api/sync/push", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if env.Success {
				t.Error("success should be false")
			}
		})
	}

	cursors, _ := store.ListCursors(context.Background(), "")
	if len(cursors) != 0 {
		t.Errorf("rejected requests touched cursors: %v", cursors)
	}
}

func TestPush_EmptyTasks(t *testing.T) {
	s, _ := setupTestServer(t)

	got := push(t, s, "vault")
	if got.Synced != 0 || len(got.Conflicts) != 0 || len(got.Errors) != 0 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestPush_PartialFailure(t *testing.T) {
	s, _ := setupTestServer(t)

	bad := map[string]interface{}{"id": "T2", "title": "", "status": "pending", "updatedAt": t0.Format(time.RFC3339)}
	got := push(t, s, "vault", task("T1", t0), bad, task("T3", t0))

	if got.Synced != 2 {
		t.Errorf("synced = %d, want 2", got.Synced)
	}
	if len(got.Errors) != 1 || got.Errors[0].TaskID != "T2" {
		t.Fatalf("errors = %+v", got.Errors)
	}
	if !strings.Contains(got.Errors[0].Error, "title") {
		t.Errorf("error should name the field: %q", got.Errors[0].Error)
	}
}

func TestPush_StorageUnavailable(t *testing.T) {
	s, store := setupTestServer(t)
	store.Close()

	w, env := do(t, s, http.MethodPost, "/api/sync/push", map[string]interface{}{
		"source": "vault",
		"tasks":  []interface{}{task("T1", t0)},
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if env.Success {
		t.Error("success should be false")
	}
}

func TestStatus(t *testing.T) {
	s, _ := setupTestServer(t)
	push(t, s, "vault", task("T1", t0))

	w, env := do(t, s, http.MethodGet, "/api/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var data struct {
		SyncMetadata []struct {
			Source    string `json:"source"`
			SyncCount int    `json:"syncCount"`
		} `json:"syncMetadata"`
		TaskCounts []struct {
			Source string `json:"source"`
			Total  int    `json:"total"`
		} `json:"taskCounts"`
		ServerTime time.Time `json:"serverTime"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.SyncMetadata) != 1 || data.SyncMetadata[0].Source != "vault" || data.SyncMetadata[0].SyncCount != 1 {
		t.Errorf("syncMetadata = %+v", data.SyncMetadata)
	}
	if len(data.TaskCounts) != 1 || data.TaskCounts[0].Total != 1 {
		t.Errorf("taskCounts = %+v", data.TaskCounts)
	}
	if data.ServerTime.IsZero() {
		t.Error("serverTime missing")
	}
	if !strings.Contains(string(env.Data), `"last_updated"`) {
		t.Errorf("taskCounts should use last_updated: %s", env.Data)
	}
}

func TestClear(t *testing.T) {
	s, store := setupTestServer(t)
	push(t, s, "vault", task("T1", t0))
	push(t, s, "extension", task("T2", t0))

	w, env := do(t, s, http.MethodPost, "/api/sync/clear", map[string]string{"confirm": "yes"})
	if w.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("bad token: status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := store.GetByID(context.Background(), "T1"); err != nil {
		t.Fatal("rejected clear deleted data")
	}

	w, env = do(t, s, http.MethodPost, "/api/sync/clear", map[string]string{
		"source":  "vault",
		"confirm": sync.ClearConfirmToken,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res sync.ClearResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.DeletedTasks != 1 || res.DeletedCursors != 1 {
		t.Errorf("result = %+v", res)
	}
	if _, err := store.GetByID(context.Background(), "T2"); err != nil {
		t.Error("clear of vault removed extension data")
	}
}

func TestRequestID(t *testing.T) {
	s, _ := setupTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestWebSocketRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := memory.New()
	hub := dashboard.NewHub(&dashboard.Config{Logger: quietLogger()})
	hub.Start()
	defer hub.Stop()

	svc, err := sync.New(store, sync.DefaultConfig(), sync.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewServer(svc, Config{Hub: hub, Logger: quietLogger()}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var msg dashboard.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != dashboard.MessageTypeStats {
		t.Errorf("welcome type = %s, want stats", msg.Type)
	}
}
