// Package rmtest provides an in-process fake of the RagMetrics backend so
// applications can test their instrumentation without network access.
package rmtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// Server is a fake RagMetrics backend. It accepts any non-empty API key,
// captures every record posted to the logtrace endpoint and serves them back
// through Records.
type Server struct {
	httpSrv *httptest.Server

	mu       sync.Mutex
	records  []trace.Record
	logins   int
	datasets []storedDataset
}

type storedDataset struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Examples []map[string]any `json:"examples"`
}

// NewServer starts the fake backend. Callers must Close it.
func NewServer() *Server {
	s := &Server{}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Post("/api/client/login/", s.handleLogin)
	r.Post("/api/client/logtrace/", s.handleLogTrace)
	r.Post("/api/client/dataset/save/", s.handleDatasetSave)
	r.Get("/api/client/dataset/download/", s.handleDatasetDownload)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL is the base URL to pass to ragmetrics.WithBaseURL.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

func (s *Server) Close() {
	s.httpSrv.Close()
}

// Records returns a copy of all captured records in arrival order.
func (s *Server) Records() []trace.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trace.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Logins reports how many login calls were served.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
		return
	}

	s.mu.Lock()
	s.logins++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user": map[string]string{"username": "rmtest"},
	})
}

func (s *Server) handleLogTrace(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var rec trace.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid record"})
		return
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": rec.TraceID})
}

func (s *Server) handleDatasetSave(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var body struct {
		Name     string           `json:"datasetName"`
		Examples []map[string]any `json:"examples"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid dataset"})
		return
	}

	s.mu.Lock()
	ds := storedDataset{ID: len(s.datasets) + 1, Name: body.Name, Examples: body.Examples}
	s.datasets = append(s.datasets, ds)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"dataset": map[string]int{"id": ds.ID}})
}

func (s *Server) handleDatasetDownload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := r.URL.Query().Get("id")
	name := r.URL.Query().Get("name")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ds := range s.datasets {
		if strconv.Itoa(ds.ID) == id || (name != "" && ds.Name == name) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"dataset": ds})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "dataset not found"})
}
