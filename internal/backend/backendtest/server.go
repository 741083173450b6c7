// Package backendtest runs an in-process lecture backend for tests: REST
// routes under /api plus the live transcription channel.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rbright/pyronotes/internal/backend"
)

// InsightEvery is how many transcript characters the fake accumulates before
// emitting an insight card.
const InsightEvery = 250

// Server is a scripted backend. Exported knobs may be set before or during a test.
type Server struct {
	URL string // API root, e.g. http://127.0.0.1:1234/api

	FailStart   atomic.Bool
	FailUpdate  atomic.Bool
	FailUpload  atomic.Bool
	DropStreams atomic.Bool

	TranscribeResult backend.TranscriptionResult

	ts       *httptest.Server
	upgrader websocket.Upgrader
	nextID   atomic.Int64

	mu       sync.Mutex
	lectures map[string]backend.LectureUpdate
	audio    map[string][]byte
	received map[string][]string
	uploads  []string
	agents   []string
}

// New starts a server; call Close when done.
func New() *Server {
	s := &Server{
		lectures: make(map[string]backend.LectureUpdate),
		audio:    make(map[string][]byte),
		received: make(map[string][]string),
	}

	r := chi.NewRouter()
	r.Use(s.recordAgent)
	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleRoot)
		r.Post("/transcriptions/start", s.handleStart)
		r.Post("/transcriptions", s.handleTranscribe)
		r.Get("/transcriptions/{id}/stream", s.handleStream)
		r.Post("/lectures/{id}/audio", s.handleAudio)
		r.Patch("/lectures/{id}", s.handleUpdate)
		r.Post("/generate", s.handleGenerate)
	})

	s.ts = httptest.NewServer(r)
	s.URL = s.ts.URL + "/api"
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.ts.Close()
}

// Lecture returns the last update applied to id.
func (s *Server) Lecture(id string) (backend.LectureUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lectures[id]
	return l, ok
}

// Audio returns the recording uploaded for id.
func (s *Server) Audio(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.audio[id]...)
}

// Received returns the transcript segments the live channel received for id.
func (s *Server) Received(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received[id]...)
}

// Agents returns the User-Agent of every request served, in arrival order.
func (s *Server) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.agents...)
}

func (s *Server) recordAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.agents = append(s.agents, r.UserAgent())
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Uploads returns the filenames posted for whole-file transcription.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if s.FailStart.Load() {
		http.Error(w, "start failed", http.StatusInternalServerError)
		return
	}
	id := fmt.Sprintf("lec-%d", s.nextID.Add(1))
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.FailUpload.Load() {
		http.Error(w, "transcription failed", http.StatusBadGateway)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	_, _ = io.Copy(io.Discard, file)

	s.mu.Lock()
	s.uploads = append(s.uploads, header.Filename)
	s.mu.Unlock()

	result := s.TranscribeResult
	if result.ID == "" {
		result.ID = fmt.Sprintf("lec-%d", s.nextID.Add(1))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.FailUpload.Load() {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.audio[chi.URLParam(r, "id")] = data
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.FailUpdate.Load() {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	var update backend.LectureUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	s.lectures[id] = update
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, backend.Lecture{
		ID:          id,
		Title:       update.Title,
		FolderID:    update.FolderID,
		DurationSec: update.DurationSec,
		Status:      update.Status,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req backend.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, backend.GenerateResponse{
		Type:    req.Type,
		Content: fmt.Sprintf("# %s for %s %s", req.Type, req.Scope, req.ID),
	})
}

type wireEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Subtype string `json:"subtype,omitempty"`
	Term    string `json:"term,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleStream echoes transcript segments, emits an insight every
// InsightEvery characters, and on finalize sends a closing analysis and done.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var transcript strings.Builder
	pending := 0
	for {
		var in wireEvent
		if err := ws.ReadJSON(&in); err != nil {
			return
		}
		switch in.Type {
		case "transcript_chunk":
			s.mu.Lock()
			s.received[id] = append(s.received[id], in.Text)
			s.mu.Unlock()

			if s.DropStreams.Load() {
				return
			}
			transcript.WriteString(in.Text)
			pending += len(in.Text)
			if err := ws.WriteJSON(wireEvent{Type: "transcript_chunk", Text: in.Text}); err != nil {
				return
			}
			if pending >= InsightEvery {
				pending = 0
				_ = ws.WriteJSON(wireEvent{Type: "ai_chunk", Subtype: "explanation", Term: "Recap", Text: "So far: " + tail(transcript.String(), 40)})
			}
		case "finalize":
			if transcript.Len() > 0 {
				_ = ws.WriteJSON(wireEvent{Type: "ai_chunk", Subtype: "definition", Term: "Summary", Text: tail(transcript.String(), 40)})
			}
			_ = ws.WriteJSON(wireEvent{Type: "done"})
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
