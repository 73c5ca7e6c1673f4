package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-robin/internal/eventstore"
	"github.com/loqalabs/loqa-robin/internal/intent"
	"github.com/loqalabs/loqa-robin/internal/prefs"
	"github.com/loqalabs/loqa-robin/internal/presence"
)

const maxTimelineEvents = 500

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/v1/classify", classifyHandler(r.matcher))
	mux.Handle("/v1/preferences", preferencesHandler(r.prefs, r.logger))
	mux.HandleFunc("/v1/peers", r.handlePeers)
	mux.Handle("/v1/timeline", timelineHandler(r.store, r.timeline.RunID(), r.logger))
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handlePeers(w http.ResponseWriter, req *http.Request) {
	filter := presence.Alive
	if req.URL.Query().Get("all") == "true" {
		filter = nil
	}
	writeJSON(w, http.StatusOK, r.presence.Peers(filter))
}

type classification struct {
	Transcript string         `json:"transcript"`
	WakeWord   bool           `json:"wake_word"`
	Command    *classifiedCmd `json:"command,omitempty"`
	Question   string         `json:"question,omitempty"`
}

type classifiedCmd struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
	Synonym  string `json:"synonym"`
	Pass     string `json:"pass"`
}

// classify runs a transcript through the matcher the way the voice session
// does: a command wins over a question.
func classify(m *intent.Matcher, transcript string) classification {
	out := classification{Transcript: transcript, WakeWord: m.HasWakeWord(transcript)}
	if cmd, ok := m.Classify(transcript); ok {
		c := &classifiedCmd{
			Name:     cmd.Name,
			Category: string(cmd.Category),
			Action:   string(cmd.Action),
			Synonym:  cmd.Synonym,
			Pass:     cmd.Pass.String(),
		}
		if cmd.Action == intent.ActionNavigate {
			c.Target = cmd.NavigationTarget()
		}
		out.Command = c
		return out
	}
	if q, ok := m.ExtractQuestion(transcript); ok {
		out.Question = q
	}
	return out
}

func classifyHandler(m *intent.Matcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		text := strings.TrimSpace(req.URL.Query().Get("text"))
		if text == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, classify(m, text))
	})
}

type preferenceUpdate struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

func preferencesHandler(store *prefs.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, store.Snapshot())
		case http.MethodPost:
			var u preferenceUpdate
			if err := json.NewDecoder(req.Body).Decode(&u); err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			if err := store.Set(u.Name, u.Value); err != nil {
				if errors.Is(err, prefs.ErrUnknownPreference) {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				logger.Error("preference update failed", slog.String("error", err.Error()))
				http.Error(w, "update failed", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, store.Snapshot())
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

type timelineEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type timelineReader interface {
	ListRunEvents(ctx context.Context, runID string, limit int) ([]eventstore.Event, error)
	CountByType(ctx context.Context, runID string) (map[string]int, error)
}

// timelineHandler serves the oldest limit events of the current run together
// with per-type totals for the whole run.
func timelineHandler(store timelineReader, runID string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		limit := 100
		if raw := req.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxTimelineEvents)
		}
		events, err := store.ListRunEvents(req.Context(), runID, limit)
		if err != nil {
			logger.Error("timeline query failed", slog.String("error", err.Error()))
			http.Error(w, "timeline unavailable", http.StatusInternalServerError)
			return
		}
		out := make([]timelineEvent, 0, len(events))
		for _, evt := range events {
			te := timelineEvent{Type: evt.Type, CreatedAt: evt.CreatedAt}
			if json.Valid(evt.Payload) {
				te.Payload = evt.Payload
			}
			out = append(out, te)
		}
		counts, err := store.CountByType(req.Context(), runID)
		if err != nil {
			logger.Error("timeline count failed", slog.String("error", err.Error()))
			http.Error(w, "timeline unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "counts": counts, "events": out})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
