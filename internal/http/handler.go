package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/litesql/tablegate/internal/dispatch"
)

// ChangeFollower streams the change events of a table.
type ChangeFollower interface {
	Follow(ctx context.Context, table, policy string, fn func(*dispatch.ChangeEvent)) error
}

type Handler struct {
	Name      string
	Dispatch  *dispatch.Dispatcher
	Changes   ChangeFollower
	KeepAlive time.Duration
}

// Register mounts the JSON routes and the event streams on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /operations", h.Operations)
	mux.HandleFunc("GET /tables", h.Tables)
	mux.HandleFunc("POST /query", handle(h.Dispatch.QueryTable))
	mux.HandleFunc("POST /insert", handle(h.Dispatch.InsertRow))
	mux.HandleFunc("POST /update", handle(h.Dispatch.UpdateRows))
	mux.HandleFunc("POST /delete", handle(h.Dispatch.DeleteRows))
	mux.HandleFunc("POST /sql", handle(h.Dispatch.RunSQL))
	mux.HandleFunc("GET /stats/{table}", h.Stats)
	mux.HandleFunc("GET /events", h.Events)
	if h.Changes != nil {
		mux.HandleFunc("GET /changes", h.ChangeStream)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": h.Name,
	})
}

func (h *Handler) Operations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]dispatch.Operation{
		"operations": dispatch.Operations(),
	})
}

func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Dispatch.ListTables(r.Context(), dispatch.ListTablesRequest{})
	write(w, dispatch.Translate(rows, err))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Dispatch.GetStats(r.Context(), dispatch.GetStatsRequest{Table: r.PathValue("table")})
	write(w, dispatch.Translate(stats, err))
}

// Events sends one connected greeting, then keep-alive comments until the
// client goes away.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	rc := startStream(w)
	fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	if err := rc.Flush(); err != nil {
		slog.DebugContext(r.Context(), "event stream flush", "error", err)
		return
	}
	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// ChangeStream relays change events as server sent events. Query parameters:
// table (all tables when empty) and policy (new by default).
func (h *Handler) ChangeStream(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table != "" {
		if err := dispatch.ValidateTable(table); err != nil {
			write(w, dispatch.Translate(nil, err))
			return
		}
	}
	policy := r.URL.Query().Get("policy")
	if policy == "" {
		policy = "new"
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := make(chan *dispatch.ChangeEvent, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- h.Changes.Follow(ctx, table, policy, func(e *dispatch.ChangeEvent) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
	}()

	rc := startStream(w)
	rc.Flush()
	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errc:
			if err != nil {
				b, _ := json.Marshal(map[string]string{"error": err.Error()})
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
				rc.Flush()
			}
			return
		case e := <-events:
			b, err := json.Marshal(e)
			if err != nil {
				slog.ErrorContext(ctx, "failed to marshal change event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", b)
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) keepAlive() time.Duration {
	if h.KeepAlive <= 0 {
		return 30 * time.Second
	}
	return h.KeepAlive
}

func startStream(w http.ResponseWriter) *http.ResponseController {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return http.NewResponseController(w)
}

func handle[Req, Res any](op func(context.Context, Req) (Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("empty request body")
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("malformed body: %v", err)})
			return
		}
		res, err := op(r.Context(), req)
		write(w, dispatch.Translate(res, err))
	}
}

func write(w http.ResponseWriter, env dispatch.Envelope) {
	writeJSON(w, env.Status, env.JSON())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
