package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"cocina/internal/kitchen"
	"cocina/internal/model"
	"cocina/internal/notify"
)

const (
	maxBodyBytes = 4096
	// MaxLongPoll bounds how long GET /state/updates holds a request open.
	MaxLongPoll = 20 * time.Second
)

// Workflow is what the shell needs from *kitchen.Workflow.
type Workflow interface {
	LoadPending(ctx context.Context)
	LoadHistorical(ctx context.Context, fecha string)
	SetStatus(ctx context.Context, id model.OrderID, status string) bool
	Snapshot() kitchen.Snapshot
	Subscribe() (<-chan kitchen.Snapshot, func())
}

// Routes mounts the kitchen screen API.
func Routes(wf Workflow, feed *notify.Feed) chi.Router {
	validate := validator.New()

	r := chi.NewRouter()
	r.Get("/state", StateHandler(wf))
	r.Get("/state/updates", StateUpdatesHandler(wf, MaxLongPoll))
	r.Post("/pendientes/reload", ReloadPendingHandler(wf))
	r.Post("/historial/reload", ReloadHistoricalHandler(wf))
	r.Patch("/pedidos/{id}/estado", SetStatusHandler(wf, validate))
	r.Get("/notificaciones", NotificationsHandler(feed))
	return r
}

func StateHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, wf.Snapshot())
	}
}

// StateUpdatesHandler long-polls: it answers with the first state change
// after the request arrives, or with the current state once the wait (the
// "wait" query duration, capped at maxWait) runs out.
func StateUpdatesHandler(wf Workflow, maxWait time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wait := maxWait
		if q := r.URL.Query().Get("wait"); q != "" {
			d, err := time.ParseDuration(q)
			if err != nil || d <= 0 {
				http.Error(w, "invalid wait duration", http.StatusBadRequest)
				return
			}
			wait = min(d, maxWait)
		}

		updates, cancel := wf.Subscribe()
		defer cancel()

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case snap, ok := <-updates:
			if !ok {
				snap = wf.Snapshot()
			}
			writeJSON(w, http.StatusOK, snap)
		case <-timer.C:
			writeJSON(w, http.StatusOK, wf.Snapshot())
		case <-r.Context().Done():
		}
	}
}

// Backend calls are detached from the screen's request so a closed tab does
// not wipe the lists through a canceled load.
func ReloadPendingHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf.LoadPending(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusOK, wf.Snapshot())
	}
}

func ReloadHistoricalHandler(wf Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf.LoadHistorical(context.WithoutCancel(r.Context()), r.URL.Query().Get("fecha"))
		writeJSON(w, http.StatusOK, wf.Snapshot())
	}
}

type setStatusResponse struct {
	OK bool `json:"ok"`
}

func SetStatusHandler(wf Workflow, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := orderID(r)
		if err != nil || id == "" {
			http.Error(w, "order id required", http.StatusBadRequest)
			return
		}

		req, err := readStatusUpdate(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "nuevo_estado is required", http.StatusUnprocessableEntity)
			return
		}

		if !wf.SetStatus(context.WithoutCancel(r.Context()), model.OrderID(id), req.NuevoEstado) {
			writeJSON(w, http.StatusBadGateway, setStatusResponse{OK: false})
			return
		}
		writeJSON(w, http.StatusOK, setStatusResponse{OK: true})
	}
}

// NotificationsHandler drains the feed; with keep=true it only lists it.
func NotificationsHandler(feed *notify.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("keep") == "true" {
			writeJSON(w, http.StatusOK, feed.List())
			return
		}
		writeJSON(w, http.StatusOK, feed.Drain())
	}
}

// orderID returns the decoded id. chi matches on RawPath when the request has
// one, and then the parameter is still escaped; otherwise it is decoded already.
func orderID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

func readStatusUpdate(w http.ResponseWriter, r *http.Request) (model.StatusUpdate, error) {
	var req model.StatusUpdate
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, errors.New("request body too large")
		}
		return req, errors.New("invalid json")
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
