// Package kitchen is the order workflow client of a kitchen station. It keeps
// the pending and historical order lists in sync with the restaurant backend
// and reports every outcome as a notification instead of an error.
package kitchen

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"cocina/internal/apiclient"
	"cocina/internal/model"
	"cocina/internal/notify"
)

const (
	PathPending    = "/cocina/pendientes"
	PathHistorical = "/cocina/historial"
)

const (
	titlePendingFailed    = "Error al cargar pedidos pendientes"
	fallbackPending       = "No se pudieron cargar los pedidos pendientes"
	titleHistoricalFailed = "Error al cargar historial"
	fallbackHistorical    = "No se pudo cargar el historial de pedidos"
	titleStatusUpdated    = "Estado actualizado"
	titleStatusFailed     = "Error"
	fallbackStatus        = "No se pudo actualizar el estado"
)

// APIClient is the part of apiclient.Client the workflow needs.
type APIClient interface {
	Do(ctx context.Context, method, path string, body any) apiclient.Result
}

// Snapshot is a copy of the workflow state at one moment.
type Snapshot struct {
	Pending    []model.Order `json:"pendientes"`
	Historical []model.Order `json:"historial"`
	Loading    bool          `json:"loading"`
}

type Workflow struct {
	api      APIClient
	notifier notify.Notifier
	log      *slog.Logger

	mu            sync.Mutex
	pending       []model.Order
	historical    []model.Order
	inflight      int
	pendingGen    uint64
	historicalGen uint64
	subs          map[chan Snapshot]struct{}
}

type Option func(*Workflow)

func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.log = l
		}
	}
}

func New(api APIClient, n notify.Notifier, opts ...Option) *Workflow {
	if n == nil {
		n = notify.Func(func(notify.Notification) {})
	}
	w := &Workflow{
		api:        api,
		notifier:   n,
		log:        slog.Default(),
		pending:    []model.Order{},
		historical: []model.Order{},
		subs:       make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// LoadPending replaces the pending list with the backend's, or empties it
// and emits a destructive notification when the request fails.
func (w *Workflow) LoadPending(ctx context.Context) {
	w.load(ctx, PathPending, &w.pendingGen, &w.pending, titlePendingFailed, fallbackPending)
}

// LoadHistorical does the same for the history. fecha is sent verbatim as the
// fecha query parameter when not empty.
func (w *Workflow) LoadHistorical(ctx context.Context, fecha string) {
	path := PathHistorical
	if fecha != "" {
		path += "?" + url.Values{"fecha": {fecha}}.Encode()
	}
	w.load(ctx, path, &w.historicalGen, &w.historical, titleHistoricalFailed, fallbackHistorical)
}

// SetStatus asks the backend to move an order to status. On success the
// pending list is reloaded once; on failure no list is touched.
func (w *Workflow) SetStatus(ctx context.Context, id model.OrderID, status string) bool {
	path := fmt.Sprintf("/cocina/pedidos/%s/estado", url.PathEscape(id.String()))
	res := w.api.Do(ctx, http.MethodPatch, path, model.StatusUpdate{NuevoEstado: status})

	if !res.Success {
		w.log.Error("status change failed", "order", id, "status", status, "error", res.Err, "detail", res.Error)
		w.notifier.Notify(notify.Destructive(titleStatusFailed, orDefault(res.Error, fallbackStatus)))
		return false
	}

	w.log.Info("order status changed", "order", id, "status", status)
	w.notifier.Notify(notify.Success(titleStatusUpdated, fmt.Sprintf("Pedido #%s marcado como %s", id, status)))
	w.LoadPending(ctx)
	return true
}

func (w *Workflow) load(ctx context.Context, path string, gen *uint64, dst *[]model.Order, title, fallback string) {
	w.mu.Lock()
	*gen++
	mine := *gen
	w.inflight++
	w.publishLocked()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.inflight--
		w.publishLocked()
		w.mu.Unlock()
	}()

	res := w.api.Do(ctx, http.MethodGet, path, nil)
	if !res.Success && ctx.Err() != nil {
		// Caller gave up, the backend did not fail. Keep the list as it was.
		w.log.Debug("load abandoned", "path", path, "error", ctx.Err())
		return
	}

	var (
		orders []model.Order
		err    error
	)
	if res.Success {
		orders, err = model.DecodeOrders(res.Data)
	} else {
		err = res.Err
	}

	w.mu.Lock()
	if mine != *gen {
		w.mu.Unlock()
		w.log.Debug("discarding superseded response", "path", path)
		return
	}
	if err != nil {
		*dst = []model.Order{}
	} else {
		*dst = orders
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("load orders failed", "path", path, "error", err, "detail", res.Error)
		w.notifier.Notify(notify.Destructive(title, orDefault(res.Error, fallback)))
	}
}

func (w *Workflow) Pending() []model.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	return clone(w.pending)
}

func (w *Workflow) Historical() []model.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	return clone(w.historical)
}

func (w *Workflow) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight > 0
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Subscribe returns a channel that receives the latest snapshot after every
// state change. Slow readers only miss intermediate states. cancel stops
// delivery and closes the channel.
func (w *Workflow) Subscribe() (updates <-chan Snapshot, cancel func()) {
	ch := make(chan Snapshot, 1)

	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, ch)
			w.mu.Unlock()
			close(ch)
		})
	}
}

func (w *Workflow) snapshotLocked() Snapshot {
	return Snapshot{
		Pending:    clone(w.pending),
		Historical: clone(w.historical),
		Loading:    w.inflight > 0,
	}
}

// publishLocked must be called with w.mu held.
func (w *Workflow) publishLocked() {
	if len(w.subs) == 0 {
		return
	}
	snap := w.snapshotLocked()
	for ch := range w.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func clone(orders []model.Order) []model.Order {
	out := make([]model.Order, len(orders))
	copy(out, orders)
	return out
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
