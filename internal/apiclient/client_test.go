package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cocina/internal/metrics"
	"cocina/internal/session"
)

func TestDo_SuccessAttachesBearer(t *testing.T) {
	var gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		assert.Equal(t, "/cocina/pendientes", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", session.New("tok"))
	res := c.Do(context.Background(), http.MethodGet, "/cocina/pendientes", nil)

	require.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `[{"id":1}]`, string(res.Data))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

func TestDo_NoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		assert.False(t, present)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := New(srv.URL, session.New("")).Do(context.Background(), http.MethodGet, "/x", nil)
	require.True(t, res.Success)
	assert.Equal(t, "null", string(res.Data))
}

func TestDo_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"nuevo_estado":"listo"}`, string(b))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res := New(srv.URL, nil).Do(context.Background(), http.MethodPatch, "/cocina/pedidos/7/estado",
		map[string]string{"nuevo_estado": "listo"})
	assert.True(t, res.Success)
}

func TestDo_BackendErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "detail_string", body: `{"detail":"no encontrado"}`, want: "no encontrado"},
		{name: "detail_list", body: `{"detail":[{"loc":["body"],"msg":"field required"}]}`, want: "field required"},
		{name: "message", body: `{"message":"boom"}`, want: "boom"},
		{name: "error", body: `{"error":"bad"}`, want: "bad"},
		{name: "plain_text", body: `internal error`, want: ""},
		{name: "empty", body: ``, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := New(srv.URL, nil).Do(context.Background(), http.MethodGet, "/x", nil)
			assert.False(t, res.Success)
			assert.Equal(t, http.StatusNotFound, res.Status)
			assert.Equal(t, tt.want, res.Error)
			assert.ErrorIs(t, res.Err, ErrBackend)
		})
	}
}

func TestDo_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := New(url, nil, WithTimeout(time.Second)).Do(context.Background(), http.MethodGet, "/x", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "", res.Error)
	assert.ErrorIs(t, res.Err, ErrTransport)
}

func TestDo_UnencodableBody(t *testing.T) {
	res := New("http://127.0.0.1:1", nil).Do(context.Background(), http.MethodPost, "/x", make(chan int))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrTransport)
}

func TestDo_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	c := New(srv.URL, nil, WithMetrics(metrics.NewClientMetricsWithRegisterer(reg)))
	c.Do(context.Background(), http.MethodPatch, "/cocina/pedidos/15/estado", nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "cocina_backend_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/cocina/pedidos/{id}/estado" && labels["outcome"] == metrics.OutcomeBackendError {
				found = true
				assert.Equal(t, 1.0, m.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "backend_error sample for masked route")
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/cocina/historial", routeLabel("/cocina/historial?fecha=2024-01-01"))
	assert.Equal(t, "/cocina/pedidos/{id}/estado", routeLabel("/cocina/pedidos/7/estado"))
	assert.Equal(t, "/cocina/pedidos/{id}/estado", routeLabel("/cocina/pedidos/a1b2/estado"))
	assert.Equal(t, "/cocina/pedidos/{id}/estado", routeLabel("/cocina/pedidos/abc/estado"))
	assert.Equal(t, "/cocina/pedidos/{id}/estado", routeLabel("/cocina/pedidos/tarde_noche/estado"))
	assert.Equal(t, "/cocina/pedidos/{id}", routeLabel("/cocina/pedidos/zzz"))
	assert.Equal(t, "/cocina/pedidos", routeLabel("/cocina/pedidos"))
}
