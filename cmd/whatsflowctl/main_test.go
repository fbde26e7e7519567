package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recorder) get() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func fakeServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&c.body)
		}
		rec.mu.Lock()
		rec.calls = append(rec.calls, c)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/qr/sales":
			_, _ = w.Write([]byte(`{"instanceId":"sales","qr":"2@abc","connected":false,"expiresIn":42}`))
		case "/qr/idle":
			_, _ = w.Write([]byte(`{"instanceId":"idle","qr":null,"connected":false,"expiresIn":0}`))
		case "/status/ghost":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"error":"Instance not found","code":"INSTANCE_NOT_FOUND"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--url", srv.URL, "--token", "tkn"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsHitTheRightRoutes(t *testing.T) {
	rec := &recorder{}
	srv := fakeServer(t, rec)

	tests := []struct {
		args   []string
		method string
		path   string
		query  string
	}{
		{[]string{"health"}, http.MethodGet, "/health", ""},
		{[]string{"status"}, http.MethodGet, "/status", ""},
		{[]string{"status", "sales"}, http.MethodGet, "/status/sales", ""},
		{[]string{"list"}, http.MethodGet, "/instances", ""},
		{[]string{"create", "sales", "--name", "Sales"}, http.MethodPost, "/instances", ""},
		{[]string{"connect", "sales"}, http.MethodPost, "/connect/sales", ""},
		{[]string{"disconnect", "sales"}, http.MethodPost, "/disconnect/sales", ""},
		{[]string{"disconnect", "sales", "--logout"}, http.MethodPost, "/disconnect/sales", "logout=true"},
		{[]string{"delete", "sales"}, http.MethodDelete, "/instances/sales", ""},
		{[]string{"send", "sales", "5511988887777", "hello"}, http.MethodPost, "/send/sales", ""},
	}
	for _, tt := range tests {
		rec.reset()
		out, err := run(t, srv, tt.args...)
		calls := rec.get()
		require.NoError(t, err, tt.args)
		require.Len(t, calls, 1, tt.args)
		assert.Equal(t, tt.method, calls[0].method, tt.args)
		assert.Equal(t, tt.path, calls[0].path, tt.args)
		assert.Equal(t, tt.query, calls[0].query, tt.args)
		assert.Equal(t, "Bearer tkn", calls[0].auth)
		assert.Contains(t, out, `"success": true`)
	}
}

func TestCreateAndSendBodies(t *testing.T) {
	rec := &recorder{}
	srv := fakeServer(t, rec)

	_, err := run(t, srv, "create", "sales", "--name", "Sales")
	require.NoError(t, err)
	_, err = run(t, srv, "send", "sales", "5511988887777", "hello")
	require.NoError(t, err)

	calls := rec.get()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]string{"name": "Sales", "instanceId": "sales"}, calls[0].body)

	assert.Equal(t, "5511988887777", calls[1].body["to"])
	assert.Equal(t, "hello", calls[1].body["message"])
	assert.Equal(t, "text", calls[1].body["type"])
}

func TestQRCommand(t *testing.T) {
	rec := &recorder{}
	srv := fakeServer(t, rec)

	out, err := run(t, srv, "qr", "sales", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "2@abc\n", out)

	out, err = run(t, srv, "qr", "sales")
	require.NoError(t, err)
	assert.Contains(t, out, "expires in 42s")

	out, err = run(t, srv, "qr", "idle")
	require.NoError(t, err)
	assert.Contains(t, out, "no pairing code")
}

func TestAPIErrorsSurface(t *testing.T) {
	rec := &recorder{}
	srv := fakeServer(t, rec)

	_, err := NewAPIClient(srv.URL, "").Status("ghost")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "INSTANCE_NOT_FOUND", apiErr.Code)
	assert.Empty(t, rec.get()[0].auth)

	_, err = run(t, srv, "status", "ghost")
	assert.Error(t, err)
}
