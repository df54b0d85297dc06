package hardware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRequest(t *testing.T, mux *http.ServeMux, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminStatus(t *testing.T) {
	r := newRig(t)
	r.configure(skyParams)
	mux := http.NewServeMux()
	r.orch.AttachAdminRoutes(mux)

	rec := adminRequest(t, mux, http.MethodGet, "/debug/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, 1000, st.GratingIndex)
	require.NotNil(t, st.Config)
	assert.Equal(t, 24000, st.Config.TotalFrames)
}

func TestAdminDirective(t *testing.T) {
	r := newRig(t)
	mux := http.NewServeMux()
	r.orch.AttachAdminRoutes(mux)

	rec := adminRequest(t, mux, http.MethodPost, "/debug/directive", url.Values{"kind": {"gratinggo"}, "index": {"1200"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued":"gratinggo"}`, rec.Body.String())

	rec = adminRequest(t, mux, http.MethodPost, "/debug/directive", url.Values{"kind": {"auto_setup"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, r.orch.Snapshot().QueueDepth)

	d := r.orch.next(context.Background())
	assert.Equal(t, MoveGrating{Index: 1200}, d)
}

func TestAdminDirective_Errors(t *testing.T) {
	r := newRig(t)
	mux := http.NewServeMux()
	r.orch.AttachAdminRoutes(mux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		status int
	}{
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"bad index", http.MethodPost, url.Values{"kind": {"gratinggo"}, "index": {"far"}}, http.StatusBadRequest},
		{"configure not allowed", http.MethodPost, url.Values{"kind": {"configure"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := adminRequest(t, mux, tt.method, "/debug/directive", tt.form)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, 0, r.orch.Snapshot().QueueDepth)
}

func TestAdminDirective_QueueClosed(t *testing.T) {
	r := newRig(t)
	mux := http.NewServeMux()
	r.orch.AttachAdminRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.orch.Run(ctx), context.Canceled)

	rec := adminRequest(t, mux, http.MethodPost, "/debug/directive", url.Values{"kind": {"auto_setup"}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
