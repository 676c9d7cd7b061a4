package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/cfg"
	"github.com/maxpert/pubkit/vat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *vat.Root) {
	t.Helper()
	root, err := vat.Build(context.Background(), baggage.NewMemoryStore(), vat.Parameters{
		Version:   "v1",
		Kind:      "DurablePublishKit",
		Singleton: "publishKitSingleton",
	})
	require.NoError(t, err)
	return NewRouter(NewAdminHandlers(root)), root
}

func withSecret(t *testing.T, secret string) {
	t.Helper()
	old := cfg.Config.Admin.Secret
	cfg.Config.Admin.Secret = secret
	t.Cleanup(func() { cfg.Config.Admin.Secret = old })
}

func get(t *testing.T, h http.Handler, path string, header http.Header) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	withSecret(t, "")
	h, _ := newTestRouter(t)

	rec, body := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["healthy"])
	assert.Equal(t, "v1", data["version"])
	assert.Equal(t, float64(1), data["live_kits"])
}

func TestListAndDescribeKits(t *testing.T) {
	withSecret(t, "")
	h, root := newTestRouter(t)
	require.NoError(t, root.Publish(context.Background(), "secret payload"))

	rec, body := get(t, h, "/admin/kits/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"publishKitSingleton"}, body["data"])

	rec, body = get(t, h, "/admin/kits/publishKitSingleton", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["sequence"])
	assert.Equal(t, "active", data["status"])
	assert.NotContains(t, rec.Body.String(), "secret payload")

	rec, _ = get(t, h, "/admin/kits/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	withSecret(t, "s3cret")
	h, _ := newTestRouter(t)

	rec, _ := get(t, h, "/admin/kits/", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/admin/kits/", http.Header{"Authorization": {"Basic abc"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/admin/kits/", http.Header{"X-Pubkit-Secret": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/admin/kits/", http.Header{"X-Pubkit-Secret": {"s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, h, "/admin/kits/", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerStartStop(t *testing.T) {
	withSecret(t, "")
	h, _ := newTestRouter(t)
	srv := NewServer("127.0.0.1", 0, h)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}
