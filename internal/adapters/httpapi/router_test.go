package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archcore/internal/core"
	"archcore/internal/infra/persistence/memory"
	"archcore/internal/snapshot"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Conflicts []string        `json:"conflicts"`
}

type clock struct{}

func (clock) Now() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

func newServer(t *testing.T) (*gin.Engine, *core.PrometheusRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := core.NewPrometheusRecorder()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), core.WithClock(clock{}), core.WithMetricsRecorder(rec))
	return NewRouter(svc, rec.Registry()), rec
}

func do(t *testing.T, router http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

const packageBody = `{
  "package": {"id": "main", "name": "Main"},
  "elements": [
    {"id": "srv", "name": "Server A", "type": "node", "packageId": "main", "properties": {"env": "prod"}},
    {"id": "app", "name": "Shop", "type": "application-component", "packageId": "main", "properties": {}}
  ],
  "relations": [
    {"id": "r1", "type": "serving", "sourceId": "srv", "targetId": "app", "packageId": "main", "properties": {}}
  ],
  "views": [
    {"id": "v1", "name": "Overview", "packageId": "main", "layout": {"nodes": [{"id": "n1", "position": {"x": 0, "y": 0}, "data": {"elementId": "srv"}}], "edges": []}}
  ]
}`

func seed(t *testing.T, router http.Handler) {
	t.Helper()
	code, env := do(t, router, http.MethodPost, "/api/v1/packages", `{"id":"main","name":"Main"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	code, env = do(t, router, http.MethodPut, "/api/v1/packages/main", packageBody)
	require.Equal(t, http.StatusOK, code, env.Error)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newServer(t)
	code, _ := do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	do(t, router, http.MethodGet, "/api/v1/packages", "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `archcore_operations_total{operation="list_packages",status="success"} 1`)
}

func TestPackageRoutes(t *testing.T) {
	router, _ := newServer(t)
	seed(t, router)

	code, env := do(t, router, http.MethodGet, "/api/v1/packages/main", "")
	require.Equal(t, http.StatusOK, code)
	var contents struct {
		Elements []struct{ ID string } `json:"elements"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &contents))
	assert.Len(t, contents.Elements, 2)

	code, _ = do(t, router, http.MethodGet, "/api/v1/packages/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, router, http.MethodPost, "/api/v1/packages", `{"id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code, "name is required")

	bad := strings.Replace(packageBody, `"type": "node"`, `"type": "starship"`, 1)
	code, env = do(t, router, http.MethodPut, "/api/v1/packages/main", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Error, "element_type")

	code, _ = do(t, router, http.MethodPost, "/api/v1/packages/main/export", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestLockRoutes(t *testing.T) {
	router, _ := newServer(t)
	seed(t, router)

	code, _ := do(t, router, http.MethodPost, "/api/v1/views/v1/checkout", `{"user":"alice","message":"wip"}`)
	require.Equal(t, http.StatusOK, code)
	code, env := do(t, router, http.MethodPost, "/api/v1/views/v1/checkout", `{"user":"bob"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, env.Error, "alice")

	_, env = do(t, router, http.MethodGet, "/api/v1/views/v1/can-edit?user=bob", "")
	assert.Equal(t, "false", string(env.Data))

	code, _ = do(t, router, http.MethodPost, "/api/v1/views/v1/checkin", `{"user":"bob"}`)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/views/v1/checkin", `{"user":"alice"}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/views/v1/checkout", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSandboxRoutes(t *testing.T) {
	router, _ := newServer(t)
	seed(t, router)

	code, env := do(t, router, http.MethodPost, "/api/v1/sandboxes", `{"sourceId":"main"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var created struct {
		PackageID string `json:"packageId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.True(t, strings.HasPrefix(created.PackageID, "sandbox_"))

	code, env = do(t, router, http.MethodGet, "/api/v1/packages/main/diff/"+created.PackageID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"added":[]`)

	code, env = do(t, router, http.MethodPost, "/api/v1/sandboxes/"+created.PackageID+"/merge", `{"targetId":"main"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.True(t, env.Success)

	code, _ = do(t, router, http.MethodPost, "/api/v1/sandboxes/"+created.PackageID+"/merge", `{"targetId":"main","strategy":"rebase"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodDelete, "/api/v1/sandboxes/main", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodDelete, "/api/v1/sandboxes/"+created.PackageID, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetamodelRoute(t *testing.T) {
	router, _ := newServer(t)
	code, env := do(t, router, http.MethodGet, "/api/v1/metamodel/valid-relationships?source=node&target=application-component", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "serving")
	code, _ = do(t, router, http.MethodGet, "/api/v1/metamodel/valid-relationships?source=x&target=y", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestEntityRoutes(t *testing.T) {
	router, _ := newServer(t)
	seed(t, router)

	code, env := do(t, router, http.MethodPost, "/api/v1/packages/main/folders", `{"id":"infra","name":"Infra"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	code, env = do(t, router, http.MethodPatch, "/api/v1/elements/srv", `{"name":"Server B","folderId":"infra"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"folderId":"infra"`)

	code, _ = do(t, router, http.MethodPatch, "/api/v1/folders/infra", `{"folderId":"infra"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/packages/main/elements", `{"name":"Warp","type":"warp-drive"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/packages/main/elements", `{"id":"../../x","name":"Evil","type":"node"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, router, http.MethodPost, "/api/v1/packages/main/relations", `{"id":"a1","type":"association","sourceId":"app","targetId":"srv"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	code, env = do(t, router, http.MethodPost, "/api/v1/packages/main/views", `{"id":"v2","name":"Draft","layout":{"nodes":[],"edges":[]}}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	code, env = do(t, router, http.MethodPatch, "/api/v1/views/v2", `{"name":"Final"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"name":"Final"`)

	code, env = do(t, router, http.MethodDelete, "/api/v1/elements/srv", "")
	require.Equal(t, http.StatusOK, code, env.Error)
	code, env = do(t, router, http.MethodGet, "/api/v1/packages/main", "")
	require.Equal(t, http.StatusOK, code)
	var contents struct {
		Elements  []json.RawMessage `json:"elements"`
		Relations []json.RawMessage `json:"relations"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &contents))
	assert.Len(t, contents.Elements, 1)
	assert.Empty(t, contents.Relations, "relations cascade with their element")

	code, _ = do(t, router, http.MethodDelete, "/api/v1/relations/a1", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, router, http.MethodDelete, "/api/v1/views/v2", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodDelete, "/api/v1/folders/infra", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestImportRouteStaysInExportRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fsys := afero.NewMemMapFs()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	svc := core.NewService(store, core.WithClock(clock{}),
		core.WithSnapshotCodec(snapshot.NewCodec(store, fsys, "/exports")))
	router := NewRouter(svc, nil)
	seed(t, router)
	require.NoError(t, afero.WriteFile(fsys, "/etc/archcore/package.json", []byte(`{"id":"main"}`), 0o644))

	code, env := do(t, router, http.MethodPost, "/api/v1/packages/main/export", "")
	require.Equal(t, http.StatusOK, code, env.Error)

	code, _ = do(t, router, http.MethodPost, "/api/v1/packages/main/import", `{"dir":"/etc/archcore"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodPost, "/api/v1/packages/other/import", `{"dir":"/exports/main"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = do(t, router, http.MethodPost, "/api/v1/packages/main/import", "")
	require.Equal(t, http.StatusOK, code, env.Error)
}
