package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestd/internal/authz"
	"github.com/fyrsmithlabs/orchestd/internal/backup"
	"github.com/fyrsmithlabs/orchestd/internal/capability"
	"github.com/fyrsmithlabs/orchestd/internal/executor"
	"github.com/fyrsmithlabs/orchestd/internal/intent"
	"github.com/fyrsmithlabs/orchestd/internal/plan"
	"github.com/fyrsmithlabs/orchestd/internal/risk"
	"github.com/fyrsmithlabs/orchestd/internal/session"
	"github.com/fyrsmithlabs/orchestd/internal/tool"
)

type staticSource struct {
	id   string
	caps []capability.Capability
}

func (s *staticSource) ServerID() string { return s.id }

func (s *staticSource) ListActions(ctx context.Context) ([]capability.Capability, error) {
	return s.caps, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := capability.NewRegistry(nil)
	require.NoError(t, registry.Refresh(context.Background(), []capability.Source{
		&staticSource{id: "jenkins", caps: []capability.Capability{
			{ServerID: "jenkins", Action: "build_image"},
			{ServerID: "jenkins", Action: "run_tests"},
		}},
		&staticSource{id: "sonarqube", caps: []capability.Capability{
			{ServerID: "sonarqube", Action: "scan_code"},
		}},
		&staticSource{id: "kubernetes", caps: []capability.Capability{
			{ServerID: "kubernetes", Action: "apply_deployment"},
			{ServerID: "kubernetes", Action: "get_status"},
		}},
	}))

	rulesPath := filepath.Join(t.TempDir(), "permissions.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules:\n  - action: \"*\"\n    roles: [sre]\n"), 0o600))
	gate, err := authz.NewAuthorizer(rulesPath, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { gate.Close() })

	capturer, err := backup.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	store := plan.NewStore()
	invoker := tool.InvokerFunc(func(ctx context.Context, serverID, action string, args map[string]any, timeout time.Duration) (tool.Result, error) {
		return tool.Result{Success: true, Output: "ok"}, nil
	})
	exec := executor.New(executor.Config{MaxWorkers: 4, StepTimeout: time.Second, RetryBackoff: time.Millisecond},
		store, invoker, gate, capturer, nil, nil)

	sess := session.New(intent.NewAnalyzer(), plan.NewGenerator(risk.NewModel(), nil), registry, store, exec, nil)
	srv, err := NewServer(sess, nil, nil)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_PlanLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/plans", `{"command":"deploy service app to production"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p plan.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, plan.StatusPendingApproval, p.Status)
	assert.GreaterOrEqual(t, len(p.Steps), 7)

	// A second proposal conflicts with the active slot.
	rec = doJSON(t, srv, http.MethodPost, "/v1/plans", `{"command":"deploy service other to staging"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/plans/"+p.ID+"/approve", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/plans/"+p.ID+"/execute", `{"role":"sre"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res executor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, plan.StatusCompleted, res.Status)

	rec = doJSON(t, srv, http.MethodGet, "/v1/plans/"+p.ID+"/report", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/plans/"+p.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(plan.StatusCompleted))
}

func TestServer_ProposeValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/plans", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/plans", `{"command":"make me a sandwich"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_NotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/plans/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/plans/ghost/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExecuteRequiresRole(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/plans/any/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, srv, http.MethodGet, "/healthz", "")

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orchestd_http_requests_total")
}
