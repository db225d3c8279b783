package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"warden/internal/explain"
	"warden/pkg/platform/sentinel"
)

type fakeReconciler struct {
	created int
	err     error
	last    string
}

func (f *fakeReconciler) ReconcileIdentity(ctx context.Context, nameOrID string) (int, error) {
	f.last = nameOrID
	return f.created, f.err
}

type fakeExplainer struct {
	entries   map[string]*explain.Entry
	refreshed int
}

func (f *fakeExplainer) Get(ctx context.Context, application, attribute, value string) (*explain.Entry, error) {
	return f.entries[application+"/"+attribute+"/"+value], nil
}

func (f *fakeExplainer) GetPermission(ctx context.Context, application, target string) (*explain.Entry, error) {
	return f.entries[application+"/*permissions*/"+target], nil
}

func (f *fakeExplainer) Refresh(ctx context.Context) error {
	f.refreshed++
	return nil
}

// ============================================================
// Suite
// ============================================================

type HandlerSuite struct {
	suite.Suite
	reconciler *fakeReconciler
	explainer  *fakeExplainer
	server     *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.reconciler = &fakeReconciler{created: 3}
	s.explainer = &fakeExplainer{entries: map[string]*explain.Entry{
		"Active Directory/memberOf/Domain Admins": {
			DisplayName:     "Domain Admins",
			Classifications: []string{"privileged"},
		},
		"Active Directory/*permissions*/PayrollDB": {
			DisplayName: "PayrollDB",
		},
	}}
	handler := NewHandler(s.reconciler, s.explainer, slog.Default())
	s.server = httptest.NewServer(NewRouter(handler))
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) do(method, path string) (*http.Response, map[string]any) {
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var body map[string]any
	if resp.StatusCode != http.StatusNoContent {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

// ============================================================
// Reconcile
// ============================================================

func (s *HandlerSuite) TestReconcile() {
	resp, body := s.do(http.MethodPost, "/reconcile/amanda.ross")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("amanda.ross", body["identity"])
	s.Equal(float64(3), body["created"])
	s.Equal("amanda.ross", s.reconciler.last)
}

func (s *HandlerSuite) TestReconcileUnknownIdentity() {
	s.reconciler.err = sentinel.ErrNotFound
	resp, body := s.do(http.MethodPost, "/reconcile/nobody.home")
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.NotEmpty(body["error"])
}

func (s *HandlerSuite) TestReconcileLockedIdentity() {
	s.reconciler.err = sentinel.ErrLocked
	resp, _ := s.do(http.MethodPost, "/reconcile/amanda.ross")
	s.Equal(http.StatusLocked, resp.StatusCode)
}

func (s *HandlerSuite) TestReconcileAmbiguousName() {
	s.reconciler.err = sentinel.ErrAmbiguous
	resp, _ := s.do(http.MethodPost, "/reconcile/amanda")
	s.Equal(http.StatusConflict, resp.StatusCode)
}

// ============================================================
// Explain
// ============================================================

func (s *HandlerSuite) TestExplainValue() {
	resp, body := s.do(http.MethodGet,
		"/explain?application=Active+Directory&attribute=memberOf&value=Domain+Admins")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("Domain Admins", body["displayName"])
	s.Equal([]any{"privileged"}, body["classifications"])
}

func (s *HandlerSuite) TestExplainPermissionTarget() {
	resp, body := s.do(http.MethodGet,
		"/explain?application=Active+Directory&value=PayrollDB")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("PayrollDB", body["displayName"])
}

func (s *HandlerSuite) TestExplainUnknownValue() {
	resp, _ := s.do(http.MethodGet,
		"/explain?application=Active+Directory&attribute=memberOf&value=Nobody")
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlerSuite) TestExplainMissingParams() {
	resp, body := s.do(http.MethodGet, "/explain?attribute=memberOf")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.NotEmpty(body["error"])
}

func (s *HandlerSuite) TestExplainRefresh() {
	resp, _ := s.do(http.MethodPost, "/explain/refresh")
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal(1, s.explainer.refreshed)
}

// ============================================================
// Plumbing
// ============================================================

func (s *HandlerSuite) TestHealthz() {
	resp, err := http.Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
