package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/assessment"
	"github.com/ruby4mag/riskgate-backend/internal/auth"
	"github.com/ruby4mag/riskgate-backend/internal/graph"
	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
	"github.com/ruby4mag/riskgate-backend/internal/store"
)

type stubAnalyzer struct {
	calls int
	err   error
}

func (s *stubAnalyzer) Analyze(context.Context, ai.Request) (*ai.Analysis, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Analysis{
		Risks: []models.Risk{
			{Title: "Unlit perimeter", Category: "Physical Security", Severity: models.SeverityHigh, Confidence: 0.8},
		},
		Report:        "### Summary",
		DigitalScores: models.DigitalScores{URLThreatLevel: 80, DocumentSensitivity: 60, ImageAnomalyScore: 40},
	}, nil
}

type testServer struct {
	router   *gin.Engine
	mem      *store.MemoryStore
	analyzer *stubAnalyzer
	issuer   *auth.Issuer
	graph    *graph.MemoryClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := store.NewMemoryStore()
	analyzer := &stubAnalyzer{}
	gc := graph.NewMemoryClient()
	indexer := graph.NewIndexer(gc)
	issuer := auth.NewIssuer("test-secret")

	h := New(Deps{
		Store:        mem,
		Registry:     policy.NewRegistry(mem, policy.DefaultMatrix(), policy.Options{DefaultLimit: 5, Logger: logger}),
		Service:      assessment.NewService(mem, analyzer, assessment.Options{Indexer: indexer, Logger: logger}),
		Issuer:       issuer,
		Tokens:       auth.NewMemoryTokenStore(),
		Lineage:      indexer,
		DefaultLimit: 5,
		Logger:       logger,
	})
	r := gin.New()
	h.Register(r)

	return &testServer{router: r, mem: mem, analyzer: analyzer, issuer: issuer, graph: gc}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signUp registers a user through the API, assigns role, and returns an
// access token and refresh token from a real login.
func (s *testServer) signUp(t *testing.T, username string, role policy.Role) (token, refresh string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/register", "", map[string]string{"username": username, "password": "s3cret!", "email": username + "@example.test"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	user, err := s.mem.FindUserByUsername(context.Background(), username)
	require.NoError(t, err)
	s.mem.SetRole(user.ID, string(role))

	w = s.do(t, http.MethodPost, "/login", "", map[string]string{"username": username, "password": "s3cret!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
		Role         string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(role), resp.Role)
	return resp.Token, resp.RefreshToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var assessBody = map[string]any{
	"prompt": "Warehouse east fence",
	"geo":    map[string]any{"elevation": 5, "proximity_to_hazard": 2},
	"focus":  []string{"Physical Security"},
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "alice", policy.RoleIntern)

	w := s.do(t, http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "nobody", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/register", "", map[string]string{"username": " ", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterCreatesDefaultPlan(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "bob", policy.RoleIntern)

	w := s.do(t, http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	session := body["session"].(map[string]any)
	plan := session["plan"].(map[string]any)
	assert.Equal(t, float64(5), plan["assessment_limit"])
	assert.Equal(t, float64(0), plan["assessment_count"])
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	token, refresh := s.signUp(t, "carol", policy.RoleRiskManager)

	w := s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	newToken := decode(t, w)["token"].(string)
	claims, err := s.issuer.ParseJWT(newToken)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.Username)

	w = s.do(t, http.MethodPost, "/api/logout", token, map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestPermissions(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "dave", policy.RoleFieldOperator)

	w := s.do(t, http.MethodGet, "/api/permissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "FieldOperator", body["role"])
	assert.Equal(t, map[string]any{"canAssess": true, "canExport": false, "canEditStatus": false}, body["permissions"])

	decisions := body["decisions"].(map[string]any)
	assert.Equal(t, map[string]any{"allowed": true}, decisions["assess"])
	assert.Equal(t, map[string]any{"allowed": false, "reason": "no-permission"}, decisions["export"])
}

func TestAssessmentFlow(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "erin", policy.RoleRiskManager)

	w := s.do(t, http.MethodPost, "/api/assessments", token, assessBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)["assessment"].(map[string]any)
	assert.Equal(t, float64(71), out["score"].(map[string]any)["finalScore"])
	risks := out["risks"].([]any)
	require.Len(t, risks, 1)
	riskID := risks[0].(map[string]any)["risk_id"].(string)
	assert.Len(t, s.graph.Writes(), 1)

	w = s.do(t, http.MethodPut, "/api/risks/"+riskID+"/status", token, map[string]string{"status": "closed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	change := decode(t, w)["change"].(map[string]any)
	assert.Equal(t, "Open", change["from"])
	assert.Equal(t, "Closed", change["to"])

	w = s.do(t, http.MethodPost, "/api/risks/"+riskID+"/status/undo", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusOpen, s.mem.Risks()[0].Status)

	w = s.do(t, http.MethodPost, "/api/risks/"+riskID+"/status/undo", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/api/risks/"+riskID+"/status", token, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/export/csv", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "risk_register_")
	assert.Contains(t, w.Body.String(), "Risk ID,Title,Category,Severity,Confidence,Status,Description,Mitigation")

	w = s.do(t, http.MethodGet, "/api/export/report", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "premium-required", decode(t, w)["reason"])

	w = s.do(t, http.MethodPost, "/api/plan/upgrade", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/export/report", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "### Summary", w.Body.String())
}

func TestAssessment_QuotaExhausted(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "frank", policy.RoleFieldOperator)

	for i := 0; i < 5; i++ {
		w := s.do(t, http.MethodPost, "/api/assessments", token, assessBody)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := s.do(t, http.MethodPost, "/api/assessments", token, assessBody)
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decode(t, w)
	assert.Equal(t, "over-quota", body["reason"])
	assert.Equal(t, 5, s.analyzer.calls)

	w = s.do(t, http.MethodGet, "/api/features", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["limitReached"])
}

func TestAssessment_Errors(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "gina", policy.RoleRiskManager)

	w := s.do(t, http.MethodPost, "/api/assessments", token, map[string]any{"focus": []string{"Physical Security"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.analyzer.err = ai.ErrRateLimited
	w = s.do(t, http.MethodPost, "/api/assessments", token, assessBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, strings.HasPrefix(decode(t, w)["error"].(string), "The AI service is currently busy"))

	s.analyzer.err = ai.ErrMalformedResponse
	w = s.do(t, http.MethodPost, "/api/assessments", token, assessBody)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, s.mem.Risks())

	w = s.do(t, http.MethodGet, "/api/export/csv", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManualAssessment(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "hank", policy.RoleEnvironmentalAnalyst)

	w := s.do(t, http.MethodPost, "/api/assessments/manual", token, map[string]any{
		"digital_scores": map[string]any{"urlThreatLevel": 80, "documentSensitivity": 60, "imageAnomalyScore": 40},
		"geo":            map[string]any{"elevation": 5, "proximity_to_hazard": 2},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Zero(t, s.analyzer.calls)
	require.Len(t, s.mem.Assessments(), 1)
	assert.Equal(t, models.SourceManual, s.mem.Assessments()[0].Source)
}

func TestRecurringCategories(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "ivy", policy.RoleRiskManager)
	s.graph.PushReadResult(graph.Result{Records: []graph.Record{{"category": "Physical Security", "assessments": int64(3)}}})

	w := s.do(t, http.MethodGet, "/api/lineage/categories?min=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"categories":[{"category":"Physical Security","assessments":3}]}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/lineage/categories?min=many", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
