package assessment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
	"github.com/ruby4mag/riskgate-backend/internal/store"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []ai.Request
	result  *ai.Analysis
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req ai.Request) (*ai.Analysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	a := *f.result
	a.Risks = append([]models.Risk(nil), f.result.Risks...)
	return &a, nil
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingIndexer struct {
	ids []string
	err error
}

func (r *recordingIndexer) IndexAssessment(_ context.Context, id string, _ models.AssessmentSummary, _ []models.Risk) error {
	r.ids = append(r.ids, id)
	return r.err
}

func sampleAnalysis() *ai.Analysis {
	return &ai.Analysis{
		Risks: []models.Risk{
			{Title: "Unlit perimeter", Category: "Physical Security", Severity: models.SeverityHigh, Confidence: 0.82,
				Description: "No lighting on the east fence", Mitigation: "Install floodlights"},
			{Title: "Flood exposure", Category: "Environmental", Severity: models.SeverityMedium, Confidence: 0.6,
				Description: "Site sits in a low basin, near the river", Mitigation: "Raise \"critical\" racks"},
		},
		Report: "### Risk Assessment Summary\nTwo findings.",
		DigitalScores: models.DigitalScores{
			URLThreatLevel: 80, DocumentSensitivity: 60, ImageAnomalyScore: 40, VideoIncidentScore: 0,
		},
		Place: &ai.PlaceRecommendation{Location: "Rotterdam, Netherlands"},
	}
}

type fixture struct {
	svc      *Service
	engine   *policy.Engine
	mem      *store.MemoryStore
	analyzer *fakeAnalyzer
	indexer  *recordingIndexer
}

func newFixture(t *testing.T, role policy.Role, plan models.UserPlan) *fixture {
	t.Helper()
	if plan.UserID == "" {
		plan.UserID = "user-1"
	}
	mem := store.NewMemoryStore()
	mem.SetRole(plan.UserID, string(role))
	mem.SetPlan(plan)
	return newFixtureOn(t, mem, plan.UserID)
}

// newFixtureOn loads a session for userID from an already seeded store.
func newFixtureOn(t *testing.T, mem *store.MemoryStore, userID string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := policy.NewEngine(mem, policy.DefaultMatrix(), policy.Options{DefaultLimit: 5, Logger: logger})
	require.NoError(t, engine.Load(context.Background(), userID))

	seq := 0
	f := &fixture{
		engine:   engine,
		mem:      mem,
		analyzer: &fakeAnalyzer{result: sampleAnalysis()},
		indexer:  &recordingIndexer{},
	}
	f.svc = NewService(mem, f.analyzer, Options{
		Indexer: f.indexer,
		Logger:  logger,
		Clock:   func() time.Time { return fixedNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	return f
}

func validRequest() AssessRequest {
	return AssessRequest{
		Prompt: "Warehouse east fence",
		URL:    "https://example.test/site",
		Geo:    models.GeoInput{Latitude: 51.9, Longitude: 4.4, Elevation: 5, ProximityToHazard: 2},
		Focus:  []string{"Physical Security", "Environmental"},
	}
}

func TestAssess_Success(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})

	out, err := f.svc.Assess(context.Background(), f.engine, validRequest())
	require.NoError(t, err)

	assert.Equal(t, 45.0, out.Score.DigitalScore)
	assert.Equal(t, 110.0, out.Score.GeoScore)
	assert.Equal(t, 71, out.Score.FinalScore)

	assert.Equal(t, "id-1", out.AssessmentID)
	require.Len(t, out.Risks, 2)
	for i, r := range out.Risks {
		assert.Equal(t, fmt.Sprintf("id-%d", i+2), r.RiskID)
		assert.Equal(t, out.AssessmentID, r.AssessmentID)
		assert.Equal(t, "user-1", r.UserID)
		assert.Equal(t, models.StatusOpen, r.Status)
	}
	for _, r := range f.mem.Risks() {
		assert.Equal(t, out.AssessmentID, r.AssessmentID)
	}
	assert.Equal(t, "Rotterdam, Netherlands", out.Place.Location)

	require.Equal(t, 1, f.analyzer.Calls())
	sent := f.analyzer.calls[0]
	assert.Equal(t, "Warehouse east fence\n\nPlease focus the analysis on: Physical Security, Environmental.", sent.Prompt)
	assert.Equal(t, "https://example.test/site", sent.URL)

	assert.Equal(t, []string{
		store.OpGetRole, store.OpGetPlan,
		store.OpInsertRisks, store.OpInsertAssessment, store.OpIncrement,
		store.OpGetRole, store.OpGetPlan,
	}, f.mem.Calls())

	require.Len(t, f.mem.Assessments(), 1)
	summary := f.mem.Assessments()[0]
	assert.Equal(t, out.AssessmentID, summary.AssessmentID)
	assert.Equal(t, summary, out.Summary)
	assert.False(t, out.PlanStale)
	assert.Equal(t, models.SourceAI, summary.Source)
	assert.Equal(t, "RiskManager", summary.Role)
	assert.Equal(t, fixedNow, summary.CreatedAt)
	assert.Equal(t, 71, summary.FinalScore)
	assert.Equal(t, 80.0, summary.URLThreatLevel)
	assert.Equal(t, 2.0, summary.ProximityToHazard)
	assert.Equal(t, 1, summary.FormulaVersion)

	assert.Equal(t, 1, out.Plan.AssessmentCount)
	session, _ := f.engine.Snapshot()
	assert.Equal(t, 1, session.Plan.AssessmentCount)
	assert.Equal(t, out.Risks, session.Risks)
	assert.Equal(t, out.Report, session.Report)
	require.NotNil(t, session.LastContext)
	assert.Equal(t, fixedNow, session.LastContext.Timestamp)
	assert.Equal(t, sent.Prompt, session.LastContext.Prompt)

	assert.Equal(t, []string{out.AssessmentID}, f.indexer.ids)
}

func TestAssess_GateDeniesBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name string
		role policy.Role
		plan models.UserPlan
		want policy.Reason
	}{
		{"role cannot assess", policy.RoleComplianceOfficer, models.UserPlan{AssessmentLimit: 5}, policy.ReasonNoPermission},
		{"permission checked before quota", policy.RoleIntern, models.UserPlan{AssessmentCount: 5, AssessmentLimit: 5}, policy.ReasonNoPermission},
		{"limit reached", policy.RoleFieldOperator, models.UserPlan{AssessmentCount: 5, AssessmentLimit: 5}, policy.ReasonOverQuota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.role, tt.plan)

			_, err := f.svc.Assess(context.Background(), f.engine, validRequest())

			var gate *GateError
			require.ErrorAs(t, err, &gate)
			assert.Equal(t, tt.want, gate.Reason)
			assert.Zero(t, f.analyzer.Calls())
			assert.Equal(t, []string{store.OpGetRole, store.OpGetPlan}, f.mem.Calls())
		})
	}
}

func TestAssess_UserWithoutUsageRecordIsLimited(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.SetRole("user-1", string(policy.RoleRiskManager))
	f := newFixtureOn(t, mem, "user-1")

	for i := 0; i < 5; i++ {
		_, err := f.svc.Assess(context.Background(), f.engine, validRequest())
		require.NoError(t, err, "run %d", i+1)
	}
	_, err := f.svc.Assess(context.Background(), f.engine, validRequest())
	var gate *GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, policy.ReasonOverQuota, gate.Reason)

	assert.Equal(t, 5, f.analyzer.Calls())
	assert.Len(t, f.mem.Assessments(), 5)
	plan, ok := f.mem.Plan("user-1")
	require.True(t, ok)
	assert.Equal(t, models.UserPlan{UserID: "user-1", AssessmentCount: 5, AssessmentLimit: 5}, plan)
}

func TestAssess_FailedPlanRereadKeepsQuota(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentCount: 4, AssessmentLimit: 5})
	f.mem.FailOn(store.OpGetPlan, errors.New("read timeout"))

	out, err := f.svc.Assess(context.Background(), f.engine, validRequest())
	require.NoError(t, err)
	assert.True(t, out.PlanStale)
	assert.Equal(t, 4, out.Plan.AssessmentCount)
	assert.True(t, f.engine.PlanStale())

	// Still unreadable: the next run stops before the AI call.
	_, err = f.svc.Assess(context.Background(), f.engine, validRequest())
	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, StageRefreshPlan, stage.Stage)
	assert.Equal(t, "Failed to refresh usage plan. Please try again.", UserMessage(err))

	f.mem.FailOn(store.OpGetPlan, nil)
	_, err = f.svc.Assess(context.Background(), f.engine, validRequest())
	var gate *GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, policy.ReasonOverQuota, gate.Reason)

	assert.Equal(t, 1, f.analyzer.Calls())
	assert.Len(t, f.mem.Assessments(), 1)
	plan, _ := f.mem.Plan("user-1")
	assert.Equal(t, 5, plan.AssessmentCount)
}

func TestAssess_PremiumIgnoresLimit(t *testing.T) {
	f := newFixture(t, policy.RoleFieldOperator, models.UserPlan{AssessmentCount: 12, AssessmentLimit: 5, IsPremium: true})

	out, err := f.svc.Assess(context.Background(), f.engine, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 13, out.Plan.AssessmentCount)
}

func TestAssess_InvalidInput(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})

	noContent := validRequest()
	noContent.Prompt = "  "
	_, err := f.svc.Assess(context.Background(), f.engine, noContent)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "Please upload an image or provide a text description for the AI to analyze.", UserMessage(err))

	noFocus := validRequest()
	noFocus.Focus = nil
	_, err = f.svc.Assess(context.Background(), f.engine, noFocus)
	assert.ErrorIs(t, err, ErrInvalidInput)

	imageOnly := validRequest()
	imageOnly.Prompt = ""
	imageOnly.ImageBase64 = "aGVsbG8="
	imageOnly.MimeType = "image/png"
	_, err = f.svc.Assess(context.Background(), f.engine, imageOnly)
	assert.NoError(t, err)

	assert.Equal(t, 1, f.analyzer.Calls())
}

func TestAssess_MalformedResponseWritesNothing(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})
	f.analyzer.err = fmt.Errorf("%w: missing \"report\"", ai.ErrMalformedResponse)

	_, err := f.svc.Assess(context.Background(), f.engine, validRequest())

	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.ErrorIs(t, err, ai.ErrMalformedResponse)
	assert.Equal(t, "The AI response was not in a valid format. Please try rephrasing your request or simplifying the input.", UserMessage(err))
	assert.Equal(t, []string{store.OpGetRole, store.OpGetPlan}, f.mem.Calls())

	session, _ := f.engine.Snapshot()
	assert.Empty(t, session.Risks)
	assert.Zero(t, session.Plan.AssessmentCount)
}

func TestAssess_StageFailures(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		op         string
		stage      string
		wantCalls  []string
		wantRisks  int
		wantSaved  int
		wantPlaced bool
	}{
		{
			op:        store.OpInsertRisks,
			stage:     StageSaveRisks,
			wantCalls: []string{store.OpGetRole, store.OpGetPlan, store.OpInsertRisks},
		},
		{
			op:         store.OpInsertAssessment,
			stage:      StageSaveSummary,
			wantCalls:  []string{store.OpGetRole, store.OpGetPlan, store.OpInsertRisks, store.OpInsertAssessment},
			wantRisks:  2,
			wantPlaced: true,
		},
		{
			op:         store.OpIncrement,
			stage:      StageUpdateUsage,
			wantCalls:  []string{store.OpGetRole, store.OpGetPlan, store.OpInsertRisks, store.OpInsertAssessment, store.OpIncrement},
			wantRisks:  2,
			wantSaved:  1,
			wantPlaced: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})
			f.mem.FailOn(tt.op, boom)

			_, err := f.svc.Assess(context.Background(), f.engine, validRequest())

			var stage *StageError
			require.ErrorAs(t, err, &stage)
			assert.Equal(t, tt.stage, stage.Stage)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, "Failed to "+tt.stage+". Please try again.", UserMessage(err))

			assert.Equal(t, tt.wantCalls, f.mem.Calls())
			assert.Len(t, f.mem.Risks(), tt.wantRisks)
			assert.Len(t, f.mem.Assessments(), tt.wantSaved)

			session, _ := f.engine.Snapshot()
			assert.Zero(t, session.Plan.AssessmentCount)
			assert.Equal(t, tt.wantPlaced, len(session.Risks) > 0)
			assert.Empty(t, f.indexer.ids)
		})
	}
}

func TestAssess_IndexerFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})
	f.indexer.err = errors.New("neo4j unavailable")

	_, err := f.svc.Assess(context.Background(), f.engine, validRequest())
	require.NoError(t, err)
	assert.Len(t, f.indexer.ids, 1)
}

func TestAssess_RejectsConcurrentRunForSameUser(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})
	f.analyzer.entered = make(chan struct{})
	f.analyzer.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Assess(context.Background(), f.engine, validRequest())
		done <- err
	}()
	<-f.analyzer.entered

	_, err := f.svc.Assess(context.Background(), f.engine, validRequest())
	assert.ErrorIs(t, err, ErrAssessmentInFlight)

	close(f.analyzer.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.analyzer.Calls())
}

func TestManualAssess(t *testing.T) {
	req := ManualRequest{
		DigitalScores: models.DigitalScores{URLThreatLevel: 80, DocumentSensitivity: 60, ImageAnomalyScore: 40},
		Geo:           models.GeoInput{Elevation: 5, ProximityToHazard: 2},
	}

	t.Run("ignores quota and does not count", func(t *testing.T) {
		f := newFixture(t, policy.RoleFieldOperator, models.UserPlan{AssessmentCount: 5, AssessmentLimit: 5})

		out, err := f.svc.ManualAssess(context.Background(), f.engine, req)
		require.NoError(t, err)
		assert.Equal(t, 71, out.Score.FinalScore)
		assert.Zero(t, f.analyzer.Calls())
		assert.NotContains(t, f.mem.Calls(), store.OpIncrement)

		require.Len(t, f.mem.Assessments(), 1)
		assert.Equal(t, models.SourceManual, f.mem.Assessments()[0].Source)
		assert.Equal(t, out.AssessmentID, f.mem.Assessments()[0].AssessmentID)
		assert.Equal(t, []string{out.AssessmentID}, f.indexer.ids)
		assert.Equal(t, 5, out.Plan.AssessmentCount)
	})

	t.Run("needs assess permission", func(t *testing.T) {
		f := newFixture(t, policy.RoleIntern, models.UserPlan{AssessmentLimit: 5})

		_, err := f.svc.ManualAssess(context.Background(), f.engine, req)
		var gate *GateError
		require.ErrorAs(t, err, &gate)
		assert.Equal(t, policy.ReasonNoPermission, gate.Reason)
		assert.Empty(t, f.mem.Assessments())
	})

	t.Run("rejects out of range input", func(t *testing.T) {
		f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentLimit: 5})
		bad := req
		bad.DigitalScores.URLThreatLevel = 101

		_, err := f.svc.ManualAssess(context.Background(), f.engine, bad)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Empty(t, f.mem.Assessments())
	})
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentCount: 5, AssessmentLimit: 5})

	f.mem.FailOn(store.OpSetPremium, errors.New("write rejected"))
	_, err := f.svc.Upgrade(context.Background(), f.engine)
	assert.ErrorIs(t, err, ErrUpgradeFailed)
	assert.Equal(t, "There was an error upgrading your plan. Please contact support.", UserMessage(err))
	session, _ := f.engine.Snapshot()
	assert.False(t, session.Plan.IsPremium)

	f.mem.FailOn(store.OpSetPremium, nil)
	plan, err := f.svc.Upgrade(context.Background(), f.engine)
	require.NoError(t, err)
	assert.True(t, plan.IsPremium)
	assert.True(t, f.engine.GateAssessment().Allowed)
}

func TestUpgrade_FailedRereadIsReportedSeparately(t *testing.T) {
	f := newFixture(t, policy.RoleRiskManager, models.UserPlan{AssessmentCount: 5, AssessmentLimit: 5})
	f.mem.FailOn(store.OpGetPlan, errors.New("read timeout"))

	_, err := f.svc.Upgrade(context.Background(), f.engine)
	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, StageRefreshPlan, stage.Stage)
	assert.NotErrorIs(t, err, ErrUpgradeFailed)
	stored, _ := f.mem.Plan("user-1")
	assert.True(t, stored.IsPremium)

	f.mem.FailOn(store.OpGetPlan, nil)
	_, err = f.svc.Assess(context.Background(), f.engine, validRequest())
	require.NoError(t, err)
}
