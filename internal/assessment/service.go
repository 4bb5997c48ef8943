// Package assessment runs the dashboard flows that touch more than one
// collaborator: AI assessments, manual assessments, status changes with undo,
// exports and the plan upgrade.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
	"github.com/ruby4mag/riskgate-backend/internal/scoring"
)

// Analyzer produces a structured assessment from a request.
type Analyzer interface {
	Analyze(ctx context.Context, req ai.Request) (*ai.Analysis, error)
}

// Store is the part of the persistence service the flows write through.
type Store interface {
	InsertRisks(ctx context.Context, risks []models.Risk) error
	InsertAssessment(ctx context.Context, summary models.AssessmentSummary) error
	UpdateRiskStatus(ctx context.Context, riskID string, status models.Status) error
}

// Indexer projects a completed assessment into the lineage graph.
type Indexer interface {
	IndexAssessment(ctx context.Context, assessmentID string, summary models.AssessmentSummary, risks []models.Risk) error
}

// Options configures optional collaborators of a Service.
type Options struct {
	Indexer Indexer
	Logger  *slog.Logger
	Clock   func() time.Time
	NewID   func() string
}

// Service coordinates the assessment flows. One Service is shared by all
// sessions; per-user state lives in the policy.Engine passed to each call.
type Service struct {
	store   Store
	ai      Analyzer
	indexer Indexer
	logger  *slog.Logger
	clock   func() time.Time
	newID   func() string

	mu      sync.Mutex
	running map[string]struct{}
	undo    map[string]*StatusChange
}

func NewService(st Store, analyzer Analyzer, opts Options) *Service {
	s := &Service{
		store:   st,
		ai:      analyzer,
		indexer: opts.Indexer,
		logger:  opts.Logger,
		clock:   opts.Clock,
		newID:   opts.NewID,
		running: make(map[string]struct{}),
		undo:    make(map[string]*StatusChange),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// AssessRequest is the input of an AI assessment.
type AssessRequest struct {
	Prompt      string          `json:"prompt"`
	URL         string          `json:"url"`
	ImageBase64 string          `json:"image_base64"`
	MimeType    string          `json:"mime_type"`
	Geo         models.GeoInput `json:"geo"`
	Focus       []string        `json:"focus"`
}

// ManualRequest is a hand-entered assessment scored without the AI service.
type ManualRequest struct {
	URL           string               `json:"url"`
	DigitalScores models.DigitalScores `json:"digital_scores"`
	Geo           models.GeoInput      `json:"geo"`
}

// Outcome is what a finished assessment hands back to the caller.
type Outcome struct {
	AssessmentID string                   `json:"assessment_id"`
	Risks        []models.Risk            `json:"risks"`
	Report       string                   `json:"report,omitempty"`
	Score        scoring.Result           `json:"score"`
	Place        *ai.PlaceRecommendation  `json:"place,omitempty"`
	Summary      models.AssessmentSummary `json:"summary"`
	Plan         models.UserPlan          `json:"plan"`
	// PlanStale is set when the usage count was recorded but the plan could
	// not be re-read, so Plan predates this assessment.
	PlanStale    bool                     `json:"plan_stale,omitempty"`
}

// Assess runs one AI assessment: gate, analyze, score, then persist risks,
// summary and usage in that order.
func (s *Service) Assess(ctx context.Context, engine *policy.Engine, req AssessRequest) (*Outcome, error) {
	if err := engine.EnsureFresh(ctx); err != nil {
		s.logger.Error("failed to refresh stale plan", "error", err)
		return nil, &StageError{Stage: StageRefreshPlan, Err: err}
	}
	if d := engine.GateAssessment(); !d.Allowed {
		return nil, &GateError{Action: policy.ActionAssess, Reason: d.Reason}
	}
	if strings.TrimSpace(req.Prompt) == "" && req.ImageBase64 == "" {
		return nil, invalidInput("Please upload an image or provide a text description for the AI to analyze.")
	}
	if len(req.Focus) == 0 {
		return nil, invalidInput("Please select at least one risk category to analyze.")
	}

	session, ok := engine.Snapshot()
	if !ok {
		return nil, policy.ErrNoSession
	}
	if !s.begin(session.UserID) {
		return nil, ErrAssessmentInFlight
	}
	defer s.end(session.UserID)

	prompt := fmt.Sprintf("%s\n\nPlease focus the analysis on: %s.", req.Prompt, strings.Join(req.Focus, ", "))
	ac := policy.AssessmentContext{Prompt: prompt, URL: req.URL, Timestamp: s.clock()}

	analysis, err := s.ai.Analyze(ctx, ai.Request{
		Prompt:      prompt,
		URL:         req.URL,
		ImageBase64: req.ImageBase64,
		MimeType:    req.MimeType,
	})
	if err != nil {
		s.logger.Error("ai analysis failed", "userId", session.UserID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	score := scoring.Calculate(signals(analysis.DigitalScores, req.Geo))

	assessmentID := s.newID()
	risks := make([]models.Risk, len(analysis.Risks))
	for i, r := range analysis.Risks {
		r.RiskID = s.newID()
		r.AssessmentID = assessmentID
		r.UserID = session.UserID
		r.Status = models.StatusOpen
		risks[i] = r
	}

	if err := s.store.InsertRisks(ctx, risks); err != nil {
		return nil, s.stageFailed(session.UserID, StageSaveRisks, err)
	}
	if err := engine.ReplaceRisks(risks, analysis.Report, ac); err != nil {
		return nil, err
	}
	s.forgetUndo(session.Risks)

	summary := s.summary(assessmentID, session, models.SourceAI, req.URL, analysis.DigitalScores, req.Geo, score, ac.Timestamp)
	if err := s.store.InsertAssessment(ctx, summary); err != nil {
		return nil, s.stageFailed(session.UserID, StageSaveSummary, err)
	}

	stale := false
	if err := engine.RecordAssessmentCompleted(ctx); errors.Is(err, policy.ErrStalePlan) {
		s.logger.Warn("usage recorded but plan re-read failed", "userId", session.UserID, "error", err)
		stale = true
	} else if err != nil {
		return nil, s.stageFailed(session.UserID, StageUpdateUsage, err)
	}

	out := &Outcome{
		AssessmentID: assessmentID,
		Risks:        risks,
		Report:       analysis.Report,
		Score:        score,
		Place:        analysis.Place,
		Summary:      summary,
		PlanStale:    stale,
	}
	if snap, ok := engine.Snapshot(); ok {
		out.Plan = snap.Plan
	}
	s.index(ctx, out.AssessmentID, summary, risks)

	s.logger.Info("assessment completed",
		"userId", session.UserID,
		"risks", len(risks),
		"finalScore", score.FinalScore,
	)
	return out, nil
}

// ManualAssess scores hand-entered sub-scores with the same calculator and
// records the summary. It needs the assess permission but does not use quota.
func (s *Service) ManualAssess(ctx context.Context, engine *policy.Engine, req ManualRequest) (*Outcome, error) {
	if d := engine.Gate(policy.ActionManualAssess); !d.Allowed {
		return nil, &GateError{Action: policy.ActionManualAssess, Reason: d.Reason}
	}
	in := signals(req.DigitalScores, req.Geo)
	if err := in.Validate(); err != nil {
		return nil, invalidInput(err.Error())
	}

	session, ok := engine.Snapshot()
	if !ok {
		return nil, policy.ErrNoSession
	}

	score := scoring.Calculate(in)
	summary := s.summary(s.newID(), session, models.SourceManual, req.URL, req.DigitalScores, req.Geo, score, s.clock())
	if err := s.store.InsertAssessment(ctx, summary); err != nil {
		return nil, s.stageFailed(session.UserID, StageSaveSummary, err)
	}

	out := &Outcome{
		AssessmentID: summary.AssessmentID,
		Risks:        []models.Risk{},
		Score:        score,
		Summary:      summary,
		Plan:         session.Plan,
	}
	s.index(ctx, out.AssessmentID, summary, nil)
	return out, nil
}

func signals(d models.DigitalScores, g models.GeoInput) scoring.SignalInput {
	return scoring.SignalInput{
		URLThreatLevel:      d.URLThreatLevel,
		DocumentSensitivity: d.DocumentSensitivity,
		ImageAnomalyScore:   d.ImageAnomalyScore,
		VideoIncidentScore:  d.VideoIncidentScore,
		ProximityToHazard:   g.ProximityToHazard,
		Elevation:           g.Elevation,
	}
}

func (s *Service) summary(id string, session policy.Session, source, url string, d models.DigitalScores, g models.GeoInput, score scoring.Result, at time.Time) models.AssessmentSummary {
	return models.AssessmentSummary{
		AssessmentID:        id,
		UserID:              session.UserID,
		CreatedAt:           at,
		Role:                string(session.Role),
		Source:              source,
		URL:                 url,
		Latitude:            g.Latitude,
		Longitude:           g.Longitude,
		Elevation:           g.Elevation,
		ProximityToHazard:   g.ProximityToHazard,
		URLThreatLevel:      d.URLThreatLevel,
		DocumentSensitivity: d.DocumentSensitivity,
		ImageAnomalyScore:   d.ImageAnomalyScore,
		VideoIncidentScore:  d.VideoIncidentScore,
		DigitalScore:        score.DigitalScore,
		GeoScore:            score.GeoScore,
		FinalScore:          score.FinalScore,
		FormulaVersion:      scoring.FormulaVersion,
	}
}

func (s *Service) stageFailed(userID, stage string, err error) error {
	s.logger.Error("assessment write failed", "userId", userID, "stage", stage, "error", err)
	return &StageError{Stage: stage, Err: err}
}

// index writes the lineage projection. Failures are logged and never fail
// the assessment.
func (s *Service) index(ctx context.Context, assessmentID string, summary models.AssessmentSummary, risks []models.Risk) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexAssessment(ctx, assessmentID, summary, risks); err != nil {
		s.logger.Warn("lineage indexing failed", "assessmentId", assessmentID, "error", err)
	}
}

func (s *Service) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[userID]; busy {
		return false
	}
	s.running[userID] = struct{}{}
	return true
}

func (s *Service) end(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, userID)
}

// Upgrade marks the user's plan premium. The session's premium flag changes
// only after the store confirms the write.
func (s *Service) Upgrade(ctx context.Context, engine *policy.Engine) (models.UserPlan, error) {
	err := engine.Upgrade(ctx)
	if errors.Is(err, policy.ErrStalePlan) {
		s.logger.Error("plan upgraded but re-read failed", "error", err)
		return models.UserPlan{}, &StageError{Stage: StageRefreshPlan, Err: err}
	}
	if err != nil {
		s.logger.Error("failed to upgrade plan", "error", err)
		return models.UserPlan{}, fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
	}
	snap, _ := engine.Snapshot()
	return snap.Plan, nil
}
