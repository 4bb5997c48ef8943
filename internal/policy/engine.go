package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/store"
)

// Action is a gated dashboard operation.
type Action string

const (
	ActionAssess       Action = "assess"
	ActionManualAssess Action = "manualAssess"
	ActionExport       Action = "export"
	ActionExportReport Action = "exportReport"
	ActionEditStatus   Action = "editStatus"
)

// Reason explains a denied Decision.
type Reason string

const (
	ReasonNoSession       Reason = "no-session"
	ReasonNoPermission    Reason = "no-permission"
	ReasonOverQuota       Reason = "over-quota"
	ReasonPremiumRequired Reason = "premium-required"
	ReasonPlanStale       Reason = "plan-stale"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// PlanStore is the part of the persistence service the engine reads and
// writes plan state through.
type PlanStore interface {
	GetUserPlan(ctx context.Context, userID string) (models.UserPlan, error)
	GetUserRole(ctx context.Context, userID string) (string, error)
	IncrementAssessmentCount(ctx context.Context, userID string) error
	SetPremium(ctx context.Context, userID string) error
	// CreateUserRecords must leave existing records untouched.
	CreateUserRecords(ctx context.Context, userID string, assessmentLimit int) error
}

// AssessmentContext describes the request behind the current risk register.
type AssessmentContext struct {
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the state of one signed-in user.
type Session struct {
	UserID      string             `json:"user_id"`
	Role        Role               `json:"role"`
	Plan        models.UserPlan    `json:"plan"`
	Risks       []models.Risk      `json:"risks"`
	Report      string             `json:"report,omitempty"`
	LastContext *AssessmentContext `json:"last_context,omitempty"`
}

var (
	// ErrNoSession is returned by operations that need a loaded session.
	ErrNoSession = errors.New("no active session")
	// ErrStalePlan is returned when a plan write succeeded but the re-read
	// that follows it failed. The session refuses quota-bound actions until
	// a refresh succeeds.
	ErrStalePlan = errors.New("plan could not be re-read after update")
)

// Options tunes an Engine.
type Options struct {
	// DefaultLimit is the quota applied when a user has no usage record.
	DefaultLimit int
	Logger       *slog.Logger
}

// Engine owns the session of one user and answers gating questions about it.
// It is safe for concurrent use.
type Engine struct {
	store        PlanStore
	matrix       Matrix
	defaultLimit int
	logger       *slog.Logger

	mu        sync.RWMutex
	session   *Session
	planStale bool
	inFlight  map[string]struct{}
}

// NewEngine creates an engine with no active session.
func NewEngine(planStore PlanStore, matrix Matrix, opts Options) *Engine {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        planStore,
		matrix:       matrix,
		defaultLimit: opts.DefaultLimit,
		logger:       logger,
		inFlight:     make(map[string]struct{}),
	}
}

// Load starts a session for userID, reading role and plan from the store.
func (e *Engine) Load(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	role, plan, err := e.fetch(ctx, userID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = &Session{UserID: userID, Role: role, Plan: plan}
	e.planStale = false
	e.inFlight = make(map[string]struct{})
	return nil
}

// Refresh re-reads role and plan for the active session, keeping its risks.
func (e *Engine) Refresh(ctx context.Context) error {
	userID, ok := e.userID()
	if !ok {
		return ErrNoSession
	}
	role, plan, err := e.fetch(ctx, userID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.UserID != userID {
		return ErrNoSession
	}
	e.session.Role = role
	e.session.Plan = plan
	e.planStale = false
	return nil
}

// PlanStale reports whether the session's plan missed a refresh after a write.
func (e *Engine) PlanStale() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.planStale
}

// EnsureFresh re-reads the plan if a previous refresh failed.
func (e *Engine) EnsureFresh(ctx context.Context) error {
	if !e.PlanStale() {
		return nil
	}
	return e.Refresh(ctx)
}

// refreshAfterWrite re-reads the plan after a successful store write. On
// failure the plan is marked stale.
func (e *Engine) refreshAfterWrite(ctx context.Context) error {
	if err := e.Refresh(ctx); err != nil {
		e.mu.Lock()
		e.planStale = true
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrStalePlan, err)
	}
	return nil
}

func (e *Engine) fetch(ctx context.Context, userID string) (Role, models.UserPlan, error) {
	roleName, err := e.store.GetUserRole(ctx, userID)
	if err != nil {
		// An unreadable role degrades to the lowest privilege rather than
		// failing the session.
		e.logger.Warn("failed to fetch user role", "userId", userID, "error", err)
		roleName = ""
	}

	plan, err := e.store.GetUserPlan(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// The usage record has to exist before any assessment can be counted.
		if err := e.store.CreateUserRecords(ctx, userID, e.defaultLimit); err != nil {
			return "", models.UserPlan{}, fmt.Errorf("create plan for %s: %w", userID, err)
		}
		plan = models.UserPlan{UserID: userID, AssessmentLimit: e.defaultLimit}
	} else if err != nil {
		return "", models.UserPlan{}, fmt.Errorf("fetch plan for %s: %w", userID, err)
	}

	return ParseRole(roleName), plan, nil
}

// Clear ends the session.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = nil
	e.planStale = false
	e.inFlight = make(map[string]struct{})
}

// Snapshot returns a copy of the active session.
func (e *Engine) Snapshot() (Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return Session{}, false
	}
	s := *e.session
	s.Risks = append([]models.Risk(nil), e.session.Risks...)
	if e.session.LastContext != nil {
		c := *e.session.LastContext
		s.LastContext = &c
	}
	return s, true
}

func (e *Engine) userID() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return "", false
	}
	return e.session.UserID, true
}

// Profile returns the role profile of the active session.
func (e *Engine) Profile() Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return e.matrix.Profile(RoleIntern)
	}
	return e.matrix.Profile(e.session.Role)
}

// IsOverQuota reports whether a non-premium plan has used up its assessments.
// The limit itself is blocking: a count equal to the limit is over quota.
func (e *Engine) IsOverQuota() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return false
	}
	return overQuota(e.session.Plan)
}

func overQuota(p models.UserPlan) bool {
	return !p.IsPremium && p.AssessmentCount >= p.AssessmentLimit
}

// CanPerform reports whether action is currently allowed.
func (e *Engine) CanPerform(action Action) bool {
	return e.Gate(action).Allowed
}

// GateAssessment checks role permission first, then quota.
func (e *Engine) GateAssessment() Decision {
	return e.Gate(ActionAssess)
}

// Gate evaluates action against the session's role and plan.
func (e *Engine) Gate(action Action) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return deny(ReasonNoSession)
	}
	caps := e.matrix.Profile(e.session.Role).Capabilities
	plan := e.session.Plan

	switch action {
	case ActionAssess:
		if !caps.CanAssess {
			return deny(ReasonNoPermission)
		}
		if e.planStale {
			return deny(ReasonPlanStale)
		}
		if overQuota(plan) {
			return deny(ReasonOverQuota)
		}
	case ActionManualAssess:
		if !caps.CanAssess {
			return deny(ReasonNoPermission)
		}
	case ActionExport:
		if !caps.CanExport {
			return deny(ReasonNoPermission)
		}
	case ActionExportReport:
		if !caps.CanExport {
			return deny(ReasonNoPermission)
		}
		if e.planStale {
			return deny(ReasonPlanStale)
		}
		if !plan.IsPremium {
			return deny(ReasonPremiumRequired)
		}
	case ActionEditStatus:
		if !caps.CanEditStatus {
			return deny(ReasonNoPermission)
		}
	default:
		return deny(ReasonNoPermission)
	}
	return allow()
}

// RecordAssessmentCompleted asks the store to increment the usage counter and
// then re-reads the plan. The local count is never bumped directly. If only
// the re-read fails the error wraps ErrStalePlan.
func (e *Engine) RecordAssessmentCompleted(ctx context.Context) error {
	userID, ok := e.userID()
	if !ok {
		return ErrNoSession
	}
	if err := e.store.IncrementAssessmentCount(ctx, userID); err != nil {
		return fmt.Errorf("increment assessment count: %w", err)
	}
	return e.refreshAfterWrite(ctx)
}

// Upgrade marks the plan premium. The local flag only changes through the
// refresh that follows a successful store update.
func (e *Engine) Upgrade(ctx context.Context) error {
	userID, ok := e.userID()
	if !ok {
		return ErrNoSession
	}
	if err := e.store.SetPremium(ctx, userID); err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return e.refreshAfterWrite(ctx)
}

// ReplaceRisks installs the result of a new assessment as the session's register.
func (e *Engine) ReplaceRisks(risks []models.Risk, report string, ac AssessmentContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ErrNoSession
	}
	e.session.Risks = append([]models.Risk(nil), risks...)
	e.session.Report = report
	e.session.LastContext = &ac
	e.inFlight = make(map[string]struct{})
	return nil
}

// Risk looks up a risk in the session register.
func (e *Engine) Risk(riskID string) (models.Risk, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return models.Risk{}, false
	}
	for _, r := range e.session.Risks {
		if r.RiskID == riskID {
			return r, true
		}
	}
	return models.Risk{}, false
}

// SetRiskStatus updates the local copy of a risk and returns its previous status.
func (e *Engine) SetRiskStatus(riskID string, status models.Status) (models.Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return "", false
	}
	for i := range e.session.Risks {
		if e.session.Risks[i].RiskID == riskID {
			prev := e.session.Risks[i].Status
			e.session.Risks[i].Status = status
			return prev, true
		}
	}
	return "", false
}

// BeginStatusChange marks riskID as having a status write in flight. It
// returns false if one is already pending.
func (e *Engine) BeginStatusChange(riskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[riskID]; busy {
		return false
	}
	e.inFlight[riskID] = struct{}{}
	return true
}

// EndStatusChange clears the in-flight mark set by BeginStatusChange.
func (e *Engine) EndStatusChange(riskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, riskID)
}
