package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ruby4mag/riskgate-backend/internal/models"
)

// MemoryStore keeps everything in process memory. It backs local development
// and tests, and can be told to fail individual operations.
type MemoryStore struct {
	mu          sync.Mutex
	risks       []models.Risk
	assessments []models.AssessmentSummary
	plans       map[string]models.UserPlan
	roles       map[string]string
	users       map[string]models.User
	failures    map[string]error
	calls       []string
}

// Operation names accepted by FailOn.
const (
	OpInsertRisks      = "InsertRisks"
	OpInsertAssessment = "InsertAssessment"
	OpIncrement        = "IncrementAssessmentCount"
	OpUpdateStatus     = "UpdateRiskStatus"
	OpGetPlan          = "GetUserPlan"
	OpSetPremium       = "SetPremium"
	OpGetRole          = "GetUserRole"
	OpCreateRecords    = "CreateUserRecords"
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[string]models.UserPlan),
		roles:    make(map[string]string),
		users:    make(map[string]models.User),
		failures: make(map[string]error),
	}
}

// FailOn makes op return err until cleared with a nil err.
func (m *MemoryStore) FailOn(op string, err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
	} else {
		m.failures[op] = err
	}
	return m
}

// SetPlan seeds a usage record.
func (m *MemoryStore) SetPlan(plan models.UserPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.UserID] = plan
}

// SetRole seeds a role record.
func (m *MemoryStore) SetRole(userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = role
}

// Calls lists the operations invoked so far, in order.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Risks returns the stored risks.
func (m *MemoryStore) Risks() []models.Risk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Risk(nil), m.risks...)
}

// Plan returns the stored usage record of userID.
func (m *MemoryStore) Plan(userID string) (models.UserPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[userID]
	return p, ok
}

// Assessments returns the stored summaries.
func (m *MemoryStore) Assessments() []models.AssessmentSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AssessmentSummary(nil), m.assessments...)
}

// record must be called with mu held.
func (m *MemoryStore) record(op string) error {
	m.calls = append(m.calls, op)
	return m.failures[op]
}

func (m *MemoryStore) InsertRisks(_ context.Context, risks []models.Risk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpInsertRisks); err != nil {
		return err
	}
	m.risks = append(m.risks, risks...)
	return nil
}

func (m *MemoryStore) InsertAssessment(_ context.Context, summary models.AssessmentSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpInsertAssessment); err != nil {
		return err
	}
	m.assessments = append(m.assessments, summary)
	return nil
}

func (m *MemoryStore) IncrementAssessmentCount(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpIncrement); err != nil {
		return err
	}
	plan, ok := m.plans[userID]
	if !ok {
		return ErrNotFound
	}
	plan.AssessmentCount++
	m.plans[userID] = plan
	return nil
}

func (m *MemoryStore) UpdateRiskStatus(_ context.Context, riskID string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpUpdateStatus); err != nil {
		return err
	}
	for i := range m.risks {
		if m.risks[i].RiskID == riskID {
			m.risks[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) GetUserPlan(_ context.Context, userID string) (models.UserPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetPlan); err != nil {
		return models.UserPlan{}, err
	}
	plan, ok := m.plans[userID]
	if !ok {
		return models.UserPlan{}, ErrNotFound
	}
	return plan, nil
}

func (m *MemoryStore) SetPremium(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpSetPremium); err != nil {
		return err
	}
	plan, ok := m.plans[userID]
	if !ok {
		return ErrNotFound
	}
	plan.IsPremium = true
	m.plans[userID] = plan
	return nil
}

func (m *MemoryStore) GetUserRole(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpGetRole); err != nil {
		return "", err
	}
	return m.roles[userID], nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateUserRecords(_ context.Context, userID string, assessmentLimit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(OpCreateRecords); err != nil {
		return err
	}
	if _, ok := m.roles[userID]; !ok {
		m.roles[userID] = DefaultRole
	}
	if _, ok := m.plans[userID]; !ok {
		m.plans[userID] = models.UserPlan{UserID: userID, AssessmentLimit: assessmentLimit}
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
