// Package store persists risks, assessment summaries, plans and accounts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ruby4mag/riskgate-backend/internal/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("record already exists")
)

// Default role assigned to new accounts.
const DefaultRole = "Intern"

const opTimeout = 5 * time.Second

// Store is the persistence contract used by the assessment flow and the
// policy engine.
type Store interface {
	InsertRisks(ctx context.Context, risks []models.Risk) error
	InsertAssessment(ctx context.Context, summary models.AssessmentSummary) error
	IncrementAssessmentCount(ctx context.Context, userID string) error
	UpdateRiskStatus(ctx context.Context, riskID string, status models.Status) error

	GetUserPlan(ctx context.Context, userID string) (models.UserPlan, error)
	SetPremium(ctx context.Context, userID string) error
	// GetUserRole returns an empty string when no role is recorded.
	GetUserRole(ctx context.Context, userID string) (string, error)

	CreateUser(ctx context.Context, user *models.User) error
	// FindUserByUsername returns nil, nil when no such user exists.
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	// CreateUserRecords writes the default role and an empty usage record.
	CreateUserRecords(ctx context.Context, userID string, assessmentLimit int) error

	Ping(ctx context.Context) error
}
