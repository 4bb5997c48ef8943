package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ruby4mag/riskgate-backend/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL using the same table layout as
// the hosted backend the dashboard was first built on.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const insertRiskSQL = `INSERT INTO risks (risk_id, assessment_id, user_id, title, description, category, severity, mitigation, confidence, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// InsertRisks writes all risks in one transaction.
func (s *PostgresStore) InsertRisks(ctx context.Context, risks []models.Risk) error {
	if len(risks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert risks: %w", err)
	}
	for _, r := range risks {
		_, err := tx.ExecContext(ctx, insertRiskSQL,
			r.RiskID, r.AssessmentID, r.UserID, r.Title, r.Description, r.Category,
			string(r.Severity), r.Mitigation, r.Confidence, string(r.Status))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert risk %s: %w", r.RiskID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert risks: %w", err)
	}
	return nil
}

const insertAssessmentSQL = `INSERT INTO risk_assessments (assessment_id, user_id, created_at, role, source, url, latitude, longitude, elevation,
proximity_to_hazard, url_threat_level, document_sensitivity, image_anomaly_score, video_incident_score,
digital_score, geo_score, final_score, formula_version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func (s *PostgresStore) InsertAssessment(ctx context.Context, a models.AssessmentSummary) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertAssessmentSQL,
		a.AssessmentID, a.UserID, a.CreatedAt, a.Role, a.Source, a.URL, a.Latitude, a.Longitude, a.Elevation,
		a.ProximityToHazard, a.URLThreatLevel, a.DocumentSensitivity, a.ImageAnomalyScore, a.VideoIncidentScore,
		a.DigitalScore, a.GeoScore, a.FinalScore, a.FormulaVersion)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementAssessmentCount(ctx context.Context, userID string) error {
	return s.execOne(ctx,
		"UPDATE usage_limits SET assessment_count = assessment_count + 1 WHERE user_id = $1",
		"increment assessment count", userID)
}

func (s *PostgresStore) UpdateRiskStatus(ctx context.Context, riskID string, status models.Status) error {
	return s.execOne(ctx,
		"UPDATE risks SET status = $1 WHERE risk_id = $2",
		"update risk status", string(status), riskID)
}

func (s *PostgresStore) SetPremium(ctx context.Context, userID string) error {
	return s.execOne(ctx,
		"UPDATE usage_limits SET is_premium = TRUE WHERE user_id = $1",
		"set premium", userID)
}

// execOne runs an update that must touch a row; zero rows is ErrNotFound.
func (s *PostgresStore) execOne(ctx context.Context, query, what string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetUserPlan(ctx context.Context, userID string) (models.UserPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		"SELECT user_id, assessment_count, assessment_limit, is_premium FROM usage_limits WHERE user_id = $1",
		userID)
	var p models.UserPlan
	err := row.Scan(&p.UserID, &p.AssessmentCount, &p.AssessmentLimit, &p.IsPremium)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserPlan{}, ErrNotFound
	}
	if err != nil {
		return models.UserPlan{}, fmt.Errorf("get user plan: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var role string
	err := s.db.QueryRowContext(ctx, "SELECT role FROM user_roles WHERE user_id = $1", userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password) VALUES ($1, $2, $3, $4)",
		user.ID, user.Username, user.Email, user.Password)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var u models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password FROM users WHERE username = $1", username).
		Scan(&u.ID, &u.Username, &u.Email, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUserRecords(ctx context.Context, userID string, assessmentLimit int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		userID, DefaultRole); err != nil {
		return fmt.Errorf("create user role: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO usage_limits (user_id, assessment_count, assessment_limit, is_premium) VALUES ($1, 0, $2, FALSE) ON CONFLICT (user_id) DO NOTHING",
		userID, assessmentLimit); err != nil {
		return fmt.Errorf("create usage limits: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
