package models

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// ParseSeverity accepts the four severity names case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Status is the lifecycle state of a single risk in the register.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusMitigated Status = "Mitigated"
	StatusClosed    Status = "Closed"
)

// ParseStatus accepts the status names case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return StatusOpen, nil
	case "mitigated":
		return StatusMitigated, nil
	case "closed":
		return StatusClosed, nil
	}
	return "", fmt.Errorf("unknown risk status %q", s)
}

// Risk is one identified vulnerability within an assessment. Only Status
// changes after creation.
type Risk struct {
	RiskID       string   `bson:"risk_id" json:"risk_id"`
	AssessmentID string   `bson:"assessment_id" json:"assessment_id"`
	UserID       string   `bson:"user_id" json:"user_id"`
	Title        string   `bson:"title" json:"title"`
	Description  string   `bson:"description" json:"description"`
	Category     string   `bson:"category" json:"category"`
	Severity     Severity `bson:"severity" json:"severity"`
	Mitigation   string   `bson:"mitigation" json:"mitigation"`
	Confidence   float64  `bson:"confidence" json:"confidence"`
	Status       Status   `bson:"status" json:"status"`
}

// DigitalScores are the four per-modality estimates returned by the analysis service.
type DigitalScores struct {
	URLThreatLevel      float64 `json:"urlThreatLevel"`
	DocumentSensitivity float64 `json:"documentSensitivity"`
	ImageAnomalyScore   float64 `json:"imageAnomalyScore"`
	VideoIncidentScore  float64 `json:"videoIncidentScore"`
}

// GeoInput carries the location fields collected alongside an assessment.
type GeoInput struct {
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Elevation         float64 `json:"elevation"`
	ProximityToHazard float64 `json:"proximity_to_hazard"`
}
