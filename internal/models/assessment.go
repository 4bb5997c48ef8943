package models

import "time"

const (
	SourceAI     = "ai"
	SourceManual = "manual"
)

// AssessmentSummary is the per-assessment record written after the detailed risks.
type AssessmentSummary struct {
	AssessmentID        string    `bson:"assessment_id" json:"assessment_id"`
	UserID              string    `bson:"user_id" json:"user_id"`
	CreatedAt           time.Time `bson:"created_at" json:"created_at"`
	Role                string    `bson:"role" json:"role"`
	Source              string    `bson:"source" json:"source"`
	URL                 string    `bson:"url" json:"url"`
	Latitude            float64   `bson:"latitude" json:"latitude"`
	Longitude           float64   `bson:"longitude" json:"longitude"`
	Elevation           float64   `bson:"elevation" json:"elevation"`
	ProximityToHazard   float64   `bson:"proximity_to_hazard" json:"proximity_to_hazard"`
	URLThreatLevel      float64   `bson:"url_threat_level" json:"url_threat_level"`
	DocumentSensitivity float64   `bson:"document_sensitivity" json:"document_sensitivity"`
	ImageAnomalyScore   float64   `bson:"image_anomaly_score" json:"image_anomaly_score"`
	VideoIncidentScore  float64   `bson:"video_incident_score" json:"video_incident_score"`
	DigitalScore        float64   `bson:"digital_score" json:"digital_score"`
	GeoScore            float64   `bson:"geo_score" json:"geo_score"`
	FinalScore          int       `bson:"final_score" json:"final_score"`
	FormulaVersion      int       `bson:"formula_version" json:"formula_version"`
}

// UserPlan is the usage/upgrade state of one account. AssessmentCount is only
// ever incremented server side.
type UserPlan struct {
	UserID          string `bson:"user_id" json:"user_id"`
	AssessmentCount int    `bson:"assessment_count" json:"assessment_count"`
	AssessmentLimit int    `bson:"assessment_limit" json:"assessment_limit"`
	IsPremium       bool   `bson:"is_premium" json:"is_premium"`
}
