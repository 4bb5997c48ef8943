package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ruby4mag/riskgate-backend/internal/models"
)

// ErrMalformedResponse means the service answered with something other than
// the required JSON object.
var ErrMalformedResponse = errors.New("ai: response was not in a valid format")

// Analysis is the structured result of one assessment request.
type Analysis struct {
	Risks         []models.Risk        `json:"risks"`
	Report        string               `json:"report"`
	DigitalScores models.DigitalScores `json:"digitalScores"`
	Place         *PlaceRecommendation `json:"place,omitempty"`
}

// ParseAnalysis decodes the model's text answer. The three top-level keys must
// all be present; a ```json fence around the object is tolerated. Severities
// are normalised to their canonical spelling.
func ParseAnalysis(text string) (*Analysis, error) {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, key := range []string{"risks", "report", "digitalScores"} {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, key)
		}
	}

	var a Analysis
	if err := json.Unmarshal(fields["risks"], &a.Risks); err != nil {
		return nil, fmt.Errorf("%w: risks: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(fields["report"], &a.Report); err != nil {
		return nil, fmt.Errorf("%w: report: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(fields["digitalScores"], &a.DigitalScores); err != nil {
		return nil, fmt.Errorf("%w: digitalScores: %v", ErrMalformedResponse, err)
	}
	if a.Report == "" {
		return nil, fmt.Errorf("%w: empty report", ErrMalformedResponse)
	}
	if a.Risks == nil {
		a.Risks = []models.Risk{}
	}
	for i := range a.Risks {
		sev, err := models.ParseSeverity(string(a.Risks[i].Severity))
		if err != nil {
			return nil, fmt.Errorf("%w: risk %d: %v", ErrMalformedResponse, i, err)
		}
		a.Risks[i].Severity = sev
		if c := a.Risks[i].Confidence; c < 0 || c > 1 {
			return nil, fmt.Errorf("%w: risk %d: confidence %v outside [0, 1]", ErrMalformedResponse, i, c)
		}
	}
	return &a, nil
}
