package assessment

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
)

var csvHeader = []string{"Risk ID", "Title", "Category", "Severity", "Confidence", "Status", "Description", "Mitigation"}

// ExportCSV writes the current risk register, preceded by the context of the
// assessment that produced it.
func (s *Service) ExportCSV(engine *policy.Engine, w io.Writer) error {
	if d := engine.Gate(policy.ActionExport); !d.Allowed {
		return &GateError{Action: policy.ActionExport, Reason: d.Reason}
	}
	session, ok := engine.Snapshot()
	if !ok {
		return policy.ErrNoSession
	}
	if len(session.Risks) == 0 {
		return ErrNothingToExport
	}

	cw := csv.NewWriter(w)
	if ac := session.LastContext; ac != nil {
		rows := [][]string{
			{"Assessment Context"},
			{"Timestamp", ac.Timestamp.Format(time.RFC3339)},
			{"Analysis Prompt", ac.Prompt},
			{""},
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv context: %w", err)
		}
	}
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range session.Risks {
		if err := cw.Write(csvRow(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.RiskID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r models.Risk) []string {
	status := r.Status
	if status == "" {
		status = models.StatusOpen
	}
	return []string{
		r.RiskID,
		r.Title,
		r.Category,
		string(r.Severity),
		strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		string(status),
		r.Description,
		r.Mitigation,
	}
}

// CSVFilename names an export taken at t.
func CSVFilename(t time.Time) string {
	return "risk_register_" + t.UTC().Format("2006-01-02T15-04-05") + ".csv"
}

// ExportReport returns the Markdown report of the last assessment. It needs
// the export permission and a premium plan.
func (s *Service) ExportReport(engine *policy.Engine) (string, error) {
	if d := engine.Gate(policy.ActionExportReport); !d.Allowed {
		return "", &GateError{Action: policy.ActionExportReport, Reason: d.Reason}
	}
	session, ok := engine.Snapshot()
	if !ok {
		return "", policy.ErrNoSession
	}
	if session.Report == "" {
		return "", ErrNoReport
	}
	return session.Report, nil
}
