package policy

import "github.com/ruby4mag/riskgate-backend/internal/models"

const (
	titleNoPermission     = "Your role does not have permission to perform this action."
	titleOverLimit        = "You have reached your assessment limit. Upgrade to continue."
	titleAssess           = "Start the AI risk assessment based on the provided media and prompt."
	titleManualAssess     = "Manually log a new assessment without AI analysis."
	titleNoExport         = "Your role does not have permission to export data."
	titleExportCSV        = "Export risk register to CSV."
	titleNeedRisks        = "Generate risks to enable export."
	titleReportNeedsPlan  = "Upgrade to Premium to export PDF reports."
	titleExportReport     = "Export a detailed PDF report."
	titleReportNeedsRisks = "Generate a report to enable export."
	titlePlanStale        = "Your usage plan is being refreshed. Try again in a moment."
)

// Features is the set of control states the dashboard renders for a session.
type Features struct {
	Role                Role   `json:"role"`
	RoleTitle           string `json:"roleTitle"`
	AssessEnabled       bool   `json:"assessEnabled"`
	AssessTitle         string `json:"assessTitle"`
	ManualAssessEnabled bool   `json:"manualAssessEnabled"`
	ManualAssessTitle   string `json:"manualAssessTitle"`
	InputsEnabled       bool   `json:"inputsEnabled"`
	LimitReached        bool   `json:"limitReached"`
	ExportCSVEnabled    bool   `json:"exportCsvEnabled"`
	ExportCSVTitle      string `json:"exportCsvTitle"`
	ExportReportEnabled bool   `json:"exportReportEnabled"`
	ExportReportTitle   string `json:"exportReportTitle"`
	StatusEditable      bool   `json:"statusEditable"`
	UpgradePriceCents   int64  `json:"upgradePriceCents"`
	TotalRisks          int    `json:"totalRisks"`
	CriticalRisks       int    `json:"criticalRisks"`
}

// Features derives the control states for the active session. Without a
// session everything is disabled.
func (e *Engine) Features() Features {
	s, ok := e.Snapshot()
	if !ok {
		return Features{Role: RoleIntern, AssessTitle: titleNoPermission, ManualAssessTitle: titleNoPermission}
	}
	profile := e.matrix.Profile(s.Role)
	caps := profile.Capabilities
	over := overQuota(s.Plan)
	stale := e.PlanStale()
	hasRisks := len(s.Risks) > 0

	f := Features{
		Role:                s.Role,
		RoleTitle:           profile.Title,
		AssessEnabled:       caps.CanAssess && !over && !stale,
		ManualAssessEnabled: caps.CanAssess,
		InputsEnabled:       caps.CanAssess,
		ExportCSVEnabled:    caps.CanExport && hasRisks,
		ExportReportEnabled: caps.CanExport && s.Plan.IsPremium && hasRisks && !stale,
		StatusEditable:      caps.CanEditStatus,
		UpgradePriceCents:   profile.PriceCents,
		TotalRisks:          len(s.Risks),
	}
	for _, r := range s.Risks {
		if r.Severity == models.SeverityCritical {
			f.CriticalRisks++
		}
	}

	switch {
	case !caps.CanAssess:
		f.AssessTitle = titleNoPermission
		f.ManualAssessTitle = titleNoPermission
	case stale:
		f.AssessTitle = titlePlanStale
		f.ManualAssessTitle = titleManualAssess
	case over:
		f.AssessTitle = titleOverLimit
		f.ManualAssessTitle = titleManualAssess
		f.LimitReached = true
	default:
		f.AssessTitle = titleAssess
		f.ManualAssessTitle = titleManualAssess
	}

	csvTitle := titleNeedRisks
	if hasRisks {
		csvTitle = titleExportCSV
	}
	switch {
	case !caps.CanExport:
		f.ExportCSVTitle = titleNoExport
		f.ExportReportTitle = titleNoExport
	case !s.Plan.IsPremium:
		f.ExportCSVTitle = csvTitle
		f.ExportReportTitle = titleReportNeedsPlan
	default:
		f.ExportCSVTitle = csvTitle
		f.ExportReportTitle = titleReportNeedsRisks
		if hasRisks {
			f.ExportReportTitle = titleExportReport
		}
	}
	return f
}
