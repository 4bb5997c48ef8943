package assessment

import (
	"errors"
	"fmt"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
)

var (
	ErrInvalidInput         = errors.New("invalid assessment input")
	ErrAssessmentInFlight   = errors.New("an assessment is already running")
	ErrStatusChangeInFlight = errors.New("a status change for this risk is already in progress")
	ErrRiskNotFound         = errors.New("risk not found in the current register")
	ErrNothingToUndo        = errors.New("no status change to undo")
	ErrNothingToExport      = errors.New("no risks from the last assessment to export")
	ErrNoReport             = errors.New("no report from the last assessment")
	ErrUpgradeFailed        = errors.New("upgrade failed")
	ErrAnalysisFailed       = errors.New("ai analysis failed")
)

// Persistence stages. The first three are the writes of one assessment, in
// write order.
const (
	StageSaveRisks    = "save detailed risks"
	StageSaveSummary  = "save assessment summary"
	StageUpdateUsage  = "update usage count"
	StageUpdateStatus = "update risk status"
	StageRevertStatus = "revert risk status"
	StageRefreshPlan  = "refresh usage plan"
)

// InputError describes a request the user has to fix before it can run.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalidInput(msg string) error { return &InputError{Msg: msg} }

// GateError is returned when the policy engine denies an action.
type GateError struct {
	Action policy.Action
	Reason policy.Reason
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason)
}

// StageError names the persistence write that failed. Writes issued before
// it are not rolled back.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// UserMessage turns any error from this package into the single message shown
// to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var gate *GateError
	if errors.As(err, &gate) {
		switch gate.Reason {
		case policy.ReasonNoSession:
			return "You must be logged in to do that."
		case policy.ReasonOverQuota:
			return "You have used all assessments on your plan. Upgrade to continue."
		case policy.ReasonPremiumRequired:
			return "This feature is available on the premium plan."
		case policy.ReasonPlanStale:
			return "Your usage plan could not be refreshed. Please try again."
		}
		if gate.Action == policy.ActionAssess || gate.Action == policy.ActionManualAssess {
			return "Your role does not have permission to perform new assessments."
		}
		return "Your role does not have permission to do that."
	}

	var input *InputError
	if errors.As(err, &input) {
		return input.Msg
	}

	var stage *StageError
	if errors.As(err, &stage) {
		switch stage.Stage {
		case StageUpdateStatus:
			return "Failed to update risk status. Please try again."
		case StageRevertStatus:
			return "Failed to revert action."
		}
		return fmt.Sprintf("Failed to %s. Please try again.", stage.Stage)
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return "The request is missing required input."
	case errors.Is(err, ai.ErrInvalidAPIKey):
		return "The AI API key is invalid. Please check the application configuration and ensure it is correct."
	case errors.Is(err, ai.ErrRateLimited):
		return "The AI service is currently busy or rate limits have been exceeded. Please try again in a few moments."
	case errors.Is(err, ai.ErrMalformedResponse):
		return "The AI response was not in a valid format. Please try rephrasing your request or simplifying the input."
	case errors.Is(err, ErrAnalysisFailed):
		return "An unexpected error occurred during AI analysis. Please try again."
	case errors.Is(err, ErrAssessmentInFlight):
		return "An assessment is already running. Please wait for it to finish."
	case errors.Is(err, ErrStatusChangeInFlight):
		return "A status change for this risk is already in progress."
	case errors.Is(err, ErrRiskNotFound):
		return "That risk is not part of the current register."
	case errors.Is(err, ErrNothingToUndo):
		return "Failed to revert action."
	case errors.Is(err, ErrNothingToExport):
		return "No risks from the last assessment to export."
	case errors.Is(err, ErrNoReport):
		return "Run an assessment to generate a report first."
	case errors.Is(err, ErrUpgradeFailed):
		return "There was an error upgrading your plan. Please contact support."
	case errors.Is(err, policy.ErrNoSession):
		return "You must be logged in to do that."
	}
	return "An unexpected error occurred. Please try again."
}
