package assessment

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&GateError{Action: policy.ActionAssess, Reason: policy.ReasonNoPermission}, "Your role does not have permission to perform new assessments."},
		{&GateError{Action: policy.ActionExport, Reason: policy.ReasonNoPermission}, "Your role does not have permission to do that."},
		{&GateError{Action: policy.ActionAssess, Reason: policy.ReasonOverQuota}, "You have used all assessments on your plan. Upgrade to continue."},
		{&GateError{Action: policy.ActionEditStatus, Reason: policy.ReasonNoSession}, "You must be logged in to do that."},
		{&StageError{Stage: StageSaveRisks, Err: errors.New("x")}, "Failed to save detailed risks. Please try again."},
		{&StageError{Stage: StageRevertStatus, Err: errors.New("x")}, "Failed to revert action."},
		{&GateError{Action: policy.ActionAssess, Reason: policy.ReasonPlanStale}, "Your usage plan could not be refreshed. Please try again."},
		{fmt.Errorf("%w: %w", ErrAnalysisFailed, ai.ErrInvalidAPIKey), "The AI API key is invalid. Please check the application configuration and ensure it is correct."},
		{fmt.Errorf("%w: %w", ErrAnalysisFailed, ai.ErrRateLimited), "The AI service is currently busy or rate limits have been exceeded. Please try again in a few moments."},
		{fmt.Errorf("%w: %w", ErrAnalysisFailed, errors.New("dial tcp: refused")), "An unexpected error occurred during AI analysis. Please try again."},
		{ErrStatusChangeInFlight, "A status change for this risk is already in progress."},
		{policy.ErrNoSession, "You must be logged in to do that."},
		{errors.New("something else"), "An unexpected error occurred. Please try again."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err), "%v", tt.err)
	}
}

func TestInputErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("manual: %w", invalidInput("bad"))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "bad", UserMessage(err))
}
