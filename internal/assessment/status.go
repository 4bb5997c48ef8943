package assessment

import (
	"context"
	"strings"

	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
)

// StatusChange is one status edit on a risk. From is the status the change
// actually replaced, read while the risk's in-flight slot is held.
type StatusChange struct {
	RiskID  string        `json:"risk_id"`
	From    models.Status `json:"from"`
	To      models.Status `json:"to"`
	Applied bool          `json:"applied"`
}

// Inverse returns the change that restores From.
func (c StatusChange) Inverse() StatusChange {
	return StatusChange{RiskID: c.RiskID, From: c.To, To: c.From}
}

// ChangeStatus moves a risk to status. The session copy is updated first and
// restored if the store write fails. Setting the current status again is a
// no-op that touches nothing.
func (s *Service) ChangeStatus(ctx context.Context, engine *policy.Engine, riskID string, status models.Status) (*StatusChange, error) {
	if d := engine.Gate(policy.ActionEditStatus); !d.Allowed {
		return nil, &GateError{Action: policy.ActionEditStatus, Reason: d.Reason}
	}
	risk, ok := engine.Risk(riskID)
	if !ok {
		return nil, ErrRiskNotFound
	}

	from := risk.Status
	if from == "" {
		from = models.StatusOpen
	}
	change := StatusChange{RiskID: riskID, From: from, To: status}
	if from == status {
		return &change, nil
	}
	if !policy.CanTransition(from, status) {
		return nil, invalidInput("Unknown risk status " + string(status) + ".")
	}

	if err := s.apply(ctx, engine, &change, StageUpdateStatus); err != nil {
		return nil, err
	}

	if change.Applied {
		session, _ := engine.Snapshot()
		s.rememberUndo(session.UserID, change)
	}
	return &change, nil
}

// Undo reverts the last successful change on riskID. A change can be undone
// once.
func (s *Service) Undo(ctx context.Context, engine *policy.Engine, riskID string) (*StatusChange, error) {
	if d := engine.Gate(policy.ActionEditStatus); !d.Allowed {
		return nil, &GateError{Action: policy.ActionEditStatus, Reason: d.Reason}
	}
	session, ok := engine.Snapshot()
	if !ok {
		return nil, policy.ErrNoSession
	}
	last, ok := s.lastChange(session.UserID, riskID)
	if !ok {
		return nil, ErrNothingToUndo
	}
	if _, ok := engine.Risk(riskID); !ok {
		s.dropUndo(session.UserID, riskID)
		return nil, ErrRiskNotFound
	}

	inverse := last.Inverse()
	if err := s.apply(ctx, engine, &inverse, StageRevertStatus); err != nil {
		return nil, err
	}
	s.dropUndo(session.UserID, riskID)
	return &inverse, nil
}

// apply runs the optimistic update, store write and rollback for one change.
// change.From is overwritten with the status actually replaced; if that is
// already change.To nothing is written and Applied stays false.
func (s *Service) apply(ctx context.Context, engine *policy.Engine, change *StatusChange, stage string) error {
	if !engine.BeginStatusChange(change.RiskID) {
		return ErrStatusChangeInFlight
	}
	defer engine.EndStatusChange(change.RiskID)

	prev, ok := engine.SetRiskStatus(change.RiskID, change.To)
	if !ok {
		return ErrRiskNotFound
	}
	from := prev
	if from == "" {
		from = models.StatusOpen
	}
	change.From = from
	if from == change.To {
		engine.SetRiskStatus(change.RiskID, prev)
		return nil
	}
	if err := s.store.UpdateRiskStatus(ctx, change.RiskID, change.To); err != nil {
		engine.SetRiskStatus(change.RiskID, prev)
		s.logger.Error("failed to update risk status", "riskId", change.RiskID, "status", change.To, "stage", stage, "error", err)
		return &StageError{Stage: stage, Err: err}
	}
	change.Applied = true
	return nil
}

func undoKey(userID, riskID string) string { return userID + "/" + riskID }

func (s *Service) rememberUndo(userID string, change StatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := change
	s.undo[undoKey(userID, change.RiskID)] = &c
}

func (s *Service) lastChange(userID, riskID string) (StatusChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.undo[undoKey(userID, riskID)]
	if !ok {
		return StatusChange{}, false
	}
	return *c, true
}

func (s *Service) dropUndo(userID, riskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.undo, undoKey(userID, riskID))
}

// ForgetUser discards every pending undo of userID. It is called when the
// user's session ends.
func (s *Service) ForgetUser(userID string) {
	prefix := undoKey(userID, "")
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.undo {
		if strings.HasPrefix(key, prefix) {
			delete(s.undo, key)
		}
	}
}

// forgetUndo discards pending undos for a register that has been replaced.
func (s *Service) forgetUndo(replaced []models.Risk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range replaced {
		delete(s.undo, undoKey(r.UserID, r.RiskID))
	}
}
