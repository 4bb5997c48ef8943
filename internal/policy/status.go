package policy

import "github.com/ruby4mag/riskgate-backend/internal/models"

// CanTransition reports whether a risk may move from one status to another.
// The graph is complete: any status may move to any other.
func CanTransition(from, to models.Status) bool {
	return validStatus(from) && validStatus(to) && from != to
}

func validStatus(s models.Status) bool {
	switch s {
	case models.StatusOpen, models.StatusMitigated, models.StatusClosed:
		return true
	}
	return false
}
