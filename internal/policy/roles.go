// Package policy decides which dashboard actions a user may take, based on the
// user's role and the usage state of their plan.
package policy

import (
	"fmt"
)

// Role is one of the fixed dashboard roles.
type Role string

const (
	RoleRiskManager          Role = "RiskManager"
	RoleFieldOperator        Role = "FieldOperator"
	RoleEnvironmentalAnalyst Role = "EnvironmentalAnalyst"
	RoleITSecurityLead       Role = "ITSecurityLead"
	RoleComplianceOfficer    Role = "ComplianceOfficer"
	RoleIntern               Role = "Intern"
)

// Roles lists every role in display order.
var Roles = []Role{
	RoleRiskManager,
	RoleFieldOperator,
	RoleEnvironmentalAnalyst,
	RoleITSecurityLead,
	RoleComplianceOfficer,
	RoleIntern,
}

// ParseRole maps a stored role name onto a Role. Unknown or empty names fall
// back to the lowest-privilege role.
func ParseRole(s string) Role {
	for _, r := range Roles {
		if string(r) == s {
			return r
		}
	}
	return RoleIntern
}

// Capabilities is the permission set granted to a role.
type Capabilities struct {
	CanAssess     bool `json:"canAssess" yaml:"can_assess"`
	CanExport     bool `json:"canExport" yaml:"can_export"`
	CanEditStatus bool `json:"canEditStatus" yaml:"can_edit_status"`
}

// Profile is the static configuration of one role.
type Profile struct {
	Role         Role         `json:"role" yaml:"role"`
	Title        string       `json:"title" yaml:"title"`
	Description  string       `json:"description" yaml:"description"`
	Capabilities Capabilities `json:"permissions" yaml:"permissions"`
	PriceCents   int64        `json:"priceCents" yaml:"price_cents"`
}

// Matrix maps every role to its profile.
type Matrix map[Role]Profile

// DefaultMatrix returns the built-in role table.
func DefaultMatrix() Matrix {
	return Matrix{
		RoleRiskManager: {
			Role:         RoleRiskManager,
			Title:        "Risk Manager Dashboard",
			Description:  "Monitor vulnerabilities, generate mitigation plans, and track compliance.",
			Capabilities: Capabilities{CanAssess: true, CanExport: true, CanEditStatus: true},
			PriceCents:   49900,
		},
		RoleFieldOperator: {
			Role:         RoleFieldOperator,
			Title:        "Field Operator Dashboard",
			Description:  "Scan perimeter threats using drone imagery and receive real-time alerts.",
			Capabilities: Capabilities{CanAssess: true},
			PriceCents:   19900,
		},
		RoleEnvironmentalAnalyst: {
			Role:         RoleEnvironmentalAnalyst,
			Title:        "Environmental Analyst Dashboard",
			Description:  "Analyze flood zones, erosion risks, and meteorological threats.",
			Capabilities: Capabilities{CanAssess: true, CanExport: true},
			PriceCents:   29900,
		},
		RoleITSecurityLead: {
			Role:         RoleITSecurityLead,
			Title:        "IT Security Dashboard",
			Description:  "Detect digital vulnerabilities and simulate breach scenarios.",
			Capabilities: Capabilities{CanAssess: true, CanEditStatus: true},
			PriceCents:   39900,
		},
		RoleComplianceOfficer: {
			Role:         RoleComplianceOfficer,
			Title:        "Compliance Dashboard",
			Description:  "Audit mitigation strategies and ensure regulatory alignment.",
			Capabilities: Capabilities{CanExport: true, CanEditStatus: true},
			PriceCents:   59900,
		},
		RoleIntern: {
			Role:         RoleIntern,
			Title:        "Learning Dashboard",
			Description:  "Practice with simulations and chat with the assistant anytime.",
			Capabilities: Capabilities{},
			PriceCents:   9900,
		},
	}
}

// Validate checks that every role has a profile.
func (m Matrix) Validate() error {
	for _, r := range Roles {
		p, ok := m[r]
		if !ok {
			return fmt.Errorf("role matrix is missing %s", r)
		}
		if p.PriceCents < 0 {
			return fmt.Errorf("role %s has a negative price", r)
		}
	}
	return nil
}

// Profile returns the profile for r, falling back to the intern profile.
func (m Matrix) Profile(r Role) Profile {
	if p, ok := m[r]; ok {
		return p
	}
	return m[RoleIntern]
}
