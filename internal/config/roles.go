package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ruby4mag/riskgate-backend/internal/policy"
)

type rolesFile struct {
	Roles []policy.Profile `yaml:"roles"`
}

// LoadRoleMatrix reads a YAML role matrix. Roles missing from the file keep
// their built-in profile.
func LoadRoleMatrix(path string) (policy.Matrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return ParseRoleMatrix(raw)
}

func ParseRoleMatrix(raw []byte) (policy.Matrix, error) {
	var file rolesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse roles file: %w", err)
	}

	matrix := policy.DefaultMatrix()
	for _, p := range file.Roles {
		if policy.ParseRole(string(p.Role)) != p.Role {
			return nil, fmt.Errorf("roles file: unknown role %q", p.Role)
		}
		matrix[p.Role] = p
	}
	if err := matrix.Validate(); err != nil {
		return nil, err
	}
	return matrix, nil
}
