// internal/request/validate.go
package request

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
)

// Validate checks the request shape and reports every violation found, never
// just the first. Dependency resolution and cycle detection live in the graph
// builder; this covers everything declarable per feature.
func Validate(req *Request) error {
	var violations []taxonomy.Violation

	if req == nil || len(req.Features) == 0 {
		violations = append(violations, taxonomy.Violation{
			Field:   "features",
			Message: "request declares no features",
		})
		return &taxonomy.ValidationError{Violations: violations}
	}

	seen := make(map[string]bool, len(req.Features))
	for _, f := range req.Features {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			violations = append(violations, taxonomy.Violation{
				Field:   "name",
				Message: "feature has empty name",
			})
			continue
		}
		if seen[name] {
			violations = append(violations, taxonomy.Violation{
				Feature: name,
				Field:   "name",
				Message: "duplicate feature name",
			})
		}
		seen[name] = true

		if strings.TrimSpace(f.Description) == "" {
			violations = append(violations, taxonomy.Violation{
				Feature: name,
				Field:   "description",
				Message: "feature has no description",
			})
		}

		if len(f.Roles) == 0 {
			violations = append(violations, taxonomy.Violation{
				Feature: name,
				Field:   "roles",
				Message: "feature declares no roles",
			})
		}
		declared := make(map[Role]bool, len(f.Roles))
		for _, role := range f.Roles {
			if !role.Known() {
				violations = append(violations, taxonomy.Violation{
					Feature: name,
					Field:   "roles",
					Message: fmt.Sprintf("unknown role %q (known: %s)", role, knownRoleList()),
				})
				continue
			}
			if declared[role] {
				violations = append(violations, taxonomy.Violation{
					Feature: name,
					Field:   "roles",
					Message: fmt.Sprintf("role %q declared twice", role),
				})
			}
			declared[role] = true
		}

		for _, role := range f.RoleOrder {
			if !declared[role] {
				violations = append(violations, taxonomy.Violation{
					Feature: name,
					Field:   "role_order",
					Message: fmt.Sprintf("ordered role %q is not in the feature's role set", role),
				})
			}
		}

		for _, dep := range f.Dependencies {
			if dep == name {
				violations = append(violations, taxonomy.Violation{
					Feature: name,
					Field:   "dependencies",
					Message: "feature depends on itself",
				})
			}
		}
	}

	if len(violations) > 0 {
		return &taxonomy.ValidationError{Violations: violations}
	}
	return nil
}

func knownRoleList() string {
	roles := KnownRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
