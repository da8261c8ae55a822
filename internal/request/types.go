// Package request defines the work-request input: the declared feature list
// that a run decomposes into schedulable work.
package request

// Role identifies a worker role. Roles are a closed set with declared
// capabilities; unknown roles are rejected at validation time, not at
// dispatch.
type Role string

const (
	RoleArchitect  Role = "architect"
	RoleBuilder    Role = "builder"
	RoleUIBuilder  Role = "ui-builder"
	RoleIntegrator Role = "integrator"
	RoleBugfixer   Role = "bugfixer"
)

// KnownRoles returns every declared role in stable order.
func KnownRoles() []Role {
	return []Role{RoleArchitect, RoleBuilder, RoleUIBuilder, RoleIntegrator, RoleBugfixer}
}

// Capability describes what a role is allowed to produce.
type Capability string

const (
	CapabilityDesign    Capability = "design"
	CapabilityCode      Capability = "code"
	CapabilityUI        Capability = "ui"
	CapabilityMergePrep Capability = "merge-prep"
	CapabilityFix       Capability = "fix"
)

// roleCapabilities is the declared capability set per role.
var roleCapabilities = map[Role][]Capability{
	RoleArchitect:  {CapabilityDesign},
	RoleBuilder:    {CapabilityCode},
	RoleUIBuilder:  {CapabilityUI, CapabilityCode},
	RoleIntegrator: {CapabilityMergePrep},
	RoleBugfixer:   {CapabilityFix, CapabilityCode},
}

// Capabilities returns the declared capability set for a role, or nil for an
// unknown role.
func (r Role) Capabilities() []Capability {
	return roleCapabilities[r]
}

// Known reports whether the role is part of the closed set.
func (r Role) Known() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Feature is one declared unit of work.
type Feature struct {
	// Name uniquely identifies the feature within a request.
	Name string `yaml:"name" json:"name"`

	// Description is the human-readable intent handed to workers.
	Description string `yaml:"description" json:"description"`

	// Roles are the worker roles assigned to build this feature.
	Roles []Role `yaml:"roles" json:"roles"`

	// RoleOrder, when set, forces the listed roles to run sequentially in
	// this order. Roles not listed run concurrently after the ordered ones.
	RoleOrder []Role `yaml:"role_order,omitempty" json:"role_order,omitempty"`

	// Dependencies are names of features that must be merged first.
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Priority orders features of equal dependency depth for reporting.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Request is the full work-request manifest.
type Request struct {
	// Name labels the run.
	Name string `yaml:"name" json:"name"`

	// Features is the declared feature list in declaration order.
	Features []Feature `yaml:"features" json:"features"`
}

// Feature returns the named feature, or nil if not declared.
func (r *Request) Feature(name string) *Feature {
	for i := range r.Features {
		if r.Features[i].Name == name {
			return &r.Features[i]
		}
	}
	return nil
}
