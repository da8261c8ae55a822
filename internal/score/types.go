// Package score computes the weighted, threshold-gated quality score and
// decides ship vs. iterate.
package score

import (
	"github.com/fyrsmithlabs/foundry/internal/request"
)

// Dimension identifies one scored quality dimension.
type Dimension string

const (
	DimFunctionality Dimension = "functionality"
	DimTestCoverage  Dimension = "automated-test-coverage"
	DimUICoverage    Dimension = "interactive-ui-coverage"
	DimVisual        Dimension = "visual-correctness"
	DimDataFlow      Dimension = "data-flow-integrity"
	DimNamingStyle   Dimension = "naming-style-compliance"
	DimIntegration   Dimension = "integration-correctness"
	DimCodeQuality   Dimension = "code-quality"
	DimSchemaSafety  Dimension = "storage-schema-safety"
	DimAccessibility Dimension = "accessibility"
)

// Dimensions returns every dimension in stable order.
func Dimensions() []Dimension {
	return []Dimension{
		DimFunctionality, DimTestCoverage, DimUICoverage, DimVisual,
		DimDataFlow, DimNamingStyle, DimIntegration, DimCodeQuality,
		DimSchemaSafety, DimAccessibility,
	}
}

// defaultWeights sums to 1.0.
var defaultWeights = map[Dimension]float64{
	DimFunctionality: 0.20,
	DimTestCoverage:  0.15,
	DimUICoverage:    0.10,
	DimVisual:        0.10,
	DimDataFlow:      0.10,
	DimNamingStyle:   0.05,
	DimIntegration:   0.10,
	DimCodeQuality:   0.10,
	DimSchemaSafety:  0.05,
	DimAccessibility: 0.05,
}

// responsibleRoles maps a failing dimension to the role(s) that own the fix.
var responsibleRoles = map[Dimension][]request.Role{
	DimFunctionality: {request.RoleBuilder},
	DimTestCoverage:  {request.RoleBuilder},
	DimUICoverage:    {request.RoleUIBuilder},
	DimVisual:        {request.RoleUIBuilder},
	DimDataFlow:      {request.RoleBuilder, request.RoleIntegrator},
	DimNamingStyle:   {request.RoleBuilder},
	DimIntegration:   {request.RoleIntegrator},
	DimCodeQuality:   {request.RoleBuilder},
	DimSchemaSafety:  {request.RoleArchitect},
	DimAccessibility: {request.RoleUIBuilder},
}

// fixInstructions holds the concrete per-dimension fix instruction. The
// fix-set never says "redo everything".
var fixInstructions = map[Dimension]string{
	DimFunctionality: "re-verify the failing acceptance checks and fix the specific broken behaviors",
	DimTestCoverage:  "add automated tests for the uncovered paths until coverage clears the minimum",
	DimUICoverage:    "add interactive-UI checks for the untested flows",
	DimVisual:        "fix the reported visual findings and re-capture the affected screens",
	DimDataFlow:      "trace the reported data-flow breaks end to end and repair the handoffs",
	DimNamingStyle:   "rename the flagged identifiers to match the declared conventions",
	DimIntegration:   "repair the reported cross-feature integration breaks",
	DimCodeQuality:   "address the specific code-quality findings (no broad rewrite)",
	DimSchemaSafety:  "make the flagged schema changes backward-safe (additive migration)",
	DimAccessibility: "fix the reported accessibility violations on the affected elements",
}

// DimensionScore is one dimension's contribution.
type DimensionScore struct {
	Weight      float64 `json:"weight"`
	Value       float64 `json:"value"`
	InstantFail bool    `json:"instant_fail"`
}

// Decision is the scorer's verdict.
type Decision string

const (
	DecisionShip          Decision = "ship"
	DecisionIterate       Decision = "iterate"
	DecisionShipWithNotes Decision = "ship-with-notes"
)

// FixItem is one entry of the minimal fix-set: a failing dimension mapped to
// the responsible role(s) with a concrete instruction.
type FixItem struct {
	Dimension   Dimension      `json:"dimension"`
	Value       float64        `json:"value"`
	Roles       []request.Role `json:"roles"`
	Instruction string         `json:"instruction"`
}

// QualityScore is the computed result for one scoring pass.
type QualityScore struct {
	Dimensions map[Dimension]DimensionScore `json:"dimensions"`
	Overall    float64                      `json:"overall"`
	Threshold  float64                      `json:"threshold"`
	Decision   Decision                     `json:"decision"`

	// InstantFailReason names the specific gate when Overall was forced to 0.
	InstantFailReason string `json:"instant_fail_reason,omitempty"`

	// LowConfidence marks a decision made without a historical benchmark,
	// so the fixed default threshold was used.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// FixSet lists only the failing dimensions when Decision is Iterate.
	FixSet []FixItem `json:"fix_set,omitempty"`

	Iteration int `json:"iteration"`
}

// Benchmarks supplies historical percentile thresholds. Available is false in
// degraded (local-only) mode when no cross-run history exists.
type Benchmarks struct {
	P50       float64
	P75       float64
	Available bool
}
