package compliance

import "time"

// Priority ranks how severe an unmet requirement is for reporting purposes.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ViolationKind classifies why a requirement check failed.
type ViolationKind string

const (
	// ViolationMissingArtifact marks a requirement whose target artifact is absent.
	ViolationMissingArtifact ViolationKind = "missing_artifact"
	// ViolationBaselineMismatch marks an artifact that no longer satisfies the
	// contracted baseline check.
	ViolationBaselineMismatch ViolationKind = "baseline_mismatch"
	// ViolationUnauthorizedReuse marks fingerprint-detected reuse of the
	// project's artifacts outside the agreement.
	ViolationUnauthorizedReuse ViolationKind = "unauthorized_reuse"
)

// Requirement is one named check from the contracted specification baseline.
// An artifact satisfies the check when it exists and, if Pattern is set,
// contains the pattern.
type Requirement struct {
	Name            string   `json:"name"`
	Priority        Priority `json:"priority"`
	Artifact        string   `json:"artifact"`
	Pattern         string   `json:"pattern,omitempty"`
	AutoCorrectable bool     `json:"autoCorrectable"`
}

// Violation records a single failed requirement check.
type Violation struct {
	RequirementName string        `json:"requirementName"`
	Kind            ViolationKind `json:"violationKind"`
	AutoCorrectable bool          `json:"autoCorrectable"`
}

// Record is one evaluation of a project's output against its contracted
// baseline. Records are append-only and never mutated after creation.
type Record struct {
	RecordID          string        `json:"recordId"`
	AgreementID       string        `json:"agreementId"`
	EvaluatedAt       time.Time     `json:"evaluatedAt"`
	Requirements      []Requirement `json:"specRequirements"`
	RequirementsMet   int           `json:"requirementsMet"`
	RequirementsTotal int           `json:"requirementsTotal"`
	Score             float64       `json:"complianceScore"`
	Violations        []Violation   `json:"violations"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Requirements != nil {
		clone.Requirements = append([]Requirement(nil), r.Requirements...)
	}
	if r.Violations != nil {
		clone.Violations = append([]Violation(nil), r.Violations...)
	}
	return &clone
}

// ArtifactSet maps artifact paths to their current content.
type ArtifactSet map[string]string
