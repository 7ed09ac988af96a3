package policy

import (
	"fmt"
	"time"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not fail
	// validation.
	SeverityWarning Severity = "warning"

	// SeverityError fails validation.
	SeverityError Severity = "error"

	// SeverityCritical fails validation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity fail validation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Category is the validation report category policy findings are filed under.
const Category = "policy"

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code. The module must define a `deny`
	// set whose members are strings or objects with message, severity and
	// subject keys.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from. Built-in policies have
	// none.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Subject names the offending part of the configuration, such as a
	// network key or a provisioner name.
	Subject string `json:"subject,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity" yaml:"severity"`
}

func (v Violation) String() string {
	if v.Subject != "" {
		return fmt.Sprintf("[%s] %s: %s", v.Policy, v.Subject, v.Message)
	}
	return fmt.Sprintf("[%s] %s", v.Policy, v.Message)
}

// Result represents the result of evaluating all enabled policies against
// one machine.
type Result struct {
	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists findings that don't fail validation.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	Duration time.Duration `json:"duration"`
}

// Allowed reports whether no blocking violation was found.
func (r *Result) Allowed() bool {
	return len(r.Violations) == 0
}

// Errors returns the blocking violations as a validation report with a single
// policy category.
func (r *Result) Errors() vmconfig.Errors {
	var errs vmconfig.Errors
	for _, v := range r.Violations {
		errs.Add(Category, v.String())
	}
	return errs
}

// Input is the document policies see as `input`.
type Input struct {
	Machine         string                   `json:"machine"`
	Provider        string                   `json:"provider"`
	VM              map[string]interface{}   `json:"vm"`
	Networks        []map[string]interface{} `json:"networks"`
	SyncedFolders   []map[string]interface{} `json:"synced_folders"`
	Provisioners    []map[string]interface{} `json:"provisioners"`
	ProviderOptions map[string]interface{}   `json:"provider_options"`
}
