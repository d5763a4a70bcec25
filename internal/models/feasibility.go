// internal/models/feasibility.go
package models

type BudgetVerdict string

const (
	BudgetRealistic    BudgetVerdict = "Realistic"
	BudgetInsufficient BudgetVerdict = "Insufficient"
	BudgetExcessive    BudgetVerdict = "Excessive"
)

func (v BudgetVerdict) Valid() bool {
	switch v {
	case BudgetRealistic, BudgetInsufficient, BudgetExcessive:
		return true
	}
	return false
}

// FeasibilityFallbackIssue is reported when the check itself could not run.
const FeasibilityFallbackIssue = "Unable to verify project feasibility at this time. Please try again."

type FeasibilityResult struct {
	IsValid       bool          `json:"isValid"`
	BudgetVerdict BudgetVerdict `json:"budgetVerdict"`
	Issues        []string      `json:"issues"`
	Suggestions   []string      `json:"suggestions"`
}

// NewFeasibilityResult returns the defaults applied to absent fields.
func NewFeasibilityResult() FeasibilityResult {
	return FeasibilityResult{
		IsValid:       false,
		BudgetVerdict: BudgetInsufficient,
		Issues:        []string{},
		Suggestions:   []string{},
	}
}

// FeasibilityFallback is returned whenever the check fails for any reason.
func FeasibilityFallback() FeasibilityResult {
	r := NewFeasibilityResult()
	r.Issues = []string{FeasibilityFallbackIssue}
	return r
}
