// internal/workers/estimation/check-feasibility/models.go
package checkfeasibility

import (
	"strings"

	"construction-estimator/internal/models"
)

type Input struct {
	models.ProjectInputs
}

type Output struct {
	models.FeasibilityResult
}

// feasibilityReply mirrors the model's JSON; pointers tell absent from zero.
type feasibilityReply struct {
	IsValid       *bool    `json:"isValid"`
	BudgetVerdict *string  `json:"budgetVerdict"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
}

func (r feasibilityReply) toResult() models.FeasibilityResult {
	result := models.NewFeasibilityResult()
	if r.IsValid != nil {
		result.IsValid = *r.IsValid
	}
	if r.BudgetVerdict != nil {
		result.BudgetVerdict = parseVerdict(*r.BudgetVerdict)
	}
	if r.Issues != nil {
		result.Issues = r.Issues
	}
	if r.Suggestions != nil {
		result.Suggestions = r.Suggestions
	}
	return result
}

// parseVerdict accepts any casing; unknown values fall back to Insufficient.
func parseVerdict(s string) models.BudgetVerdict {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.BudgetInsufficient
	}
	if v := models.BudgetVerdict(strings.ToUpper(s[:1]) + strings.ToLower(s[1:])); v.Valid() {
		return v
	}
	return models.BudgetInsufficient
}
