// internal/models/estimate.go
package models

import "github.com/shopspring/decimal"

// Money crosses job variables, the cache and SNS as plain JSON numbers.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type RiskImpact string

const (
	ImpactLow    RiskImpact = "Low"
	ImpactMedium RiskImpact = "Medium"
	ImpactHigh   RiskImpact = "High"
)

type CostItem struct {
	Category    string          `json:"category"`
	Cost        decimal.Decimal `json:"cost"`
	Description string          `json:"description"`
}

type CashflowEntry struct {
	Month  int             `json:"month"`
	Amount decimal.Decimal `json:"amount"`
	Phase  string          `json:"phase"`
}

type Risk struct {
	Description string     `json:"description"`
	Impact      RiskImpact `json:"impact"`
	Mitigation  string     `json:"mitigation"`
}

// EstimationResult is the model-generated cost and schedule estimate.
type EstimationResult struct {
	Currency         string          `json:"currency"`
	TotalCost        decimal.Decimal `json:"totalCost"`
	Breakdown        []CostItem      `json:"breakdown"`
	Cashflow         []CashflowEntry `json:"cashflow"`
	Risks            []Risk          `json:"risks"`
	ConfidenceScore  float64         `json:"confidenceScore"`
	ConfidenceReason string          `json:"confidenceReason"`
	EfficiencyTips   []string        `json:"efficiencyTips"`
	Summary          string          `json:"summary"`
}

// CashflowTotal sums the monthly amounts.
func (e EstimationResult) CashflowTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range e.Cashflow {
		total = total.Add(c.Amount)
	}
	return total
}

// BreakdownTotal sums the line items.
func (e EstimationResult) BreakdownTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range e.Breakdown {
		total = total.Add(item.Cost)
	}
	return total
}
