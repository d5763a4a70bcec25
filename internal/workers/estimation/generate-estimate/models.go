// internal/workers/estimation/generate-estimate/models.go
package generateestimate

import (
	"construction-estimator/internal/models"
)

type Input struct {
	models.ProjectInputs
}

type Output struct {
	Estimate    models.EstimationResult `json:"estimate"`
	EstimateID  string                  `json:"estimateId"`
	Cached      bool                    `json:"cached"`
	GeneratedAt string                  `json:"generatedAt"`
}

// cachedEstimate is the value stored under the inputs fingerprint.
type cachedEstimate struct {
	EstimateID  string                  `json:"estimateId"`
	Estimate    models.EstimationResult `json:"estimate"`
	GeneratedAt string                  `json:"generatedAt"`
}
