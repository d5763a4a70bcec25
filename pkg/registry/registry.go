// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	errs "construction-estimator/internal/common/errors"
	ac "construction-estimator/internal/workers/assistant/chat"
	ei "construction-estimator/internal/workers/assistant/edit-image"
	cf "construction-estimator/internal/workers/estimation/check-feasibility"
	ge "construction-estimator/internal/workers/estimation/generate-estimate"
)

const (
	StatusCompleted = "completed"
	StatusStub      = "stub"
)

var projectInputFields = []string{
	"projectType", "location", "size", "sizeUnit", "budget", "qualityTier", "timelineMonths", "manpower",
}

// Default returns the catalogue of task types served by this module.
func Default() *ActivityRegistry {
	return &ActivityRegistry{
		Version:     "1.0.0",
		LastUpdated: "2026-10-19",
		Activities: []Activity{
			{
				ID:                   cf.TaskType,
				DisplayName:          "Check Project Feasibility",
				Description:          "Asks the model whether budget, timeline and crew are realistic; falls back to an Insufficient verdict on any failure.",
				Category:             "estimation",
				Version:              "1.0.0",
				TaskType:             cf.TaskType,
				ImplementationStatus: StatusCompleted,
				Inputs:               projectInputFields,
				Outputs:              []string{"isValid", "budgetVerdict", "issues", "suggestions"},
				ErrorCodes:           []string{string(errs.ErrCodeInvalidJobInput)},
				Timeout:              cf.LoadConfig().Timeout.String(),
				Retries:              errs.GetRetryCount(errs.ErrCodeInvalidJobInput),
				Tags:                 []string{"genai", "fallback"},
			},
			{
				ID:                   ge.TaskType,
				DisplayName:          "Generate Construction Estimate",
				Description:          "Produces a schema-validated cost breakdown, monthly cashflow, risks and confidence score.",
				Category:             "estimation",
				Version:              "1.0.0",
				TaskType:             ge.TaskType,
				ImplementationStatus: StatusCompleted,
				Inputs:               projectInputFields,
				Outputs:              []string{"estimate", "estimateId", "cached", "generatedAt"},
				ErrorCodes: []string{
					string(errs.ErrCodeGenAIRequestFailed),
					string(errs.ErrCodeGenAIRateLimited),
					string(errs.ErrCodeGenAITimeout),
					string(errs.ErrCodeEstimateParseFailed),
					string(errs.ErrCodeEstimateShapeInvalid),
					string(errs.ErrCodeInvalidJobInput),
				},
				Timeout: ge.LoadConfig().Timeout.String(),
				Retries: errs.GetRetryCount(errs.ErrCodeGenAIRequestFailed),
				Tags:    []string{"genai", "redis", "postgres", "sns"},
			},
			{
				ID:                   ac.TaskType,
				DisplayName:          "Assistant Chat",
				Description:          "Relays a chat turn with its history to the model and returns the reply text.",
				Category:             "assistant",
				Version:              "1.0.0",
				TaskType:             ac.TaskType,
				ImplementationStatus: StatusCompleted,
				Inputs:               []string{"history", "message"},
				Outputs:              []string{"reply"},
				ErrorCodes: []string{
					string(errs.ErrCodeChatRelayFailed),
					string(errs.ErrCodeGenAIRateLimited),
					string(errs.ErrCodeGenAITimeout),
					string(errs.ErrCodeInvalidJobInput),
				},
				Timeout: ac.LoadConfig().Timeout.String(),
				Retries: errs.GetRetryCount(errs.ErrCodeChatRelayFailed),
				Tags:    []string{"genai"},
			},
			{
				ID:                   ei.TaskType,
				DisplayName:          "Edit Site Image",
				Description:          "Placeholder for site photo editing; always reports that the feature is unavailable.",
				Category:             "assistant",
				Version:              "0.1.0",
				TaskType:             ei.TaskType,
				ImplementationStatus: StatusStub,
				Inputs:               []string{"image", "mimeType", "instruction"},
				Outputs:              []string{"image", "supported", "errorCode", "message"},
				ErrorCodes:           []string{string(errs.ErrCodeImageEditUnsupported)},
				Timeout:              ei.LoadConfig().Timeout.String(),
				Retries:              0,
				Tags:                 []string{"stub"},
			},
		},
	}
}

// LoadRegistry reads a registry previously written with Save.
func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return &reg, reg.Validate()
}

func (r *ActivityRegistry) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Find returns the activity serving taskType.
func (r *ActivityRegistry) Find(taskType string) (Activity, bool) {
	for _, a := range r.Activities {
		if a.TaskType == taskType {
			return a, true
		}
	}
	return Activity{}, false
}

// Validate checks that IDs and task types are present and unique.
func (r *ActivityRegistry) Validate() error {
	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for i, a := range r.Activities {
		if a.ID == "" || a.TaskType == "" {
			return fmt.Errorf("activity %d: id and taskType are required", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate activity id %q", a.ID)
		}
		if taskTypes[a.TaskType] {
			return fmt.Errorf("duplicate task type %q", a.TaskType)
		}
		ids[a.ID] = true
		taskTypes[a.TaskType] = true
	}
	return nil
}
