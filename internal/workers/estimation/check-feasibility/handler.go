// internal/workers/estimation/check-feasibility/handler.go
package checkfeasibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	errs "construction-estimator/internal/common/errors"
	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/llmjson"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/common/metrics"
	"construction-estimator/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "check-project-feasibility"
)

var errNullReply = errors.New("feasibility reply is null")

// Completer is the slice of the GenAI client this worker needs.
type Completer interface {
	Complete(ctx context.Context, req genai.Request) (string, error)
}

type Handler struct {
	config       *Config
	genai        Completer
	errorHandler *errs.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, client Completer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		genai:        client,
		errorHandler: errs.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, errs.NewInvalidJobInputError(fmt.Errorf("parse input: %w", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

// execute never fails on provider or parse problems; those yield the fallback verdict.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.check(ctx, &input.ProjectInputs)
	if err != nil {
		metrics.FeasibilityFallbacks.Inc()
		h.logger.Warn("feasibility check failed, returning fallback", map[string]interface{}{
			"projectType": input.ProjectType,
			"error":       err.Error(),
		})
		return &Output{FeasibilityResult: models.FeasibilityFallback()}, nil
	}

	h.logger.Info("feasibility check completed", map[string]interface{}{
		"isValid":       result.IsValid,
		"budgetVerdict": string(result.BudgetVerdict),
		"issueCount":    len(result.Issues),
	})

	return &Output{FeasibilityResult: result}, nil
}

func (h *Handler) check(ctx context.Context, p *models.ProjectInputs) (models.FeasibilityResult, error) {
	text, err := h.genai.Complete(ctx, genai.Request{
		Messages:     []genai.Message{{Role: genai.RoleUser, Content: buildPrompt(p)}},
		JSONResponse: true,
	})
	if err != nil {
		return models.FeasibilityResult{}, err
	}

	var reply *feasibilityReply
	if err := llmjson.Decode(text, &reply); err != nil {
		return models.FeasibilityResult{}, err
	}
	if reply == nil {
		return models.FeasibilityResult{}, errNullReply
	}
	return reply.toResult(), nil
}

func buildPrompt(p *models.ProjectInputs) string {
	var parts []string

	parts = append(parts, "You are a construction feasibility analyst. Review the project below and decide whether it can realistically be delivered as described.")

	parts = append(parts, "\nProject details:")
	parts = append(parts, fmt.Sprintf("- Project type: %s", p.ProjectType))
	parts = append(parts, fmt.Sprintf("- Location: %s", p.Location))
	parts = append(parts, fmt.Sprintf("- Size: %s %s", strconv.FormatFloat(p.Size, 'f', -1, 64), p.SizeUnit))
	parts = append(parts, fmt.Sprintf("- Budget: %s", p.Budget.String()))
	parts = append(parts, fmt.Sprintf("- Quality tier: %s", p.QualityTier))
	parts = append(parts, fmt.Sprintf("- Timeline: %d months", p.TimelineMonths))
	parts = append(parts, fmt.Sprintf("- Manpower: %d workers", p.Manpower))

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Compare the budget with typical costs for this project type, size, quality tier and location.")
	parts = append(parts, "- Classify the budget as Realistic, Insufficient or Excessive.")
	parts = append(parts, "- Flag a timeline or crew size that is implausible for the scope.")
	parts = append(parts, "- List concrete issues and actionable suggestions; use empty lists when there are none.")

	parts = append(parts, "\nRespond with a single JSON object and nothing else, in exactly this shape:")
	parts = append(parts, `{"isValid": true|false, "budgetVerdict": "Realistic"|"Insufficient"|"Excessive", "issues": ["..."], "suggestions": ["..."]}`)

	return strings.Join(parts, "\n")
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
