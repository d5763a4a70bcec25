// internal/workers/estimation/generate-estimate/handler.go
package generateestimate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"construction-estimator/internal/common/database"
	errs "construction-estimator/internal/common/errors"
	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/llmjson"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/common/metrics"
	"construction-estimator/internal/common/notify"
	"construction-estimator/internal/common/validation"
	"construction-estimator/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType = "generate-construction-estimate"
)

var (
	ErrEstimateFailed      = errors.New("GENAI_REQUEST_FAILED")
	ErrEstimateUnparseable = errors.New("ESTIMATE_PARSE_FAILED")
	ErrEstimateInvalid     = errors.New("ESTIMATE_SHAPE_INVALID")
	ErrEstimateStoreFailed = errors.New("ESTIMATE_STORE_FAILED")
)

const insertEstimateQuery = `
INSERT INTO construction_estimates
	(id, cache_key, project_type, location, currency, total_cost, confidence_score, inputs, result, model)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Completer is the slice of the GenAI client this worker needs.
type Completer interface {
	Complete(ctx context.Context, req genai.Request) (string, error)
}

// Notifier announces freshly generated estimates.
type Notifier interface {
	PublishEstimateReady(ctx context.Context, event notify.EstimateReady) (string, error)
}

type Handler struct {
	config       *Config
	genai        Completer
	redis        *redis.Client
	db           *sql.DB
	notifier     Notifier
	schema       *validation.Schema
	errorHandler *errs.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
	newID        func() string
}

type HandlerOptions struct {
	Config   *Config
	GenAI    Completer
	Redis    *redis.Client
	DB       *sql.DB
	Notifier Notifier
	Logger   logger.Logger
}

// NewHandler wires the worker. Redis, DB and Notifier are optional.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	schema, err := validation.EstimateSchema()
	if err != nil {
		return nil, fmt.Errorf("load estimate schema: %w", err)
	}

	log := opts.Logger.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       opts.Config,
		genai:        opts.GenAI,
		redis:        opts.Redis,
		db:           opts.DB,
		notifier:     opts.Notifier,
		schema:       schema,
		errorHandler: errs.NewErrorHandler(log),
		logger:       log,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}, nil
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

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	key := h.config.CachePrefix + input.Fingerprint()

	if cached, ok := h.lookupCache(ctx, key); ok {
		return &Output{
			Estimate:    cached.Estimate,
			EstimateID:  cached.EstimateID,
			Cached:      true,
			GeneratedAt: cached.GeneratedAt,
		}, nil
	}

	estimate, err := h.generate(ctx, &input.ProjectInputs)
	if err != nil {
		return nil, err
	}

	generatedAt := h.now()
	estimateID := ""
	if h.config.Persist && h.db != nil {
		id := h.newID()
		if err := h.store(ctx, id, key, &input.ProjectInputs, estimate); err != nil {
			h.logger.Warn("estimate not persisted", map[string]interface{}{
				"cacheKey": key,
				"error":    err.Error(),
			})
		} else {
			estimateID = id
		}
	}

	h.writeCache(ctx, key, cachedEstimate{
		EstimateID:  estimateID,
		Estimate:    *estimate,
		GeneratedAt: generatedAt.Format(time.RFC3339),
	})

	h.announce(ctx, estimateID, &input.ProjectInputs, estimate, generatedAt)

	h.logger.Info("estimate generated", map[string]interface{}{
		"estimateId":      estimateID,
		"totalCost":       estimate.TotalCost.String(),
		"confidenceScore": estimate.ConfidenceScore,
		"cashflowMonths":  len(estimate.Cashflow),
	})

	return &Output{
		Estimate:    *estimate,
		EstimateID:  estimateID,
		GeneratedAt: generatedAt.Format(time.RFC3339),
	}, nil
}

// generate calls the model and returns an estimate that passed the schema
// and the cashflow length check. Every failure propagates.
func (h *Handler) generate(ctx context.Context, p *models.ProjectInputs) (*models.EstimationResult, error) {
	text, err := h.genai.Complete(ctx, genai.Request{
		Messages:     []genai.Message{{Role: genai.RoleUser, Content: buildPrompt(p)}},
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstimateFailed, err)
	}

	var raw json.RawMessage
	if err := llmjson.Decode(text, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimateUnparseable, err)
	}

	if err := h.schema.ValidateBytes(raw).Err(); err != nil {
		return nil, fmt.Errorf("%w: %s schema: %v", ErrEstimateInvalid, h.schema.Name(), err)
	}

	var estimate models.EstimationResult
	if err := json.Unmarshal(raw, &estimate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimateInvalid, err)
	}

	if len(estimate.Cashflow) != p.TimelineMonths {
		return nil, fmt.Errorf("%w: cashflow has %d entries, expected %d", ErrEstimateInvalid, len(estimate.Cashflow), p.TimelineMonths)
	}

	h.checkTotals(&estimate)

	return &estimate, nil
}

// checkTotals logs when the line items or the cashflow don't add up to the
// headline figure. The model's arithmetic is not trusted but not rejected either.
func (h *Handler) checkTotals(e *models.EstimationResult) {
	if breakdown := e.BreakdownTotal(); len(e.Breakdown) > 0 && !breakdown.Equal(e.TotalCost) {
		h.logger.Warn("breakdown does not sum to total cost", map[string]interface{}{
			"totalCost":      e.TotalCost.String(),
			"breakdownTotal": breakdown.String(),
		})
	}
	if cashflow := e.CashflowTotal(); len(e.Cashflow) > 0 && !cashflow.Equal(e.TotalCost) {
		h.logger.Warn("cashflow does not sum to total cost", map[string]interface{}{
			"totalCost":     e.TotalCost.String(),
			"cashflowTotal": cashflow.String(),
		})
	}
}

func (h *Handler) lookupCache(ctx context.Context, key string) (*cachedEstimate, bool) {
	if !h.config.CacheEnabled || h.redis == nil {
		return nil, false
	}

	var cached cachedEstimate
	found, err := database.GetJSON(ctx, h.redis, key, &cached)
	if err != nil {
		metrics.EstimateCacheLookups.WithLabelValues("error").Inc()
		h.logger.Warn("estimate cache lookup failed", map[string]interface{}{
			"cacheKey": key,
			"error":    err.Error(),
		})
		return nil, false
	}
	if !found {
		metrics.EstimateCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.EstimateCacheLookups.WithLabelValues("hit").Inc()
	h.logger.Info("estimate served from cache", map[string]interface{}{"cacheKey": key})
	return &cached, true
}

func (h *Handler) writeCache(ctx context.Context, key string, value cachedEstimate) {
	if !h.config.CacheEnabled || h.redis == nil {
		return
	}
	if err := database.SetJSON(ctx, h.redis, key, value, h.config.CacheTTL); err != nil {
		h.logger.Warn("estimate cache write failed", map[string]interface{}{
			"cacheKey": key,
			"error":    err.Error(),
		})
	}
}

func (h *Handler) store(ctx context.Context, id, key string, p *models.ProjectInputs, estimate *models.EstimationResult) error {
	inputsJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode inputs: %v", ErrEstimateStoreFailed, err)
	}
	resultJSON, err := json.Marshal(estimate)
	if err != nil {
		return fmt.Errorf("%w: encode estimate: %v", ErrEstimateStoreFailed, err)
	}

	_, err = h.db.ExecContext(ctx, insertEstimateQuery,
		id,
		key,
		p.ProjectType,
		p.Location,
		estimate.Currency,
		estimate.TotalCost.String(),
		estimate.ConfidenceScore,
		string(inputsJSON),
		string(resultJSON),
		h.config.Model,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEstimateStoreFailed, err)
	}
	return nil
}

func (h *Handler) announce(ctx context.Context, id string, p *models.ProjectInputs, estimate *models.EstimationResult, at time.Time) {
	if h.notifier == nil {
		return
	}
	_, err := h.notifier.PublishEstimateReady(ctx, notify.EstimateReady{
		EstimateID:  id,
		ProjectType: p.ProjectType,
		Location:    p.Location,
		Currency:    estimate.Currency,
		TotalCost:   estimate.TotalCost,
		GeneratedAt: at,
	})
	if err != nil {
		h.logger.Warn("estimate notification failed", map[string]interface{}{
			"estimateId": id,
			"error":      err.Error(),
		})
	}
}

func buildPrompt(p *models.ProjectInputs) string {
	var parts []string

	parts = append(parts, "You are a senior construction cost estimator. Produce a detailed cost and schedule estimate for the project below.")

	parts = append(parts, "\nProject details:")
	parts = append(parts, fmt.Sprintf("- Project type: %s", p.ProjectType))
	parts = append(parts, fmt.Sprintf("- Location: %s", p.Location))
	parts = append(parts, fmt.Sprintf("- Size: %s %s", strconv.FormatFloat(p.Size, 'f', -1, 64), p.SizeUnit))
	parts = append(parts, fmt.Sprintf("- Budget: %s", p.Budget.String()))
	parts = append(parts, fmt.Sprintf("- Quality tier: %s", p.QualityTier))
	parts = append(parts, fmt.Sprintf("- Timeline: %d months", p.TimelineMonths))
	parts = append(parts, fmt.Sprintf("- Manpower: %d workers", p.Manpower))

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Use current material and labour rates for the location and the stated quality tier.")
	parts = append(parts, "- Derive labour cost from the crew size, the timeline and typical productivity rates.")
	parts = append(parts, "- Break the total into cost categories; the breakdown must add up to totalCost.")
	parts = append(parts, fmt.Sprintf("- Provide a monthly cashflow with exactly %d entries, months numbered from 1, each labelled with its construction phase.", p.TimelineMonths))
	parts = append(parts, "- List the main risks with impact Low, Medium or High and a mitigation for each.")
	parts = append(parts, "- Give a confidence score from 0 to 100 with a short reason, efficiency tips and a one-paragraph summary.")
	parts = append(parts, "- Use plain numbers for every amount, without currency symbols or thousands separators.")

	parts = append(parts, "\nRespond with a single JSON object and nothing else, in exactly this shape:")
	parts = append(parts, `{"currency": "$", "totalCost": 0, "breakdown": [{"category": "", "cost": 0, "description": ""}], "cashflow": [{"month": 1, "amount": 0, "phase": ""}], "risks": [{"description": "", "impact": "Low"|"Medium"|"High", "mitigation": ""}], "confidenceScore": 0, "confidenceReason": "", "efficiencyTips": [""], "summary": ""}`)

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
