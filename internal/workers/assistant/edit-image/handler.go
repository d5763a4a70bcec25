// internal/workers/assistant/edit-image/handler.go
package editimage

import (
	"context"
	"encoding/json"
	"fmt"

	errs "construction-estimator/internal/common/errors"
	"construction-estimator/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "edit-site-image"
)

// Handler answers image edit requests with an "unsupported" result. It holds
// no network client.
type Handler struct {
	config       *Config
	errorHandler *errs.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
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

	output := h.execute(ctx, &input)
	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(_ context.Context, input *Input) *Output {
	unsupported := errs.NewImageEditUnsupportedError()

	h.logger.Warn("image editing requested but not available", map[string]interface{}{
		"mimeType":       input.MimeType,
		"imageBytes":     len(input.Image),
		"hasInstruction": input.Instruction != "",
	})

	return &Output{
		Image:     "",
		Supported: false,
		ErrorCode: string(unsupported.Code),
		Message:   unsupported.Message,
	}
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

// Execute never fails.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input), nil
}
