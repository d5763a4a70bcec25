// internal/workers/assistant/chat/handler.go
package assistantchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	errs "construction-estimator/internal/common/errors"
	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "assistant-chat"
)

var (
	ErrChatRelayFailed = errors.New("CHAT_RELAY_FAILED")
)

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

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	requestID := uuid.NewString()
	messages := BuildMessages(input.History, input.Message)

	h.logger.Debug("relaying chat message", map[string]interface{}{
		"requestId": requestID,
		"turns":     len(messages),
	})

	reply, err := h.genai.Complete(ctx, genai.Request{Messages: messages})
	if err != nil {
		h.logger.Warn("chat relay failed", map[string]interface{}{
			"requestId": requestID,
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrChatRelayFailed, err)
	}

	h.logger.Info("chat reply received", map[string]interface{}{
		"requestId": requestID,
		"replyLen":  len(reply),
	})

	return &Output{Reply: reply}, nil
}

// BuildMessages maps the two-party history onto completion roles and appends
// the new message as the final user turn.
func BuildMessages(history []models.ChatMessage, message string) []genai.Message {
	messages := make([]genai.Message, 0, len(history)+1)
	for _, m := range history {
		role := genai.RoleUser
		if strings.EqualFold(string(m.Role), string(models.ChatRoleModel)) {
			role = genai.RoleAssistant
		}
		messages = append(messages, genai.Message{Role: role, Content: m.Text})
	}
	return append(messages, genai.Message{Role: genai.RoleUser, Content: message})
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
