// internal/common/genai/errors.go
package genai

import (
	"encoding/json"
	"fmt"
	"strings"

	"construction-estimator/internal/common/llmjson"
)

// APIError is a non-2xx reply (or an error envelope) from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("genai request: http %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("genai request: http %d: %s", e.StatusCode, e.Message)
}

type apiErrorBody struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

func (b *apiErrorBody) toAPIError(status int) *APIError {
	return &APIError{
		StatusCode: status,
		Code:       rawCode(b.Code),
		Type:       b.Type,
		Message:    strings.TrimSpace(b.Message),
	}
}

func newAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error *apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error.toAPIError(status)
	}
	return &APIError{
		StatusCode: status,
		Message:    llmjson.Snippet(string(body)),
	}
}

// rawCode accepts both string and numeric error codes.
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
