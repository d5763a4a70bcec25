// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"construction-estimator/internal/common/genai"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeGenAIRateLimited     ErrorCode = "GENAI_RATE_LIMITED"
	ErrCodeGenAIRequestFailed   ErrorCode = "GENAI_REQUEST_FAILED"
	ErrCodeGenAITimeout         ErrorCode = "GENAI_TIMEOUT"
	ErrCodeEstimateParseFailed  ErrorCode = "ESTIMATE_PARSE_FAILED"
	ErrCodeEstimateShapeInvalid ErrorCode = "ESTIMATE_SHAPE_INVALID"
	ErrCodeEstimateStoreFailed  ErrorCode = "ESTIMATE_STORE_FAILED"
	ErrCodeChatRelayFailed      ErrorCode = "CHAT_RELAY_FAILED"
	ErrCodeInvalidJobInput      ErrorCode = "INVALID_JOB_INPUT"
	ErrCodeImageEditUnsupported ErrorCode = "IMAGE_EDIT_UNSUPPORTED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var knownCodes = []ErrorCode{
	ErrCodeGenAIRateLimited,
	ErrCodeGenAIRequestFailed,
	ErrCodeGenAITimeout,
	ErrCodeEstimateParseFailed,
	ErrCodeEstimateShapeInvalid,
	ErrCodeEstimateStoreFailed,
	ErrCodeChatRelayFailed,
	ErrCodeInvalidJobInput,
	ErrCodeImageEditUnsupported,
}

var codeMessages = map[ErrorCode]string{
	ErrCodeGenAIRateLimited:     "Model provider kept rate limiting the request",
	ErrCodeGenAIRequestFailed:   "Model provider request failed",
	ErrCodeGenAITimeout:         "Model provider request timed out",
	ErrCodeEstimateParseFailed:  "Model reply could not be parsed as an estimate",
	ErrCodeEstimateShapeInvalid: "Model reply does not match the estimate shape",
	ErrCodeEstimateStoreFailed:  "Estimate could not be stored",
	ErrCodeChatRelayFailed:      "Assistant reply could not be obtained",
	ErrCodeInvalidJobInput:      "Job variables are invalid",
	ErrCodeImageEditUnsupported: "Image editing is not available",
	ErrCodeInternal:             "Unexpected error",
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// New builds a StandardError for code with its canonical message.
func New(code ErrorCode, details string) *StandardError {
	message, ok := codeMessages[code]
	if !ok {
		message = codeMessages[ErrCodeInternal]
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: IsRetryableErrorCode(code),
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidJobInputError(err error) *StandardError {
	return New(ErrCodeInvalidJobInput, err.Error())
}

func NewImageEditUnsupportedError() *StandardError {
	return New(ErrCodeImageEditUnsupported, "no image editing backend is configured")
}

// Classify maps a handler error onto the taxonomy. Deadline and rate-limit
// conditions win over the sentinel a handler wrapped them in.
func Classify(err error) *StandardError {
	if err == nil {
		return nil
	}

	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeGenAITimeout, err.Error())
	case genai.IsRateLimited(err):
		return New(ErrCodeGenAIRateLimited, err.Error())
	}

	if code, ok := codeInChain(err); ok {
		return New(code, err.Error())
	}

	var apiErr *genai.APIError
	if stderrors.As(err, &apiErr) {
		return New(ErrCodeGenAIRequestFailed, err.Error())
	}

	return New(ErrCodeInternal, err.Error())
}

// codeInChain finds a sentinel such as errors.New("ESTIMATE_SHAPE_INVALID")
// anywhere in the wrap chain.
func codeInChain(err error) (ErrorCode, bool) {
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		msg := e.Error()
		for _, code := range knownCodes {
			if msg == string(code) {
				return code, true
			}
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if code, ok := codeInChain(inner); ok {
					return code, true
				}
			}
		}
	}
	return "", false
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns how many zeebe-level retries a code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeGenAIRequestFailed,
		ErrCodeChatRelayFailed,
		ErrCodeEstimateStoreFailed:
		return 3

	case ErrCodeGenAIRateLimited:
		return 2 // client backoff already spent ~62s

	case ErrCodeGenAITimeout,
		ErrCodeEstimateParseFailed,
		ErrCodeEstimateShapeInvalid:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"errorCategory":     GetErrorCategory(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "GENAI") || strings.Contains(codeStr, "CHAT"):
		return "AI"
	case strings.Contains(codeStr, "STORE"):
		return "DATABASE"
	case strings.HasPrefix(codeStr, "ESTIMATE"):
		return "ESTIMATE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "UNSUPPORTED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
