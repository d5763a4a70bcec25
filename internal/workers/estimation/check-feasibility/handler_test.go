// internal/workers/estimation/check-feasibility/handler_test.go
package checkfeasibility

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

type fakeCompleter struct {
	reply    string
	err      error
	requests []genai.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req genai.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func createTestConfig() *Config {
	return &Config{Timeout: 5 * time.Second}
}

func createTestInput() *Input {
	return &Input{ProjectInputs: models.ProjectInputs{
		ProjectType:    "Commercial Office",
		Location:       "Denver, CO",
		Size:           1250.5,
		SizeUnit:       "sqm",
		Budget:         decimal.NewFromInt(900000),
		QualityTier:    "Premium",
		TimelineMonths: 14,
		Manpower:       30,
	}}
}

func fallback() models.FeasibilityResult {
	return models.FeasibilityResult{
		IsValid:       false,
		BudgetVerdict: models.BudgetInsufficient,
		Issues:        []string{"Unable to verify project feasibility at this time. Please try again."},
		Suggestions:   []string{},
	}
}

// ==========================
// Execute
// ==========================

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		err            error
		expected       models.FeasibilityResult
		validateOutput func(t *testing.T, output *Output)
	}{
		{
			name:  "full reply",
			reply: `{"isValid":true,"budgetVerdict":"Realistic","issues":[],"suggestions":["Lock steel prices early"]}`,
			expected: models.FeasibilityResult{
				IsValid:       true,
				BudgetVerdict: models.BudgetRealistic,
				Issues:        []string{},
				Suggestions:   []string{"Lock steel prices early"},
			},
		},
		{
			name:  "fenced reply",
			reply: "Here you go:\n```json\n{\"isValid\":false,\"budgetVerdict\":\"Excessive\",\"issues\":[\"Budget far above market\"],\"suggestions\":[]}\n```",
			expected: models.FeasibilityResult{
				IsValid:       false,
				BudgetVerdict: models.BudgetExcessive,
				Issues:        []string{"Budget far above market"},
				Suggestions:   []string{},
			},
		},
		{
			name:     "absent fields take defaults",
			reply:    `{}`,
			expected: models.NewFeasibilityResult(),
			validateOutput: func(t *testing.T, output *Output) {
				assert.NotNil(t, output.Issues)
				assert.NotNil(t, output.Suggestions)
			},
		},
		{
			name:  "verdict casing normalised",
			reply: `{"isValid":true,"budgetVerdict":"realistic"}`,
			expected: models.FeasibilityResult{
				IsValid:       true,
				BudgetVerdict: models.BudgetRealistic,
				Issues:        []string{},
				Suggestions:   []string{},
			},
		},
		{
			name:  "unknown verdict",
			reply: `{"isValid":true,"budgetVerdict":"Generous"}`,
			expected: models.FeasibilityResult{
				IsValid:       true,
				BudgetVerdict: models.BudgetInsufficient,
				Issues:        []string{},
				Suggestions:   []string{},
			},
		},
		{
			name:     "malformed json falls back",
			reply:    `{"isValid": tru`,
			expected: fallback(),
		},
		{
			name:     "empty reply falls back",
			reply:    "",
			expected: fallback(),
		},
		{
			name:     "null reply falls back",
			reply:    "null",
			expected: fallback(),
		},
		{
			name:     "fenced null falls back",
			reply:    "```json\nnull\n```",
			expected: fallback(),
		},
		{
			name:     "array reply falls back",
			reply:    `[{"isValid":true}]`,
			expected: fallback(),
		},
		{
			name:     "string reply falls back",
			reply:    `"Realistic"`,
			expected: fallback(),
		},
		{
			name:  "verdict upper case normalised",
			reply: `{"isValid":true,"budgetVerdict":" EXCESSIVE "}`,
			expected: models.FeasibilityResult{
				IsValid:       true,
				BudgetVerdict: models.BudgetExcessive,
				Issues:        []string{},
				Suggestions:   []string{},
			},
		},
		{
			name:     "provider error falls back",
			err:      &genai.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"},
			expected: fallback(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{reply: tt.reply, err: tt.err}
			handler := NewHandler(createTestConfig(), completer, logger.NewTestLogger(t))

			output, err := handler.Execute(context.Background(), createTestInput())

			require.NoError(t, err)
			require.NotNil(t, output)
			assert.Equal(t, tt.expected, output.FeasibilityResult)
			require.Len(t, completer.requests, 1)
			assert.True(t, completer.requests[0].JSONResponse)
			if tt.validateOutput != nil {
				tt.validateOutput(t, output)
			}
		})
	}
}

func TestHandler_Execute_RateLimitExhaustionFallsBack(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	var waited time.Duration
	client := genai.NewClient(genai.Config{
		BaseURL:    srv.URL,
		APIKey:     "k",
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
	}, logger.NewNoOpLogger(), genai.WithSleeper(func(ctx context.Context, d time.Duration) error {
		waited += d
		return nil
	}))

	handler := NewHandler(createTestConfig(), client, logger.NewTestLogger(t))
	output, err := handler.Execute(context.Background(), createTestInput())

	require.NoError(t, err)
	assert.Equal(t, fallback(), output.FeasibilityResult)
	assert.EqualValues(t, 6, atomic.LoadInt32(&calls))
	assert.Equal(t, 62*time.Second, waited)
}

func TestHandler_Execute_ContextCancelledFallsBack(t *testing.T) {
	completer := &fakeCompleter{err: context.DeadlineExceeded}
	handler := NewHandler(createTestConfig(), completer, logger.NewNoOpLogger())

	output, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)
	assert.Equal(t, fallback(), output.FeasibilityResult)
	assert.True(t, errors.Is(completer.err, context.DeadlineExceeded))
}

// ==========================
// Prompt
// ==========================

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(&createTestInput().ProjectInputs)

	for _, want := range []string{
		"Project type: Commercial Office",
		"Location: Denver, CO",
		"Size: 1250.5 sqm",
		"Budget: 900000",
		"Quality tier: Premium",
		"Timeline: 14 months",
		"Manpower: 30 workers",
		"Realistic",
		"Insufficient",
		"Excessive",
		`"budgetVerdict"`,
	} {
		assert.Contains(t, prompt, want)
	}
}
