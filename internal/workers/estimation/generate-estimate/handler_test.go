// internal/workers/estimation/generate-estimate/handler_test.go
package generateestimate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/common/notify"
	"construction-estimator/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ==========================
// Test Helpers
// ==========================

const validReply = `{
  "currency": "$",
  "totalCost": 250000,
  "breakdown": [
    {"category": "Foundation", "cost": 60000, "description": "Slab and footings"},
    {"category": "Structure", "cost": 190000, "description": "Framing and envelope"}
  ],
  "cashflow": [
    {"month": 1, "amount": 70000, "phase": "Site preparation"},
    {"month": 2, "amount": 90000, "phase": "Structure"},
    {"month": 3, "amount": 90000, "phase": "Finishing"}
  ],
  "risks": [{"description": "Material price swings", "impact": "Medium", "mitigation": "Fixed-price supply contracts"}],
  "confidenceScore": 82,
  "confidenceReason": "Well documented regional rates",
  "efficiencyTips": ["Prefabricate roof trusses"],
  "summary": "A three month residential build."
}`

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fakeCompleter struct {
	reply    string
	err      error
	requests []genai.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req genai.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

type fakeNotifier struct {
	events []notify.EstimateReady
	err    error
}

func (f *fakeNotifier) PublishEstimateReady(ctx context.Context, event notify.EstimateReady) (string, error) {
	f.events = append(f.events, event)
	return "msg-1", f.err
}

func createTestConfig() *Config {
	return &Config{
		Timeout:      5 * time.Second,
		CacheEnabled: true,
		CacheTTL:     24 * time.Hour,
		CachePrefix:  "estimate:",
		Model:        "test-model",
	}
}

func createTestInput() *Input {
	return &Input{ProjectInputs: models.ProjectInputs{
		ProjectType:    "Residential",
		Location:       "Austin, TX",
		Size:           2400,
		SizeUnit:       "sqft",
		Budget:         decimal.NewFromInt(300000),
		QualityTier:    "Standard",
		TimelineMonths: 3,
		Manpower:       10,
	}}
}

func createTestHandler(t *testing.T, cfg *Config, completer Completer, rdb *redis.Client, db *sql.DB, notifier Notifier) *Handler {
	t.Helper()
	opts := HandlerOptions{
		Config: cfg,
		GenAI:  completer,
		Redis:  rdb,
		DB:     db,
		Logger: logger.NewTestLogger(t),
	}
	if notifier != nil {
		opts.Notifier = notifier
	}
	h, err := NewHandler(opts)
	require.NoError(t, err)
	h.now = func() time.Time { return fixedNow }
	h.newID = func() string { return "11111111-2222-3333-4444-555555555555" }
	return h
}

func decodeEstimate(t *testing.T, raw string) models.EstimationResult {
	t.Helper()
	var e models.EstimationResult
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	return e
}

// ==========================
// Generation
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	completer := &fakeCompleter{reply: "```json\n" + validReply + "\n```"}
	handler := createTestHandler(t, createTestConfig(), completer, nil, nil, nil)

	output, err := handler.Execute(context.Background(), createTestInput())

	require.NoError(t, err)
	require.NotNil(t, output)
	assert.False(t, output.Cached)
	assert.Empty(t, output.EstimateID)
	assert.Equal(t, "2026-05-04T12:00:00Z", output.GeneratedAt)

	e := output.Estimate
	assert.Equal(t, "$", e.Currency)
	assert.True(t, e.TotalCost.Equal(decimal.NewFromInt(250000)))
	assert.Len(t, e.Breakdown, 2)
	assert.Len(t, e.Cashflow, 3)
	assert.Equal(t, models.ImpactMedium, e.Risks[0].Impact)
	assert.Equal(t, 82.0, e.ConfidenceScore)
	assert.True(t, e.BreakdownTotal().Equal(e.TotalCost))

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.True(t, req.JSONResponse)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, genai.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "exactly 3 entries")
}

func TestHandler_Execute_Failures(t *testing.T) {
	tests := []struct {
		name          string
		reply         string
		err           error
		expectedError error
		errContains   string
	}{
		{
			name:          "provider error",
			err:           &genai.APIError{StatusCode: http.StatusBadRequest, Message: "bad model"},
			expectedError: ErrEstimateFailed,
			errContains:   "bad model",
		},
		{
			name:          "malformed json",
			reply:         `{"currency": "$", "totalCost": `,
			expectedError: ErrEstimateUnparseable,
		},
		{
			name:          "empty reply",
			reply:         "",
			expectedError: ErrEstimateUnparseable,
		},
		{
			name:          "missing required field",
			reply:         strings.Replace(validReply, `"summary": "A three month residential build."`, `"note": "x"`, 1),
			expectedError: ErrEstimateInvalid,
			errContains:   "summary",
		},
		{
			name:          "risk impact not a string",
			reply:         strings.Replace(validReply, `"impact": "Medium"`, `"impact": 3`, 1),
			expectedError: ErrEstimateInvalid,
			errContains:   "estimate schema",
		},
		{
			name:          "total cost as boolean",
			reply:         strings.Replace(validReply, `"totalCost": 250000`, `"totalCost": true`, 1),
			expectedError: ErrEstimateInvalid,
			errContains:   "totalCost",
		},
		{
			name: "cashflow length mismatch",
			reply: strings.Replace(validReply,
				`{"month": 3, "amount": 90000, "phase": "Finishing"}`,
				`{"month": 3, "amount": 45000, "phase": "Finishing"}, {"month": 4, "amount": 45000, "phase": "Handover"}`, 1),
			expectedError: ErrEstimateInvalid,
			errContains:   "cashflow has 4 entries, expected 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{reply: tt.reply, err: tt.err}
			handler := createTestHandler(t, createTestConfig(), completer, nil, nil, nil)

			output, err := handler.Execute(context.Background(), createTestInput())

			assert.Nil(t, output)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expectedError)
			if tt.errContains != "" {
				assert.Contains(t, err.Error(), tt.errContains)
			}
		})
	}
}

func TestHandler_Execute_AcceptsLooseShapes(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		validate func(t *testing.T, e models.EstimationResult)
	}{
		{
			name:  "lowercase risk impact",
			reply: strings.Replace(validReply, `"impact": "Medium"`, `"impact": "medium"`, 1),
			validate: func(t *testing.T, e models.EstimationResult) {
				assert.Equal(t, models.RiskImpact("medium"), e.Risks[0].Impact)
			},
		},
		{
			name:  "empty currency",
			reply: strings.Replace(validReply, `"currency": "$"`, `"currency": ""`, 1),
			validate: func(t *testing.T, e models.EstimationResult) {
				assert.Equal(t, "", e.Currency)
			},
		},
		{
			name: "money as strings",
			reply: strings.NewReplacer(
				`"totalCost": 250000`, `"totalCost": "250000"`,
				`"cost": 60000`, `"cost": "60000.00"`,
				`"amount": 70000`, `"amount": "70000"`,
			).Replace(validReply),
			validate: func(t *testing.T, e models.EstimationResult) {
				assert.True(t, e.TotalCost.Equal(decimal.NewFromInt(250000)))
				assert.True(t, e.Breakdown[0].Cost.Equal(decimal.NewFromInt(60000)))
				assert.True(t, e.Cashflow[0].Amount.Equal(decimal.NewFromInt(70000)))
			},
		},
		{
			name:  "confidence above one hundred",
			reply: strings.Replace(validReply, `"confidenceScore": 82`, `"confidenceScore": 120`, 1),
			validate: func(t *testing.T, e models.EstimationResult) {
				assert.Equal(t, 120.0, e.ConfidenceScore)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := createTestHandler(t, createTestConfig(), &fakeCompleter{reply: tt.reply}, nil, nil, nil)

			output, err := handler.Execute(context.Background(), createTestInput())

			require.NoError(t, err)
			require.NotNil(t, output)
			tt.validate(t, output.Estimate)
		})
	}
}

func TestHandler_Execute_OutputMoneyIsNumeric(t *testing.T) {
	handler := createTestHandler(t, createTestConfig(), &fakeCompleter{reply: validReply}, nil, nil, nil)

	output, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)

	data, err := json.Marshal(output)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, `"totalCost":250000`)
	assert.Contains(t, body, `"cost":60000`)
	assert.Contains(t, body, `"amount":70000`)
	assert.NotContains(t, body, `"totalCost":"`)
}

func TestHandler_Execute_LogsTotalMismatch(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		messages []string
	}{
		{
			name:  "consistent totals",
			reply: validReply,
		},
		{
			name:     "breakdown short of total",
			reply:    strings.Replace(validReply, `"cost": 190000`, `"cost": 150000`, 1),
			messages: []string{"breakdown does not sum to total cost"},
		},
		{
			name:     "cashflow over total",
			reply:    strings.Replace(validReply, `{"month": 3, "amount": 90000`, `{"month": 3, "amount": 99000`, 1),
			messages: []string{"cashflow does not sum to total cost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			handler, err := NewHandler(HandlerOptions{
				Config: createTestConfig(),
				GenAI:  &fakeCompleter{reply: tt.reply},
				Logger: logger.NewZapAdapter(zap.New(core)),
			})
			require.NoError(t, err)

			output, err := handler.Execute(context.Background(), createTestInput())
			require.NoError(t, err)
			require.NotNil(t, output)

			var got []string
			for _, entry := range logs.FilterLevelExact(zapcore.WarnLevel).All() {
				got = append(got, entry.Message)
			}
			assert.Equal(t, tt.messages, got)
		})
	}
}

func TestHandler_Execute_RateLimitErrorStaysVisible(t *testing.T) {
	apiErr := &genai.APIError{StatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "slow down"}
	handler := createTestHandler(t, createTestConfig(), &fakeCompleter{err: apiErr}, nil, nil, nil)

	_, err := handler.Execute(context.Background(), createTestInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEstimateFailed)
	var target *genai.APIError
	assert.True(t, errors.As(err, &target))
	assert.True(t, genai.IsRateLimited(err))
}

// ==========================
// Cache
// ==========================

func TestHandler_Execute_CacheMissWritesCache(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	input := createTestInput()
	key := "estimate:" + input.Fingerprint()

	cachedData, err := json.Marshal(cachedEstimate{
		Estimate:    decodeEstimate(t, validReply),
		GeneratedAt: "2026-05-04T12:00:00Z",
	})
	require.NoError(t, err)

	redisMock.ExpectGet(key).RedisNil()
	redisMock.ExpectSet(key, cachedData, 24*time.Hour).SetVal("OK")

	completer := &fakeCompleter{reply: validReply}
	handler := createTestHandler(t, createTestConfig(), completer, redisClient, nil, nil)

	output, err := handler.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.False(t, output.Cached)
	assert.Len(t, completer.requests, 1)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestHandler_Execute_CacheHitSkipsModel(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	input := createTestInput()
	key := "estimate:" + input.Fingerprint()

	cachedData, err := json.Marshal(cachedEstimate{
		EstimateID:  "cached-id",
		Estimate:    decodeEstimate(t, validReply),
		GeneratedAt: "2026-05-01T08:00:00Z",
	})
	require.NoError(t, err)
	redisMock.ExpectGet(key).SetVal(string(cachedData))

	completer := &fakeCompleter{err: errors.New("model must not be called")}
	handler := createTestHandler(t, createTestConfig(), completer, redisClient, nil, nil)

	output, err := handler.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.True(t, output.Cached)
	assert.Equal(t, "cached-id", output.EstimateID)
	assert.Equal(t, "2026-05-01T08:00:00Z", output.GeneratedAt)
	assert.True(t, output.Estimate.TotalCost.Equal(decimal.NewFromInt(250000)))
	assert.Empty(t, completer.requests)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestHandler_Execute_RedisErrorIsNotFatal(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	input := createTestInput()
	key := "estimate:" + input.Fingerprint()

	redisMock.ExpectGet(key).SetErr(errors.New("connection reset by peer"))

	completer := &fakeCompleter{reply: validReply}
	handler := createTestHandler(t, createTestConfig(), completer, redisClient, nil, nil)

	output, err := handler.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.False(t, output.Cached)
	assert.Len(t, completer.requests, 1)
}

func TestHandler_Execute_IdenticalInputsHitMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	completer := &fakeCompleter{reply: validReply}
	handler := createTestHandler(t, createTestConfig(), completer, rdb, nil, nil)

	first, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Len(t, completer.requests, 1)
	assert.Equal(t, first.Estimate.Summary, second.Estimate.Summary)

	mr.FastForward(25 * time.Hour)
	third, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Len(t, completer.requests, 2)
}

// ==========================
// Persistence & Notification
// ==========================

func TestHandler_Execute_PersistsEstimate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	input := createTestInput()
	key := "estimate:" + input.Fingerprint()

	mock.ExpectExec(`INSERT INTO construction_estimates`).
		WithArgs(
			"11111111-2222-3333-4444-555555555555",
			key,
			"Residential",
			"Austin, TX",
			"$",
			"250000",
			82.0,
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			"test-model",
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	cfg := createTestConfig()
	cfg.CacheEnabled = false
	cfg.Persist = true
	notifier := &fakeNotifier{}
	handler := createTestHandler(t, cfg, &fakeCompleter{reply: validReply}, nil, db, notifier)

	output, err := handler.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", output.EstimateID)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, notifier.events, 1)
	event := notifier.events[0]
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", event.EstimateID)
	assert.Equal(t, "Residential", event.ProjectType)
	assert.True(t, event.TotalCost.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, fixedNow, event.GeneratedAt)
}

func TestHandler_Execute_PersistenceFailureIsNotFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO construction_estimates`).
		WillReturnError(fmt.Errorf("connection refused"))

	cfg := createTestConfig()
	cfg.CacheEnabled = false
	cfg.Persist = true
	notifier := &fakeNotifier{err: errors.New("sns down")}
	handler := createTestHandler(t, cfg, &fakeCompleter{reply: validReply}, nil, db, notifier)

	output, err := handler.Execute(context.Background(), createTestInput())

	require.NoError(t, err)
	require.NotNil(t, output)
	assert.Empty(t, output.EstimateID)
	assert.Len(t, output.Estimate.Cashflow, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, notifier.events, 1)
}

func TestHandler_Store_WrapsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO construction_estimates`).WillReturnError(sql.ErrConnDone)

	handler := createTestHandler(t, createTestConfig(), &fakeCompleter{}, nil, db, nil)
	estimate := decodeEstimate(t, validReply)
	err = handler.store(context.Background(), "id", "key", &createTestInput().ProjectInputs, &estimate)
	assert.ErrorIs(t, err, ErrEstimateStoreFailed)
}

// ==========================
// Prompt
// ==========================

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(&createTestInput().ProjectInputs)

	for _, want := range []string{
		"Project type: Residential",
		"Location: Austin, TX",
		"Size: 2400 sqft",
		"Budget: 300000",
		"Quality tier: Standard",
		"Timeline: 3 months",
		"Manpower: 10 workers",
		"exactly 3 entries",
		`"cashflow"`,
		`"confidenceScore"`,
	} {
		assert.Contains(t, prompt, want)
	}
}
