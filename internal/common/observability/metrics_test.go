// internal/common/observability/metrics_test.go
package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"construction-estimator/internal/common/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservability_RecordsJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := newWithRegisterer("estimator-test", "test", reg, logger.NewTestLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	obs.RecordJobProcessed(ctx, "generate-construction-estimate", "completed")
	obs.RecordJobProcessed(ctx, "generate-construction-estimate", "completed")
	obs.RecordJobDuration(ctx, "generate-construction-estimate", 1500*time.Millisecond, "completed")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
		if strings.HasPrefix(mf.GetName(), "jobs_processed") {
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(2), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.Contains(t, strings.Join(names, ","), "jobs_processed")
	assert.Contains(t, strings.Join(names, ","), "jobs_duration")

	assert.NoError(t, obs.Shutdown(ctx))
}

func TestObservability_NilSafe(t *testing.T) {
	var obs *Observability
	obs.RecordJobProcessed(context.Background(), "assistant-chat", "failed")
	obs.RecordJobDuration(context.Background(), "assistant-chat", time.Second, "failed")
	assert.NoError(t, obs.Shutdown(context.Background()))
}
