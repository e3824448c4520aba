package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordChunkSummary(t *testing.T) {
	before := counterValue(t, ChunkSummariesTotal.WithLabelValues("cached"))
	RecordChunkSummary("cached")
	RecordChunkSummary("cached")
	assert.Equal(t, before+2, counterValue(t, ChunkSummariesTotal.WithLabelValues("cached")))
}

func TestRecordSummaryResult(t *testing.T) {
	before := counterValue(t, SummaryRequestsTotal.WithLabelValues("chunk", "failed"))
	RecordSummaryResult("chunk", "failed")
	assert.Equal(t, before+1, counterValue(t, SummaryRequestsTotal.WithLabelValues("chunk", "failed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordTask("adhoc_url", "completed")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `podharvest_tasks_total{kind="adhoc_url",status="completed"}`)
}
