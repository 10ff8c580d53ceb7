package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStageCountsErrors(t *testing.T) {
	m.init()
	before := testutil.ToFloat64(m.stageErrors.WithLabelValues("indexing"))
	ObserveStage("indexing", time.Second, nil)
	ObserveStage("indexing", time.Second, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(m.stageErrors.WithLabelValues("indexing")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	SetIndexedChunks(42)
	IncQARecords()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatwithcode_indexed_chunks 42")
	assert.Contains(t, rec.Body.String(), "chatwithcode_qa_records_total")
}
