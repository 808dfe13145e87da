package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidOutcomesByCode(t *testing.T) {
	before := testutil.ToFloat64(BidOutcomes.WithLabelValues("PRICE_TOO_LOW"))
	BidOutcomes.WithLabelValues("PRICE_TOO_LOW").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BidOutcomes.WithLabelValues("PRICE_TOO_LOW")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	SweepsSkipped.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "auction_sweeps_skipped_total")
}
