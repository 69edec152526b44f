package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheCounters(t *testing.T) {
	before := testutil.ToFloat64(CacheRequests.WithLabelValues("event", "hit"))
	CacheHit("event")
	CacheHit("event")
	CacheMiss("event")

	assert.Equal(t, before+2, testutil.ToFloat64(CacheRequests.WithLabelValues("event", "hit")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(CacheRequests.WithLabelValues("event", "miss")), 1.0)
}
