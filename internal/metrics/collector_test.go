package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.decisionsTotal)
	assert.NotNil(t, collector.turnsTotal)
	assert.NotNil(t, collector.agentTurnTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/v1/agents", 200, 100*time.Millisecond, 2048)
	collector.RecordHTTPRequest("GET", "/v1/agents", 204, 50*time.Millisecond, 0)
	collector.RecordHTTPRequest("POST", "/v1/conversations", 503, time.Second, 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/v1/agents", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/conversations", "5xx")))
}

func TestCollector_RecordDecision(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDecision("NEW_BLANK", 300*time.Millisecond, 400*time.Millisecond)
	collector.RecordDecision("UNCHANGED", 0, 10*time.Millisecond)
	collector.RecordDecision("UNCHANGED", 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.decisionsTotal.WithLabelValues("NEW_BLANK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.decisionsTotal.WithLabelValues("UNCHANGED")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.analyzerDuration))
}

func TestCollector_RecordTurns(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAgentTurn("Orchestrator")
	collector.RecordAgentTurn("Radiology")
	collector.RecordAgentTurn("Orchestrator")
	collector.RecordTurn("ok", 2*time.Second)
	collector.RecordTurn("busy", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.agentTurnTotal.WithLabelValues("Orchestrator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.turnsTotal.WithLabelValues("busy")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.turnsTotal))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("blobs", 10, 4)
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("blobs")))
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("blobs")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.RecordAgentTurn("Radiology")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.agentTurnTotal.WithLabelValues("Radiology")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 500: "5xx", 101: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}
