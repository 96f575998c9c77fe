package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
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
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.executionsTotal)
	assert.NotNil(t, collector.nodeExecutionsTotal)
	assert.NotNil(t, collector.nodeExecutionDuration)
	assert.NotNil(t, collector.nodeRetriesTotal)
	assert.NotNil(t, collector.breakerTransitions)
	assert.NotNil(t, collector.txAttemptsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录请求
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	// 验证指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	// 再记录一次相同的请求
	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	// 验证计数增加
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordExecution(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录执行终态
	collector.RecordExecution("completed")
	collector.RecordExecution("failed")

	// 验证指标
	count := testutil.CollectAndCount(collector.executionsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordNodeExecution(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录节点执行
	collector.RecordNodeExecution("http", "completed", 500*time.Millisecond)
	collector.RecordNodeExecution("http", "failed", 0)

	// 验证指标
	count := testutil.CollectAndCount(collector.nodeExecutionsTotal)
	assert.Greater(t, count, 0)

	// 零时长不计入直方图
	durationCount := testutil.CollectAndCount(collector.nodeExecutionDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_RecordNodeRetry(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录节点重试
	collector.RecordNodeRetry("http")

	// 验证指标
	count := testutil.CollectAndCount(collector.nodeRetriesTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordBreakerTransition(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录熔断器状态转换
	collector.RecordBreakerTransition("api.example.com", "closed", "open")

	// 验证指标
	count := testutil.CollectAndCount(collector.breakerTransitions)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordTxAttempt(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录链上交易尝试
	collector.RecordTxAttempt("1", "submitted")
	collector.RecordTxAttempt("1", "mined")

	// 验证指标
	count := testutil.CollectAndCount(collector.txAttemptsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录数据库查询
	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	// 验证指标
	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 更新连接池状态
	collector.RecordDBConnections("postgres", 10, 5)

	// 验证指标
	openCount := testutil.CollectAndCount(collector.dbConnectionsOpen)
	assert.Greater(t, openCount, 0)

	idleCount := testutil.CollectAndCount(collector.dbConnectionsIdle)
	assert.Greater(t, idleCount, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordNodeExecution("http", "completed", 500*time.Millisecond)
			collector.RecordNodeRetry("http")
			done <- true
		}(i)
	}

	// 等待所有 goroutine 完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 验证指标被正确记录
	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	nodeCount := testutil.CollectAndCount(collector.nodeExecutionsTotal)
	assert.Greater(t, nodeCount, 0)

	retryCount := testutil.CollectAndCount(collector.nodeRetriesTotal)
	assert.Greater(t, retryCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	// 创建自定义 registry
	registry := prometheus.NewRegistry()

	// 创建 collector（会自动注册到默认 registry）
	collector := NewCollector(nextTestNamespace(), logger)

	// 手动注册到自定义 registry
	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	// 记录一些数据
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	// 验证可以从自定义 registry 收集指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
