package metrics

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offlinecache/internal/domain"
)

const namespace = "offlinecache"

// Repository はメトリクスのリポジトリ実装
type Repository struct {
	mu          sync.Mutex
	metricsFile string
	startTime   time.Time
	registry    *prometheus.Registry

	requests    *prometheus.CounterVec
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	activations *prometheus.CounterVec
	deleted     prometheus.Counter
	bytesServed prometheus.Counter
	errorsTotal prometheus.Counter

	total           atomic.Int64
	intercepted     atomic.Int64
	bytes           atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	networkFetches  atomic.Int64
	networkFailures atomic.Int64
	fallbackCount   atomic.Int64
	storeErrorCount atomic.Int64
	activationCount atomic.Int64
	deletedStale    atomic.Int64
	errors          atomic.Int64
}

// インターフェースの実装を検証
var _ domain.MetricsCollector = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
// metricsFile が空の場合はスナップショットを保存しない.
func New(metricsFile string) *Repository {
	r := &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
		registry:    prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of evaluated GET requests by strategy",
		}, []string{"strategy"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"partition"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"partition"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_fetches_total",
			Help:      "Total number of network fetches by outcome",
		}, []string{"partition", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_fallbacks_total",
			Help:      "Total number of cached pages served after a network failure",
		}, []string{"partition"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed partition writes",
		}, []string{"partition"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Total number of activation attempts by outcome",
		}, []string{"outcome"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_partitions_deleted_total",
			Help:      "Total number of stale partitions deleted during activation",
		}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_served_total",
			Help:      "Total number of response body bytes served by the cache manager",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of failed intercepted requests",
		}),
	}

	r.registry.MustRegister(
		r.requests, r.hits, r.misses, r.fetches, r.fallbacks,
		r.storeErrors, r.activations, r.deleted, r.bytesServed, r.errorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler はPrometheus形式でメトリクスを公開するハンドラーを返す
func (r *Repository) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry は内部のレジストリを返す
func (r *Repository) Registry() *prometheus.Registry {
	return r.registry
}

// SaveMetrics はメトリクスをファイルに保存
func (r *Repository) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	if r.metricsFile == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tempFile := r.metricsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, r.metricsFile)
}

// 以下、MetricsCollector インターフェースの実装
func (r *Repository) RecordRequest(strategy domain.Strategy) {
	r.total.Add(1)
	if strategy != domain.StrategyPassthrough {
		r.intercepted.Add(1)
	}
	r.requests.WithLabelValues(string(strategy)).Inc()
}

func (r *Repository) RecordCacheHit(partition string) {
	r.cacheHits.Add(1)
	r.hits.WithLabelValues(partition).Inc()
}

func (r *Repository) RecordCacheMiss(partition string) {
	r.cacheMisses.Add(1)
	r.misses.WithLabelValues(partition).Inc()
}

func (r *Repository) RecordNetworkFetch(partition string, ok bool) {
	outcome := "success"
	r.networkFetches.Add(1)
	if !ok {
		outcome = "failure"
		r.networkFailures.Add(1)
	}
	r.fetches.WithLabelValues(partition, outcome).Inc()
}

func (r *Repository) RecordFallback(partition string) {
	r.fallbackCount.Add(1)
	r.fallbacks.WithLabelValues(partition).Inc()
}

func (r *Repository) RecordStoreError(partition string) {
	r.storeErrorCount.Add(1)
	r.storeErrors.WithLabelValues(partition).Inc()
}

func (r *Repository) RecordActivation(deleted int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.activationCount.Add(1)
	r.deletedStale.Add(int64(deleted))
	r.activations.WithLabelValues(outcome).Inc()
	r.deleted.Add(float64(deleted))
}

func (r *Repository) RecordError() {
	r.errors.Add(1)
	r.errorsTotal.Inc()
}

func (r *Repository) AddBytesServed(bytes int64) {
	r.bytes.Add(bytes)
	r.bytesServed.Add(float64(bytes))
}

func (r *Repository) GetSnapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		Timestamp:        time.Now(),
		StartTime:        r.startTime,
		TotalRequests:    r.total.Load(),
		Intercepted:      r.intercepted.Load(),
		BytesServed:      r.bytes.Load(),
		CacheHits:        r.cacheHits.Load(),
		CacheMisses:      r.cacheMisses.Load(),
		NetworkFetches:   r.networkFetches.Load(),
		NetworkFailures:  r.networkFailures.Load(),
		OfflineFallbacks: r.fallbackCount.Load(),
		StoreErrors:      r.storeErrorCount.Load(),
		Activations:      r.activationCount.Load(),
		DeletedStale:     r.deletedStale.Load(),
		Errors:           r.errors.Load(),
		Uptime:           time.Since(r.startTime).String(),
	}
}
