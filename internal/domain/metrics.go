package domain

import "time"

// MetricsCollector はメトリクス収集のインターフェース
type MetricsCollector interface {
	RecordRequest(strategy Strategy)
	RecordCacheHit(partition string)
	RecordCacheMiss(partition string)
	RecordNetworkFetch(partition string, ok bool)
	RecordFallback(partition string)
	RecordStoreError(partition string)
	RecordActivation(deleted int, err error)
	RecordError()
	AddBytesServed(bytes int64)
	GetSnapshot() *MetricsSnapshot
}

// MetricsSnapshot はメトリクスのスナップショットを表す
type MetricsSnapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	StartTime        time.Time `json:"start_time"`
	TotalRequests    int64     `json:"total_requests"`
	Intercepted      int64     `json:"intercepted"`
	BytesServed      int64     `json:"bytes_served"`
	CacheHits        int64     `json:"cache_hits"`
	CacheMisses      int64     `json:"cache_misses"`
	NetworkFetches   int64     `json:"network_fetches"`
	NetworkFailures  int64     `json:"network_failures"`
	OfflineFallbacks int64     `json:"offline_fallbacks"`
	StoreErrors      int64     `json:"store_errors"`
	Activations      int64     `json:"activations"`
	DeletedStale     int64     `json:"deleted_stale"`
	Errors           int64     `json:"errors"`
	Uptime           string    `json:"uptime"`
}
