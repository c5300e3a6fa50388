package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"offlinecache/internal/domain"
)

const defaultRevalidateTimeout = 30 * time.Second

// CacheManagerConfig はキャッシュマネージャの設定を表す
type CacheManagerConfig struct {
	Version           string
	Mode              domain.Mode
	RevalidateTimeout time.Duration
}

// CacheManager はライフサイクルとリクエストごとのキャッシュ戦略を実装
type CacheManager struct {
	store      domain.PartitionStore
	fetcher    domain.Fetcher
	clients    domain.ClientController
	router     *Router
	metrics    domain.MetricsCollector
	logger     domain.Logger
	config     CacheManagerConfig
	partitions domain.PartitionSet

	mu          sync.Mutex
	phase       atomic.Int32
	skipWaiting atomic.Bool

	revalidations singleflight.Group
	inflight      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewCacheManager は新しいCacheManagerインスタンスを作成
func NewCacheManager(
	store domain.PartitionStore,
	fetcher domain.Fetcher,
	clients domain.ClientController,
	rules domain.RulesProvider,
	metrics domain.MetricsCollector,
	logger domain.Logger,
	config CacheManagerConfig,
) *CacheManager {
	if config.Version == "" {
		config.Version = domain.DefaultVersion
	}
	if config.Mode == "" {
		config.Mode = domain.ModeCaching
	}
	if config.RevalidateTimeout <= 0 {
		config.RevalidateTimeout = defaultRevalidateTimeout
	}

	partitions := domain.NewPartitionSet(config.Version)
	ctx, cancel := context.WithCancel(context.Background())

	return &CacheManager{
		store:      store,
		fetcher:    fetcher,
		clients:    clients,
		router:     NewRouter(rules, partitions),
		metrics:    metrics,
		logger:     logger,
		config:     config,
		partitions: partitions,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Phase は現在のライフサイクル段階を返す
func (m *CacheManager) Phase() domain.Phase {
	return domain.Phase(m.phase.Load())
}

// SkipWaiting は待機段階を飛ばす指示が出ているかを返す
func (m *CacheManager) SkipWaiting() bool {
	return m.skipWaiting.Load()
}

// Partitions は現行バージョンのパーティション名を返す
func (m *CacheManager) Partitions() domain.PartitionSet {
	return m.partitions
}

// Version は現行のバージョンタグを返す
func (m *CacheManager) Version() string {
	return m.config.Version
}

// Mode は動作モードを返す
func (m *CacheManager) Mode() domain.Mode {
	return m.config.Mode
}

// OnInstall は新しいバージョンの登録時に一度だけ呼ばれる.
// キャッシュには触れず、待機せずに有効化へ進む指示だけを出す.
func (m *CacheManager) OnInstall(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(domain.PhaseRegistered, domain.PhaseInstalling); err != nil {
		return err
	}
	m.skipWaiting.Store(true)

	m.logger.Info("Installed", map[string]interface{}{
		"version": m.config.Version,
		"mode":    string(m.config.Mode),
	})
	return nil
}

// OnActivate は古いパーティションを削除してからページの制御を取得する.
// 削除に失敗した場合は制御を取得せずにエラーを返し、再実行できる.
func (m *CacheManager) OnActivate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.Phase() {
	case domain.PhaseInstalling:
		m.phase.Store(int32(domain.PhaseActivating))
	case domain.PhaseActivating:
		// 前回の有効化が失敗した場合の再試行
	default:
		return &domain.ErrInvalidPhase{From: m.Phase(), To: domain.PhaseActivating}
	}

	keep := m.partitions.Names()
	if m.config.Mode == domain.ModeCleanup {
		keep = map[string]struct{}{}
	}

	deleted, err := DeletePartitionsExcept(ctx, m.store, keep)
	m.metrics.RecordActivation(len(deleted), err)
	if err != nil {
		m.logger.Error("Activation failed", err, map[string]interface{}{
			"deleted": deleted,
		})
		return err
	}

	if m.config.Mode == domain.ModeCleanup {
		if err := m.clients.Release(ctx); err != nil {
			return fmt.Errorf("failed to release clients: %w", err)
		}
		m.phase.Store(int32(domain.PhaseRedundant))
		m.logger.Info("Cleanup complete", map[string]interface{}{
			"deleted": deleted,
		})
		return nil
	}

	if err := m.clients.Claim(ctx); err != nil {
		return fmt.Errorf("failed to claim clients: %w", err)
	}
	m.phase.Store(int32(domain.PhaseActive))

	m.logger.Info("Activated", map[string]interface{}{
		"version": m.config.Version,
		"deleted": deleted,
	})
	return nil
}

// Start はインストールと有効化を順に行う.
// 有効化に失敗した場合は retryInterval ごとに再試行する.
func (m *CacheManager) Start(ctx context.Context, retryInterval time.Duration) error {
	if err := m.OnInstall(ctx); err != nil {
		return err
	}

	for {
		err := m.OnActivate(ctx)
		if err == nil {
			return nil
		}

		var phaseErr *domain.ErrInvalidPhase
		if errors.As(err, &phaseErr) {
			return err
		}

		m.logger.Warn("Retrying activation", map[string]interface{}{
			"retry_in": retryInterval.String(),
			"error":    err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// OnFetch は有効な状態でのみリクエストを評価する.
// handled が false の場合、呼び出し側はリクエストをそのままネットワークへ流す.
func (m *CacheManager) OnFetch(ctx context.Context, req *domain.Request) (
	resp *domain.Response, handled bool, err error,
) {
	if m.Phase() != domain.PhaseActive || !req.IsGet() {
		return nil, false, nil
	}

	route := m.router.Route(req)
	m.metrics.RecordRequest(route.Strategy)
	if !route.Intercepted() {
		return nil, false, nil
	}

	partition, err := m.store.Open(ctx, route.Partition)
	if err != nil {
		m.metrics.RecordError()
		return nil, true, &domain.ErrPartitionOpen{Name: route.Partition, Err: err}
	}

	switch route.Strategy {
	case domain.StrategyNetworkFirst:
		resp, err = m.networkFirst(ctx, partition, req)
	case domain.StrategyCacheFirst:
		resp, err = m.cacheFirst(ctx, partition, req)
	case domain.StrategyStaleWhileRevalidate:
		resp, err = m.staleWhileRevalidate(ctx, partition, req)
	}

	if err != nil {
		m.metrics.RecordError()
		m.logger.Debug("Request failed", map[string]interface{}{
			"request_id": req.ID,
			"url":        req.URL.String(),
			"strategy":   string(route.Strategy),
			"error":      err.Error(),
		})
		return nil, true, err
	}

	m.metrics.AddBytesServed(int64(len(resp.Body)))
	return resp, true, nil
}

// Wait はバックグラウンドの再検証がすべて終わるまで待つ
func (m *CacheManager) Wait() {
	m.inflight.Wait()
}

// Close は実行中の再検証を取り消して終了を待つ
func (m *CacheManager) Close() error {
	m.cancel()
	m.inflight.Wait()
	return nil
}

func (m *CacheManager) transition(from, to domain.Phase) error {
	if !m.phase.CompareAndSwap(int32(from), int32(to)) {
		return &domain.ErrInvalidPhase{From: m.Phase(), To: to}
	}
	return nil
}

// IsOffline はエラーがネットワーク障害によるものかを返す
func IsOffline(err error) bool {
	var fetchErr *domain.ErrFetchFailed
	return errors.As(err, &fetchErr)
}
