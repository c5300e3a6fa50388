package usecase

import (
	"context"
	"errors"
	"fmt"

	"offlinecache/internal/domain"
)

// cacheFirst はキャッシュにあればネットワークを使わずに返す.
// なければ取得して保存し、取得に失敗した場合はそのままエラーを返す.
func (m *CacheManager) cacheFirst(
	ctx context.Context, p domain.Partition, req *domain.Request,
) (*domain.Response, error) {
	cached, ok, err := p.Match(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cache lookup in %s: %w", p.Name(), err)
	}
	if ok {
		m.metrics.RecordCacheHit(p.Name())
		return cached, nil
	}
	m.metrics.RecordCacheMiss(p.Name())

	resp, err := m.fetch(ctx, p, req)
	if err != nil {
		return nil, err
	}
	m.put(ctx, p, req, resp)

	return resp, nil
}

// staleWhileRevalidate は取得を先に開始してからキャッシュを参照する.
// キャッシュがあれば即座に返し、取得結果はキャッシュの更新にだけ使う.
func (m *CacheManager) staleWhileRevalidate(
	ctx context.Context, p domain.Partition, req *domain.Request,
) (*domain.Response, error) {
	result := m.revalidate(p, req)

	cached, ok, err := p.Match(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cache lookup in %s: %w", p.Name(), err)
	}
	if ok {
		m.metrics.RecordCacheHit(p.Name())
		return cached, nil
	}
	m.metrics.RecordCacheMiss(p.Name())

	select {
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		return r.resp.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// networkFirst は常に最新のレスポンスを優先し、
// ネットワーク障害時だけ以前に保存したページを返す.
func (m *CacheManager) networkFirst(
	ctx context.Context, p domain.Partition, req *domain.Request,
) (*domain.Response, error) {
	resp, fetchErr := m.fetch(ctx, p, req)
	if fetchErr == nil {
		m.put(ctx, p, req, resp)
		return resp, nil
	}

	cached, ok, err := p.Match(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cache lookup in %s: %w", p.Name(), err)
	}
	if !ok {
		m.metrics.RecordCacheMiss(p.Name())
		return nil, fmt.Errorf("%w: %w", domain.ErrNotCached, fetchErr)
	}

	m.metrics.RecordFallback(p.Name())
	m.logger.Info("Serving cached page while offline", map[string]interface{}{
		"request_id": req.ID,
		"url":        req.URL.String(),
		"stored_at":  cached.StoredAt,
	})
	return cached, nil
}

type fetchResult struct {
	resp *domain.Response
	err  error
}

// revalidate はバックグラウンドで取得と保存を行う.
// 同じURLへの取得が実行中であればそれに相乗りする.
// 呼び出し元のコンテキストからは切り離し、マネージャの終了で取り消す.
func (m *CacheManager) revalidate(
	p domain.Partition, req *domain.Request,
) <-chan fetchResult {
	out := make(chan fetchResult, 1)
	key := p.Name() + "|" + req.Key()

	m.inflight.Add(1)
	ch := m.revalidations.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.RevalidateTimeout)
		defer cancel()

		resp, err := m.fetch(ctx, p, req)
		if err != nil {
			return nil, err
		}
		m.put(ctx, p, req, resp)
		return resp, nil
	})

	go func() {
		defer m.inflight.Done()
		r := <-ch
		if r.Err != nil {
			m.logger.Debug("Revalidation failed", map[string]interface{}{
				"partition": p.Name(),
				"url":       req.URL.String(),
				"error":     r.Err.Error(),
			})
			out <- fetchResult{err: r.Err}
			return
		}
		out <- fetchResult{resp: r.Val.(*domain.Response)}
	}()

	return out
}

// fetch はネットワークから取得し、失敗を ErrFetchFailed として返す
func (m *CacheManager) fetch(
	ctx context.Context, p domain.Partition, req *domain.Request,
) (*domain.Response, error) {
	resp, err := m.fetcher.Fetch(ctx, req)
	m.metrics.RecordNetworkFetch(p.Name(), err == nil)
	if err != nil {
		var fetchErr *domain.ErrFetchFailed
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, &domain.ErrFetchFailed{URL: req.URL.String(), Err: err}
	}
	return resp, nil
}

// put はレスポンスの複製を保存する.
// 保存の失敗はレスポンスには影響させない.
func (m *CacheManager) put(
	ctx context.Context, p domain.Partition, req *domain.Request, resp *domain.Response,
) {
	if !resp.Storable() {
		m.logger.Debug("Response not storable", map[string]interface{}{
			"partition": p.Name(),
			"url":       req.URL.String(),
			"status":    resp.StatusCode,
		})
		return
	}

	// 共有キャッシュなので認証付きのレスポンスは保存しない
	if req.Headers.Get("Authorization") != "" {
		m.logger.Debug("Skipping store for authorized request", map[string]interface{}{
			"partition": p.Name(),
			"url":       req.URL.String(),
		})
		return
	}

	stored := resp.Clone()
	stored.Headers.Del("Set-Cookie")
	if err := p.Put(ctx, req, stored); err != nil {
		m.metrics.RecordStoreError(p.Name())
		m.logger.Warn("Failed to store response", map[string]interface{}{
			"partition": p.Name(),
			"url":       req.URL.String(),
			"error":     err.Error(),
		})
	}
}
