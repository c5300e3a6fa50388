package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"offlinecache/internal/domain"
)

const defaultMaxBodySize = 64 * 1024 * 1024

// ErrBodyTooLarge はレスポンスボディが上限を超えたことを示す
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// hopHeaders は転送しないホップバイホップヘッダー
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// conditionalHeaders はブラウザ自身のキャッシュに向けたヘッダー.
// 保存するレスポンスは常に完全な本文でなければならない.
var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// PoolConfig はオリジンへの接続プールの設定
type PoolConfig struct {
	MaxIdle        int
	IdleTimeout    time.Duration
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MaxBodySize    int64
}

// DefaultPoolConfig はデフォルトの設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:        16,
		IdleTimeout:    90 * time.Second,
		DialTimeout:    10 * time.Second,
		RequestTimeout: 0,
		MaxBodySize:    defaultMaxBodySize,
	}
}

// Fetcher はオリジンからレスポンスを取得する.
// 絶対URLのリクエストはそのホストへ、それ以外はオリジンへ送る.
type Fetcher struct {
	origin      *url.URL
	client      *http.Client
	transport   *http.Transport
	maxBodySize int64
}

var _ domain.Fetcher = (*Fetcher)(nil)

// NewFetcher は新しいFetcherインスタンスを作成
func NewFetcher(origin *url.URL, config PoolConfig) *Fetcher {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaultMaxBodySize
	}

	transport := NewTransport(config)
	return &Fetcher{
		origin:    origin,
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
			// リダイレクトはそのままページへ返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodySize: config.MaxBodySize,
	}
}

// NewTransport はプール設定から http.Transport を作成
func NewTransport(config PoolConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        config.MaxIdle * 4,
		MaxIdleConnsPerHost: config.MaxIdle,
		IdleConnTimeout:     config.IdleTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// Transport は内部のトランスポートを返す
func (f *Fetcher) Transport() *http.Transport {
	return f.transport
}

// Target はリクエストの送信先URLを返す
func (f *Fetcher) Target(u *url.URL) *url.URL {
	return ResolveTarget(f.origin, u)
}

// Fetch はリクエストを送信し、ボディを読み切ったレスポンスを返す
func (f *Fetcher) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	target := f.Target(req.URL)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), nil)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: target.String(), Err: err}
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}
	RemoveHopHeaders(httpReq.Header)
	for _, name := range conditionalHeaders {
		httpReq.Header.Del(name)
	}
	// 保存するボディは常に展開済みにする
	httpReq.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: target.String(), Err: err}
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, &domain.ErrFetchFailed{
			URL: target.String(),
			Err: fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBodySize),
		}
	}

	headers := resp.Header.Clone()
	RemoveHopHeaders(headers)
	headers.Del("Content-Length")

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

// CloseAll はアイドル状態の接続を全て閉じる
func (f *Fetcher) CloseAll() {
	f.transport.CloseIdleConnections()
}

// ResolveTarget は絶対URLならそのまま、相対ならオリジンのURLに解決する
func ResolveTarget(origin, u *url.URL) *url.URL {
	if u.IsAbs() || origin == nil {
		return u
	}

	target := *origin
	target.Path = u.Path
	target.RawPath = u.RawPath
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	return &target
}

// RemoveHopHeaders はホップバイホップヘッダーを取り除く
func RemoveHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
