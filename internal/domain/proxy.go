package domain

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Request はプロキシが受け取ったリクエストを表す.
type Request struct {
	ID        string
	Method    string
	URL       *url.URL
	Navigate  bool
	Headers   http.Header
	CreatedAt time.Time
}

// Key はキャッシュのキーとなるリクエストの識別子を返す.
func (r *Request) Key() string {
	return r.Method + " " + r.URL.String()
}

// IsGet はGETリクエストかどうかを返す.
func (r *Request) IsGet() bool {
	return r.Method == http.MethodGet
}

// Response はオリジンまたはキャッシュからのレスポンスを表す.
// 一度作成したら変更せず、保存や返却の際は Clone を渡す.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FromCache  bool
	StoredAt   time.Time
}

// Clone はヘッダーとボディを複製したレスポンスを返す.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}

	var body []byte
	if r.Body != nil {
		body = make([]byte, len(r.Body))
		copy(body, r.Body)
	}

	return &Response{
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       body,
		FromCache:  r.FromCache,
		StoredAt:   r.StoredAt,
	}
}

// Storable はキャッシュに保存可能なレスポンスかどうかを返す.
// 部分レスポンス、304 と Vary: * は保存しない.
func (r *Response) Storable() bool {
	switch r.StatusCode {
	case http.StatusPartialContent, http.StatusNotModified:
		return false
	}
	for _, v := range r.Headers.Values("Vary") {
		if v == "*" {
			return false
		}
	}
	return true
}

// Fetcher はネットワークからレスポンスを取得するインターフェース.
// HTTPのエラーステータスは成功として扱い、errはネットワーク障害のみを示す.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// ClientController は制御下にあるページへの通知を担当.
type ClientController interface {
	// Claim は開いているページの制御を取得する.
	Claim(ctx context.Context) error
	// Release は登録を解除し、以降のリクエストを素通しにする.
	Release(ctx context.Context) error
}
