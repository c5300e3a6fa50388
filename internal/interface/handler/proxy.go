package handler

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"offlinecache/internal/domain"
	"offlinecache/internal/interface/connection"
	"offlinecache/internal/usecase"
)

// ProxyHandler はリクエストをキャッシュマネージャに渡し、
// 応答しなかったものはオリジンへそのまま転送する.
type ProxyHandler struct {
	manager     *usecase.CacheManager
	passthrough http.Handler
	origin      *url.URL
	rules       domain.RulesProvider
	logger      domain.Logger
}

// NewProxyHandler は新しいProxyHandlerインスタンスを作成
func NewProxyHandler(
	manager *usecase.CacheManager,
	passthrough http.Handler,
	origin *url.URL,
	rules domain.RulesProvider,
	logger domain.Logger,
) *ProxyHandler {
	return &ProxyHandler{
		manager:     manager,
		passthrough: passthrough,
		origin:      origin,
		rules:       rules,
		logger:      logger,
	}
}

// NewPassthrough はオリジンへ変更せずに転送するリバースプロキシを作成
func NewPassthrough(origin *url.URL, transport http.RoundTripper, logger domain.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := connection.ResolveTarget(origin, pr.In.URL)
			pr.Out.URL = target
			pr.Out.Host = target.Host
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Passthrough failed", err, map[string]interface{}{
				"method": r.Method,
				"url":    r.URL.String(),
			})
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.logger.Info("CONNECT method received", map[string]interface{}{
			"host": r.Host,
		})
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}

	if !h.allowedTarget(r.URL) {
		h.logger.Warn("Rejected request for foreign host", map[string]interface{}{
			"method": r.Method,
			"host":   r.URL.Host,
		})
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	req := h.toDomain(r)
	resp, handled, err := h.manager.OnFetch(r.Context(), req)
	if !handled {
		h.passthrough.ServeHTTP(w, r)
		return
	}

	if err != nil {
		h.writeError(w, req, err)
		return
	}

	h.writeResponse(w, req, resp)
}

// toDomain はHTTPリクエストをキャッシュのキーとなる絶対URLのリクエストに変換
func (h *ProxyHandler) toDomain(r *http.Request) *domain.Request {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}

	return &domain.Request{
		ID:        id,
		Method:    r.Method,
		URL:       connection.ResolveTarget(h.origin, r.URL),
		Navigate:  isNavigation(r),
		Headers:   r.Header.Clone(),
		CreatedAt: time.Now(),
	}
}

// allowedTarget は絶対形式のURLの転送先を
// オリジンとフォントのホストに限る
func (h *ProxyHandler) allowedTarget(u *url.URL) bool {
	if !u.IsAbs() {
		return true
	}
	if strings.EqualFold(u.Host, h.origin.Host) {
		return true
	}
	host := u.Hostname()
	for _, allowed := range h.rules.Rules().FontHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

// isNavigation はトップレベルの文書読み込みかどうかを判定.
// Sec-Fetch-Mode がなければ Accept ヘッダーで判断する.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (h *ProxyHandler) writeResponse(w http.ResponseWriter, req *domain.Request, resp *domain.Response) {
	header := w.Header()
	for k, v := range resp.Headers {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	header.Set("X-Request-Id", req.ID)
	if resp.FromCache {
		header.Set("X-Cache", "HIT")
	} else {
		header.Set("X-Cache", "MISS")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug("Failed to write response", map[string]interface{}{
			"request_id": req.ID,
			"error":      err.Error(),
		})
	}
}

func (h *ProxyHandler) writeError(w http.ResponseWriter, req *domain.Request, err error) {
	fields := map[string]interface{}{
		"request_id": req.ID,
		"url":        req.URL.String(),
	}

	var openErr *domain.ErrPartitionOpen
	switch {
	case errors.As(err, &openErr):
		h.logger.Error("Partition unavailable", err, fields)
		http.Error(w, "Cache Unavailable", http.StatusServiceUnavailable)
	case usecase.IsOffline(err):
		h.logger.Warn("Origin unreachable and nothing cached", fields)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	default:
		h.logger.Error("Request failed", err, fields)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
}
