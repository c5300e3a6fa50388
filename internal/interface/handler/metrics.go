package handler

import (
	"encoding/json"
	"net/http"

	"offlinecache/internal/domain"
	"offlinecache/internal/usecase"
)

// MetricsHandler はメトリクスと状態確認のHTTPリクエストを処理
type MetricsHandler struct {
	metricsUseCase *usecase.MetricsUseCase
	prometheus     http.Handler
	manager        *usecase.CacheManager
	controller     *Controller
	logger         domain.Logger
}

// lifecycleStatus は /lifecycle のレスポンス
type lifecycleStatus struct {
	Version     string              `json:"version"`
	Mode        domain.Mode         `json:"mode"`
	Phase       string              `json:"phase"`
	SkipWaiting bool                `json:"skip_waiting"`
	Partitions  domain.PartitionSet `json:"partitions"`
	Controller  ControllerState     `json:"controller"`
}

// NewMetricsHandler は新しいMetricsHandlerインスタンスを作成
func NewMetricsHandler(
	metricsUseCase *usecase.MetricsUseCase,
	prometheus http.Handler,
	manager *usecase.CacheManager,
	controller *Controller,
	logger domain.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		metricsUseCase: metricsUseCase,
		prometheus:     prometheus,
		manager:        manager,
		controller:     controller,
		logger:         logger,
	}
}

// Routes はエンドポイントを登録した ServeMux を返す
func (h *MetricsHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /lifecycle", h.HandleLifecycle)
	return mux
}

// HandleMetrics はPrometheus形式のメトリクスを提供
func (h *MetricsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.prometheus.ServeHTTP(w, r)
}

// HandleStats はJSON形式の詳細な統計情報を提供
func (h *MetricsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metricsUseCase.GetMetricsSnapshot())
}

// HandleHealth はヘルスチェックエンドポイントを提供.
// 有効化が終わるまでは 503 を返す.
func (h *MetricsHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	phase := h.manager.Phase()
	status := http.StatusOK
	state := "up"
	if phase != domain.PhaseActive && phase != domain.PhaseRedundant {
		status = http.StatusServiceUnavailable
		state = "starting"
	}

	h.writeJSON(w, status, map[string]string{
		"status": state,
		"phase":  phase.String(),
	})
}

// HandleLifecycle はライフサイクルの状態を提供
func (h *MetricsHandler) HandleLifecycle(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, lifecycleStatus{
		Version:     h.manager.Version(),
		Mode:        h.manager.Mode(),
		Phase:       h.manager.Phase().String(),
		SkipWaiting: h.manager.SkipWaiting(),
		Partitions:  h.manager.Partitions(),
		Controller:  h.controller.State(),
	})
}

func (h *MetricsHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", err, nil)
	}
}
