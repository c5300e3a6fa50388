package domain

// Phase はキャッシュマネージャのライフサイクル段階.
type Phase int32

const (
	PhaseRegistered Phase = iota
	PhaseInstalling
	PhaseActivating
	PhaseActive
	PhaseRedundant
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistered:
		return "registered"
	case PhaseInstalling:
		return "installing"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	case PhaseRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Mode はマネージャの動作モード.
type Mode string

const (
	// ModeCaching は通常のキャッシュ動作.
	ModeCaching Mode = "caching"
	// ModeCleanup は全パーティションを削除して登録を解除する.
	ModeCleanup Mode = "cleanup"
)

// Strategy はリクエストに適用するキャッシュ戦略.
type Strategy string

const (
	StrategyPassthrough          Strategy = "passthrough"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Route はルーティングの判定結果.
type Route struct {
	Strategy  Strategy
	Partition string
}

// Intercepted はマネージャがリクエストに応答するかどうかを返す.
func (r Route) Intercepted() bool {
	return r.Strategy != StrategyPassthrough
}

// RoutingRules はURLの形からアセットの種類を判定するための規則.
type RoutingRules struct {
	ImagePrefix      string   `yaml:"image_prefix" json:"image_prefix"`
	ScriptPrefix     string   `yaml:"script_prefix" json:"script_prefix"`
	StylesheetSuffix string   `yaml:"stylesheet_suffix" json:"stylesheet_suffix"`
	FontHosts        []string `yaml:"font_hosts" json:"font_hosts"`
}

// DefaultRoutingRules はデフォルトの規則を返す.
func DefaultRoutingRules() RoutingRules {
	return RoutingRules{
		ImagePrefix:      "/img/",
		ScriptPrefix:     "/js/",
		StylesheetSuffix: "/styles.css",
		FontHosts:        []string{"fonts.googleapis.com", "fonts.gstatic.com"},
	}
}

// RulesProvider は現在のルーティング規則を提供する.
type RulesProvider interface {
	Rules() RoutingRules
}
