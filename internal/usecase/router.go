package usecase

import (
	"strings"

	"offlinecache/internal/domain"
)

// Router はリクエストの形からキャッシュ戦略とパーティションを決定する
type Router struct {
	rules      domain.RulesProvider
	partitions domain.PartitionSet
}

// NewRouter は新しいRouterインスタンスを作成
func NewRouter(rules domain.RulesProvider, partitions domain.PartitionSet) *Router {
	return &Router{
		rules:      rules,
		partitions: partitions,
	}
}

// Route は上から順に規則を評価する.
// ナビゲーション、画像、アセットの順で優先し、どれにも該当しなければ素通し.
func (r *Router) Route(req *domain.Request) domain.Route {
	if !req.IsGet() || req.URL == nil {
		return domain.Route{Strategy: domain.StrategyPassthrough}
	}

	if req.Navigate {
		return domain.Route{
			Strategy:  domain.StrategyNetworkFirst,
			Partition: r.partitions.Pages,
		}
	}

	rules := r.rules.Rules()
	path := req.URL.Path

	if rules.ImagePrefix != "" && strings.HasPrefix(path, rules.ImagePrefix) {
		return domain.Route{
			Strategy:  domain.StrategyCacheFirst,
			Partition: r.partitions.Images,
		}
	}

	if isAsset(rules, path, req.URL.Hostname()) {
		return domain.Route{
			Strategy:  domain.StrategyStaleWhileRevalidate,
			Partition: r.partitions.Assets,
		}
	}

	return domain.Route{Strategy: domain.StrategyPassthrough}
}

// isAsset はスクリプト、スタイルシート、フォントのいずれかかを判定
func isAsset(rules domain.RoutingRules, path, host string) bool {
	if rules.ScriptPrefix != "" && strings.HasPrefix(path, rules.ScriptPrefix) {
		return true
	}
	if rules.StylesheetSuffix != "" && strings.HasSuffix(path, rules.StylesheetSuffix) {
		return true
	}

	host = strings.ToLower(host)
	for _, h := range rules.FontHosts {
		if host == strings.ToLower(h) {
			return true
		}
	}
	return false
}

// StaticRules は固定の規則を返す RulesProvider
type StaticRules domain.RoutingRules

// Rules は規則をそのまま返す
func (s StaticRules) Rules() domain.RoutingRules {
	return domain.RoutingRules(s)
}
