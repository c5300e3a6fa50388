package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"offlinecache/internal/domain"
)

// Repository はルーティング規則をYAMLファイルから読み込む.
// 読み込みに失敗した場合は直前の規則を使い続ける.
type Repository struct {
	mu         sync.RWMutex
	configFile string
	rules      domain.RoutingRules
	logger     domain.Logger
}

var _ domain.RulesProvider = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
// ファイルがなければデフォルトの規則で作成する.
func New(configFile string, logger domain.Logger) (*Repository, error) {
	r := &Repository{
		configFile: configFile,
		rules:      domain.DefaultRoutingRules(),
		logger:     logger,
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Rules は現在の規則を返す
func (r *Repository) Rules() domain.RoutingRules {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := r.rules
	rules.FontHosts = append([]string(nil), r.rules.FontHosts...)
	return rules
}

// Reload は設定を再読み込み
func (r *Repository) Reload() error {
	config, err := loadConfigFile(r.configFile)
	if err != nil {
		return fmt.Errorf("failed to read routing rules: %w", err)
	}

	rules, err := config.prepare()
	if err != nil {
		return fmt.Errorf("invalid routing rules in %s: %w", r.configFile, err)
	}

	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()

	r.logger.Info("Loaded routing rules", map[string]interface{}{
		"image_prefix":      rules.ImagePrefix,
		"script_prefix":     rules.ScriptPrefix,
		"stylesheet_suffix": rules.StylesheetSuffix,
		"font_hosts":        rules.FontHosts,
	})
	return nil
}

// Watch は設定ファイルの変更を監視し、ctx が終わるまで再読み込みを続ける.
// エディタによる置き換えにも追従するためディレクトリを監視する.
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.configFile)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.configFile, err)
	}

	target := filepath.Clean(r.configFile)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error("Error reloading routing rules", err, nil)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Routing rules watcher error", err, nil)
		}
	}
}
