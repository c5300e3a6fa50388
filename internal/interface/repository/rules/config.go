package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"offlinecache/internal/domain"
)

type rulesConfig struct {
	ImagePrefix      string   `yaml:"image_prefix"`
	ScriptPrefix     string   `yaml:"script_prefix"`
	StylesheetSuffix string   `yaml:"stylesheet_suffix"`
	FontHosts        []string `yaml:"font_hosts"`
}

func loadConfigFile(path string) (*rulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return nil, err
	}

	var config rulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &config, nil
}

func createDefaultConfig(path string) (*rulesConfig, error) {
	defaults := domain.DefaultRoutingRules()
	config := &rulesConfig{
		ImagePrefix:      defaults.ImagePrefix,
		ScriptPrefix:     defaults.ScriptPrefix,
		StylesheetSuffix: defaults.StylesheetSuffix,
		FontHosts:        defaults.FontHosts,
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	return config, nil
}

// prepare は設定データを正規化する.
// 空の項目はデフォルト値で補う.
func (c *rulesConfig) prepare() (domain.RoutingRules, error) {
	defaults := domain.DefaultRoutingRules()
	rules := domain.RoutingRules{
		ImagePrefix:      strings.TrimSpace(c.ImagePrefix),
		ScriptPrefix:     strings.TrimSpace(c.ScriptPrefix),
		StylesheetSuffix: strings.TrimSpace(c.StylesheetSuffix),
	}

	if rules.ImagePrefix == "" {
		rules.ImagePrefix = defaults.ImagePrefix
	}
	if rules.ScriptPrefix == "" {
		rules.ScriptPrefix = defaults.ScriptPrefix
	}
	if rules.StylesheetSuffix == "" {
		rules.StylesheetSuffix = defaults.StylesheetSuffix
	}

	for _, p := range []string{rules.ImagePrefix, rules.ScriptPrefix} {
		if !strings.HasPrefix(p, "/") {
			return domain.RoutingRules{}, fmt.Errorf("path prefix %q must start with /", p)
		}
	}

	for _, host := range c.FontHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			rules.FontHosts = append(rules.FontHosts, host)
		}
	}
	if c.FontHosts == nil {
		rules.FontHosts = defaults.FontHosts
	}

	return rules, nil
}
