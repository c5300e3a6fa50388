package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"offlinecache/internal/domain"
	"offlinecache/internal/interface/repository/partition"
)

// ビルド時にリンカフラグで設定される
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "offlinecache",
	Short:         "Versioned offline cache in front of a static site.",
	Long:          `offlinecache serves a static site through per-version cache partitions so that pages, images, and assets stay available while the origin is unreachable.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(partitionsCmd)
	rootCmd.AddCommand(versionCmd)

	partitionsCmd.AddCommand(partitionsListCmd)
	partitionsCmd.AddCommand(partitionsPurgeCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file")
	flags.String("version-tag", domain.DefaultVersion, "Version tag appended to partition names")
	flags.String("backend", string(partition.BackendSQLite), "Partition backend: memory or sqlite or disk")
	flags.String("cache-path", defaultCacheDir, "SQLite file or directory for cached partitions")
	flags.Int64("max-cache-size", 100*1024*1024, "Maximum disk cache size in bytes (0 = unlimited)")
	flags.String("log-dir", defaultLogDir, "Log directory")
	flags.String("log-level", "info", "Log level: debug or info or warn or error")
	cobra.CheckErr(viper.BindPFlags(flags))
	// version は cobra の --version と衝突するため別名で受ける
	cobra.CheckErr(viper.BindPFlag("version", flags.Lookup("version-tag")))

	serveFlags := serveCmd.Flags()
	serveFlags.Int("port", defaultPort, "Proxy server port")
	serveFlags.Int("metrics-port", defaultMetricsPort, "Metrics server port")
	serveFlags.String("origin", "", "Origin URL of the static site")
	serveFlags.String("mode", string(domain.ModeCaching), "Mode: caching or cleanup")
	serveFlags.String("config-dir", defaultConfigDir, "Directory holding routes.yaml")
	serveFlags.Duration("revalidate-timeout", 30*time.Second, "Timeout for background revalidation")
	serveFlags.Duration("activation-retry", 5*time.Second, "Delay between activation attempts")
	serveFlags.Duration("metrics-save-interval", time.Minute, "Metrics save interval")
	serveFlags.BoolP("verbose", "v", false, "Also write logs to stderr")
	cobra.CheckErr(viper.BindPFlags(serveFlags))

	partitionsPurgeCmd.Flags().Bool("all", false, "Delete current partitions as well")
	cobra.CheckErr(viper.BindPFlag("all", partitionsPurgeCmd.Flags().Lookup("all")))
}

// initConfig は設定ファイルと環境変数を読み込む
func initConfig() {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("offlinecache")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(defaultConfigDir)
	}

	viper.SetEnvPrefix("OFFLINECACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig は設定を読み込んで構造体に展開する
func loadConfig() (*config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	return cfg, nil
}
