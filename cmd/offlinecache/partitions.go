package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"offlinecache/internal/domain"
	"offlinecache/internal/interface/repository/partition"
	"offlinecache/internal/usecase"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Inspect or clear cached partitions.",
}

var partitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List partitions with their entry counts.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := cmd.Context()
		names, err := store.Names(ctx)
		if err != nil {
			return fmt.Errorf("failed to list partitions: %w", err)
		}
		if len(names) == 0 {
			cmd.Println("No partitions.")
			return nil
		}

		current := domain.NewPartitionSet(cfg.Version).Names()
		for _, name := range names {
			p, err := store.Open(ctx, name)
			if err != nil {
				cmd.PrintErrf("skipping %s: %v\n", name, err)
				continue
			}
			keys, err := p.Keys(ctx)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}

			state := "stale"
			if _, ok := current[name]; ok {
				state = "current"
			}
			cmd.Printf("%-32s %-8s %d entries\n", name, state, len(keys))
		}
		return nil
	},
}

var partitionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete partitions that do not belong to the configured version.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, store, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		keep := domain.NewPartitionSet(cfg.Version).Names()
		if viper.GetBool("all") {
			keep = map[string]struct{}{}
		}

		deleted, err := usecase.DeletePartitionsExcept(cmd.Context(), store, keep)
		for _, name := range deleted {
			cmd.Printf("deleted %s\n", name)
		}
		if err != nil {
			return err
		}
		cmd.Printf("%d partition(s) deleted\n", len(deleted))
		return nil
	},
}

func openStore() (*config, domain.PartitionStore, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.validateStore(); err != nil {
		return nil, nil, nil, err
	}
	if cfg.backend == partition.BackendMemory {
		return nil, nil, nil, fmt.Errorf("the memory backend has nothing to inspect")
	}
	if err := prepareStoreDir(cfg); err != nil {
		return nil, nil, nil, err
	}

	store, closeStore, err := partition.New(cfg.storeConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, closeStore, nil
}
