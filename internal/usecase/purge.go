package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"offlinecache/internal/domain"
)

// DeletePartitionsExcept は keep に含まれないパーティションを並行して削除し、
// 削除した名前を返す. すべての削除が終わるまで戻らない.
// 一つでも失敗すれば ErrActivation に失敗した名前をまとめて返す.
func DeletePartitionsExcept(
	ctx context.Context, store domain.PartitionStore, keep map[string]struct{},
) ([]string, error) {
	names, err := store.Names(ctx)
	if err != nil {
		return nil, &domain.ErrActivation{Err: fmt.Errorf("failed to list partitions: %w", err)}
	}

	var (
		mu      sync.Mutex
		deleted []string
		failed  []string
		g       errgroup.Group
	)

	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		g.Go(func() error {
			ok, err := store.Delete(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, name)
				return fmt.Errorf("delete %s: %w", name, err)
			}
			if ok {
				deleted = append(deleted, name)
			}
			return nil
		})
	}

	err = g.Wait()
	sort.Strings(deleted)
	if err != nil {
		sort.Strings(failed)
		return deleted, &domain.ErrActivation{Failed: failed, Err: err}
	}
	return deleted, nil
}
