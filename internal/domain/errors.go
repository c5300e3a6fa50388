package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotCached はキャッシュにもネットワークにもレスポンスがないことを示す.
var ErrNotCached = errors.New("no cached response")

// ErrFetchFailed はネットワークからの取得失敗エラー.
type ErrFetchFailed struct {
	URL string
	Err error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *ErrFetchFailed) Unwrap() error {
	return e.Err
}

// ErrPartitionOpen はパーティションを開けなかったことを示す.
type ErrPartitionOpen struct {
	Name string
	Err  error
}

func (e *ErrPartitionOpen) Error() string {
	return fmt.Sprintf("failed to open partition %s: %v", e.Name, e.Err)
}

func (e *ErrPartitionOpen) Unwrap() error {
	return e.Err
}

// ErrActivation は古いパーティションの削除に失敗したことを示す.
// 有効化と purge コマンドの両方が返す.
// 削除済みのパーティションは元に戻らない.
type ErrActivation struct {
	Failed []string
	Err    error
}

func (e *ErrActivation) Error() string {
	return fmt.Sprintf("failed to delete partitions [%s]: %v",
		strings.Join(e.Failed, ", "), e.Err)
}

func (e *ErrActivation) Unwrap() error {
	return e.Err
}

// ErrInvalidPhase はライフサイクルの不正な遷移を示す.
type ErrInvalidPhase struct {
	From Phase
	To   Phase
}

func (e *ErrInvalidPhase) Error() string {
	return fmt.Sprintf("invalid lifecycle transition from %s to %s", e.From, e.To)
}
