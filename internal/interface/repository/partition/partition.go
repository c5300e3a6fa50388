// Package partition はキャッシュパーティションの保存先を実装する.
package partition

import (
	"errors"
	"fmt"
	"regexp"

	"offlinecache/internal/domain"
)

// Backend はパーティションストアの種類
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendDisk   Backend = "disk"
)

var (
	// ErrUnsupportedMethod はGET以外のリクエストを保存しようとしたことを示す
	ErrUnsupportedMethod = errors.New("only GET requests can be stored")
	// ErrQuotaExceeded は保存容量の上限を超えたことを示す
	ErrQuotaExceeded = errors.New("partition quota exceeded")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// validateName はパーティション名がファイル名やテーブルキーとして安全か確認
func validateName(name string) error {
	if len(name) > 128 || !validName.MatchString(name) {
		return fmt.Errorf("invalid partition name %q", name)
	}
	return nil
}

// Config はストア作成の設定
type Config struct {
	Backend Backend
	// Path はSQLiteのファイルまたはディスクストアのディレクトリ
	Path string
	// MaxSize はディスクストアの容量上限（バイト）. 0 なら無制限
	MaxSize int64
}

// New は設定に応じたストアを作成する.
// 返される close 関数はストアの資源を解放する.
func New(cfg Config) (domain.PartitionStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), noop, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendDisk:
		s, err := NewDiskStore(cfg.Path, cfg.MaxSize)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported partition backend: %s. Must be memory, sqlite, or disk", cfg.Backend)
	}
}
