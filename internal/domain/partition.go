package domain

import (
	"context"
	"fmt"
)

// Purpose はパーティションの用途を表す.
type Purpose string

const (
	PurposeImages Purpose = "img"
	PurposeAssets Purpose = "assets"
	PurposePages  Purpose = "pages"
)

// DefaultVersion はデフォルトのバージョンタグ.
const DefaultVersion = "v1-2025-09-11"

// PartitionName は用途とバージョンタグからパーティション名を組み立てる.
func PartitionName(purpose Purpose, version string) string {
	return fmt.Sprintf("%s-%s", purpose, version)
}

// PartitionSet は現行バージョンの3つのパーティション名.
type PartitionSet struct {
	Images string `json:"images"`
	Assets string `json:"assets"`
	Pages  string `json:"pages"`
}

// NewPartitionSet はバージョンタグから現行のパーティション名を作成.
func NewPartitionSet(version string) PartitionSet {
	return PartitionSet{
		Images: PartitionName(PurposeImages, version),
		Assets: PartitionName(PurposeAssets, version),
		Pages:  PartitionName(PurposePages, version),
	}
}

// Names は保持すべき名前の集合を返す.
func (s PartitionSet) Names() map[string]struct{} {
	return map[string]struct{}{
		s.Images: {},
		s.Assets: {},
		s.Pages:  {},
	}
}

// Partition は名前付きのキャッシュ領域.
// キーはリクエストの識別子で、同じキーへの書き込みは後勝ち.
type Partition interface {
	Name() string
	Match(ctx context.Context, req *Request) (*Response, bool, error)
	Put(ctx context.Context, req *Request, resp *Response) error
	Keys(ctx context.Context) ([]string, error)
}

// PartitionStore はパーティションの生成と削除を管理するインターフェース.
type PartitionStore interface {
	// Open は既存のパーティションを返すか、なければ作成する.
	Open(ctx context.Context, name string) (Partition, error)
	// Names は存在するパーティション名の一覧を返す.
	Names(ctx context.Context) ([]string, error)
	// Delete はパーティションを削除する. 存在しなければ false を返す.
	Delete(ctx context.Context, name string) (bool, error)
}
