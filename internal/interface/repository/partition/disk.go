package partition

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"offlinecache/internal/domain"
)

const (
	entryExt          = ".entry"
	compressThreshold = 1024
	entryLockStripes  = 64
)

// DiskStore はパーティションをディレクトリ、エントリをファイルとして保存する
type DiskStore struct {
	mu sync.RWMutex
	// 同じエントリへの書き込みを直列化し、使用量の差分を正しく数える
	entryLocks [entryLockStripes]sync.Mutex
	baseDir    string
	maxSize    int64
	currSize   atomic.Int64
}

var _ domain.PartitionStore = (*DiskStore)(nil)

// diskEntry はファイルに保存するエントリ
type diskEntry struct {
	Key        string      `json:"key"`
	Status     int         `json:"status"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
	Compressed bool        `json:"compressed"`
}

// NewDiskStore は新しいDiskStoreインスタンスを作成
func NewDiskStore(baseDir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	s := &DiskStore{
		baseDir: baseDir,
		maxSize: maxSize,
	}

	// 既存のエントリから使用量を復元
	size, err := dirSize(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to measure cache directory: %w", err)
	}
	s.currSize.Store(size)

	return s, nil
}

// Size は現在の使用量（バイト）を返す
func (s *DiskStore) Size() int64 {
	return s.currSize.Load()
}

// Open はパーティションのディレクトリを作成して返す
func (s *DiskStore) Open(_ context.Context, name string) (domain.Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.partitionDir(name), 0755); err != nil {
		return nil, err
	}
	return &diskPartition{store: s, name: name}, nil
}

// Names はパーティション名の一覧を返す.
// パーティション名として不正なディレクトリ（lost+found など）は含めない.
func (s *DiskStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, item := range items {
		if item.IsDir() && validateName(item.Name()) == nil {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete はパーティションのディレクトリを削除
func (s *DiskStore) Delete(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.partitionDir(name)
	size, err := dirSize(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	s.currSize.Add(-size)
	return true, nil
}

func (s *DiskStore) partitionDir(name string) string {
	return filepath.Join(s.baseDir, name)
}

type diskPartition struct {
	store *DiskStore
	name  string
}

func (p *diskPartition) Name() string {
	return p.name
}

func (p *diskPartition) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(p.store.partitionDir(p.name), hex.EncodeToString(sum[:])+entryExt)
}

func (p *diskPartition) entryLock(key string) *sync.Mutex {
	sum := sha256.Sum256([]byte(key))
	return &p.store.entryLocks[int(sum[0])%entryLockStripes]
}

func (p *diskPartition) Match(_ context.Context, req *domain.Request) (*domain.Response, bool, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	entry, err := readEntry(p.entryPath(req.Key()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if entry.Key != req.Key() {
		return nil, false, nil
	}

	body := entry.Body
	if entry.Compressed {
		body, err = decompress(body)
		if err != nil {
			return nil, false, fmt.Errorf("corrupt entry for %s: %w", req.Key(), err)
		}
	}

	return &domain.Response{
		StatusCode: entry.Status,
		Headers:    entry.Headers,
		Body:       body,
		FromCache:  true,
		StoredAt:   entry.StoredAt,
	}, true, nil
}

func (p *diskPartition) Put(_ context.Context, req *domain.Request, resp *domain.Response) error {
	if !req.IsGet() {
		return ErrUnsupportedMethod
	}

	entry := diskEntry{
		Key:      req.Key(),
		Status:   resp.StatusCode,
		Headers:  resp.Headers,
		Body:     resp.Body,
		StoredAt: time.Now(),
	}

	// 大きなデータの場合は圧縮を試みる
	if len(entry.Body) > compressThreshold {
		if compData, err := compress(entry.Body); err == nil && len(compData) < len(entry.Body) {
			entry.Body = compData
			entry.Compressed = true
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	dir := p.store.partitionDir(p.name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// 削除済みのパーティションには書き込まない
			return nil
		}
		return err
	}

	lock := p.entryLock(entry.Key)
	lock.Lock()
	defer lock.Unlock()

	path := p.entryPath(entry.Key)
	var oldSize int64
	if info, err := os.Stat(path); err == nil {
		oldSize = info.Size()
	}

	delta := int64(len(data)) - oldSize
	if p.store.maxSize > 0 && p.store.currSize.Load()+delta > p.store.maxSize {
		return ErrQuotaExceeded
	}

	if err := writeFileAtomic(dir, path, data); err != nil {
		return err
	}
	p.store.currSize.Add(delta)
	return nil
}

func (p *diskPartition) Keys(_ context.Context) ([]string, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(p.store.partitionDir(p.name), "*"+entryExt))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		entry, err := readEntry(f)
		if err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func readEntry(path string) (*diskEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return &entry, nil
}

// writeFileAtomic は一時ファイルに書いてから置き換える
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// dirSize はディレクトリ配下のエントリの合計サイズを返す
func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, entryExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// compress はデータをgzip圧縮する
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompress はgzip圧縮されたデータを展開する
func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
