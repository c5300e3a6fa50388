package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"offlinecache/internal/domain"
)

// Repository はロガーのリポジトリ実装.
// レコードは slog のJSON形式で書き込まれ、ファイルはサイズでローテーションする.
type Repository struct {
	mu       sync.Mutex
	file     *os.File
	out      io.Writer
	config   *RotationConfig
	dir      string
	filename string
	logger   *slog.Logger
	done     chan struct{}
	once     sync.Once
}

// Verify interface implementation.
var _ domain.Logger = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
// tee を指定するとファイルと同じ内容をそちらにも書き込む.
func New(directory, filename string, level LogLevel, config *RotationConfig, tee ...io.Writer) (
	*Repository, error,
) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultRotationConfig()
	}

	path := filepath.Join(directory, filename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		file:     file,
		config:   config,
		dir:      directory,
		filename: filename,
		done:     make(chan struct{}),
	}

	var w io.Writer = r
	if len(tee) > 0 {
		w = io.MultiWriter(append([]io.Writer{r}, tee...)...)
	}
	r.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))

	// ログクリーンアップを定期的に実行
	go r.periodicCleanup()

	return r, nil
}

// NewStream はファイルを使わずに w へ書き込むロガーを作成.
func NewStream(w io.Writer, level LogLevel) *Repository {
	r := &Repository{
		out:  w,
		done: make(chan struct{}),
	}
	r.logger = slog.New(slog.NewTextHandler(r, &slog.HandlerOptions{Level: level.slogLevel()}))
	return r
}

// Slog は内部の slog.Logger を返す.
func (r *Repository) Slog() *slog.Logger {
	return r.logger
}

// Info はINFOレベルのログを記録.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.log(INFO, msg, nil, fields)
}

// Warn はWARNレベルのログを記録.
func (r *Repository) Warn(msg string, fields map[string]interface{}) {
	r.log(WARN, msg, nil, fields)
}

// Error はERRORレベルのログを記録.
func (r *Repository) Error(
	msg string, err error, fields map[string]interface{},
) {
	r.log(ERROR, msg, err, fields)
}

// Debug はDEBUGレベルのログを記録.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.log(DEBUG, msg, nil, fields)
}

func (r *Repository) log(level LogLevel, msg string, err error, fields map[string]interface{}) {
	r.logger.Log(context.Background(), level.slogLevel(), msg, toAttrs(err, fields)...)
}

// Write はハンドラーから1レコードずつ呼ばれる.
func (r *Repository) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return r.out.Write(p)
	}

	// ローテーションのチェック.
	if needs, err := needsRotation(r.file.Name(), r.config.MaxSize); err == nil && needs {
		if err := r.rotate(); err != nil {
			os.Stderr.WriteString("Failed to rotate log: " + err.Error() + "\n")
		}
	}

	return r.file.Write(p)
}

// rotate はログファイルをローテーション.
func (r *Repository) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	if err := rotateFile(r.file.Name()); err != nil {
		return err
	}

	file, err := os.OpenFile(filepath.Join(r.dir, r.filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	r.file = file
	return nil
}

// periodicCleanup は定期的に古いログファイルを削除.
func (r *Repository) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := cleanOldLogs(r.dir, r.filename, r.config); err != nil {
				r.Error("Failed to clean old logs", err, nil)
			}
		case <-r.done:
			return
		}
	}
}

// Close はロガーのリソースを解放.
func (r *Repository) Close() error {
	r.once.Do(func() { close(r.done) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
