package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Option 调整 fileStore 的可选行为。
type Option func(*fileStore)

// WithClock 替换写入时使用的时钟，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *fileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。basePath 必须是
// 启动阶段已解析好的绝对路径，运行期不再读取进程工作目录。
func NewStore(basePath string, opts ...Option) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache directory required")
	}
	if !filepath.IsAbs(basePath) {
		return nil, fmt.Errorf("%w: cache directory must be absolute: %s", ErrInvalidPath, basePath)
	}

	clean := filepath.Clean(basePath)
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	store := &fileStore{
		basePath: clean,
		now:      time.Now,
		locks:    make(map[string]*entryLock),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// fileStore 通过 entryLock 避免同一路径并发写入交错。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Read(ctx context.Context, path string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(path)
	if err != nil {
		return nil, err
	}

	// 打开后基于同一个文件描述符 stat + 读取，rename 替换期间也能得到一致的 mtime/正文。
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Path:    filePath,
		Content: content,
		ModTime: normalizeModTime(info.ModTime()),
		Hash:    ContentHash(content),
	}, nil
}

func (s *fileStore) Write(ctx context.Context, path string, content []byte, opts WriteOptions) (*Entry, error) {
	filePath, err := s.entryPath(path)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(filePath)
	defer unlock()

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(content)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = s.now()
	}
	modTime = normalizeModTime(modTime)
	// 先在临时文件上设置 mtime，rename 后正文与时间戳同时可见。
	if err := os.Chtimes(tempName, modTime, modTime); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	return &Entry{
		Path:    filePath,
		Content: content,
		ModTime: modTime,
		Hash:    ContentHash(content),
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, path string) error {
	filePath, err := s.entryPath(path)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 校验 path 为 basePath 之下的绝对路径。
func (s *fileStore) entryPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s is not absolute", ErrInvalidPath, path)
	}
	clean := filepath.Clean(path)
	if clean == s.basePath || !strings.HasPrefix(clean, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, path, s.basePath)
	}
	return clean, nil
}

// normalizeModTime 保留到秒：HTTP 日期只有秒级精度，Last-Modified 与 mtime 需要可精确比较。
func normalizeModTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
