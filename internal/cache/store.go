package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责管理磁盘页面缓存的读写。磁盘布局遵循：
//
//	<CacheDirectory>/<key>                 # 调用方指定的 key
//	<CacheDirectory>/<xxhash(URI)>.html    # 未指定 key 时由请求 URI 推导
//
// 每个条目仅由正文文件组成，文件的 ModTime 即条目的创建时间。
type Store interface {
	// Read 每次都重新 stat 文件并读取完整正文。若不存在则返回 ErrNotFound。
	Read(ctx context.Context, path string) (*Entry, error)

	// Write 整体替换 path 上的条目。实现需通过同目录临时文件 + rename 保证读者
	// 永远看不到半截文件，失败时清理临时文件并保留旧条目。
	Write(ctx context.Context, path string, content []byte, opts WriteOptions) (*Entry, error)

	// Remove 删除条目，文件已不存在不视为错误。
	Remove(ctx context.Context, path string) error
}

// WriteOptions 控制写入过程中的可选属性。
type WriteOptions struct {
	// ModTime 为空时使用 Store 的时钟。
	ModTime time.Time
}

// Entry 表示一次读写得到的缓存条目。
type Entry struct {
	Path    string    `json:"path"`
	Content []byte    `json:"-"`
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidPath 表示路径不是绝对路径或越出了缓存根目录。
	ErrInvalidPath = errors.New("invalid cache path")
)
