package cache

import (
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Evictor 按概率扫描缓存目录并删除超过清理期限的文件，把目录扫描成本摊到多次请求上。
type Evictor struct {
	logger *logrus.Logger
	now    func() time.Time
	// roll 返回 1..100 的均匀随机数。
	roll   func() int
	remove func(string) error
}

// EvictorOption 调整 Evictor 的默认依赖。
type EvictorOption func(*Evictor)

// WithEvictorClock 替换清理器判断文件年龄时使用的时钟。
func WithEvictorClock(now func() time.Time) EvictorOption {
	return func(e *Evictor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvictor 构造默认使用 time.Now 与 math/rand 的清理器。
func NewEvictor(logger *logrus.Logger, opts ...EvictorOption) *Evictor {
	e := &Evictor{
		logger: logger,
		now:    time.Now,
		roll:   func() int { return rand.IntN(100) + 1 },
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CleanUp 以 probability/100 的概率执行一次清理：枚举 pattern（filepath.Glob 语法）
// 匹配的普通文件，删除 mtime 早于 now-duration 的文件，返回删除数量。
// 删除竞争（文件已被其他清理或重新生成移走）会被吞掉，其余删除失败仅记录日志。
func (e *Evictor) CleanUp(pattern string, duration time.Duration, probability int) int {
	// roll 落在 1..100，probability<=0 时永远不会清理。
	if e.roll() > probability {
		return 0
	}
	Sweeps.Inc()

	matches, err := filepath.Glob(pattern)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "cache_cleanup",
			"pattern": pattern,
		}).Warn("cache_cleanup_bad_pattern")
		return 0
	}

	cutoff := e.now().Add(-duration)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := e.remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				StoreErrors.WithLabelValues("remove").Inc()
				e.logger.WithError(err).WithFields(logrus.Fields{
					"action": "cache_cleanup",
					"path":   path,
				}).Debug("cache_cleanup_remove_failed")
			}
			continue
		}
		removed++
	}

	if removed > 0 {
		Evicted.Add(float64(removed))
		e.logger.WithFields(logrus.Fields{
			"action":  "cache_cleanup",
			"pattern": pattern,
			"removed": removed,
		}).Info("cache_cleanup_complete")
	}
	return removed
}
