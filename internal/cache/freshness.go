package cache

import "time"

// IsFresh 判断创建于 modTime 的条目在 now 时刻是否仍处于 duration 有效期内。
// 恰好到期（now == modTime + duration）视为过期。
func IsFresh(modTime time.Time, duration time.Duration, now time.Time) bool {
	return now.Sub(modTime) < duration
}

// ExpiresAt 返回条目的过期时刻。
func ExpiresAt(modTime time.Time, duration time.Duration) time.Time {
	return modTime.Add(duration)
}
