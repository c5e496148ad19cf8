// Package version 保存构建时注入的版本信息。
package version

import "fmt"

// Name 是 CLI 与日志中使用的服务名。
const Name = "pagecache"

// Version/Commit 通过 -ldflags "-X" 注入，未注入时为开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 "pagecache 0.1.0 (dev)" 形式的版本串。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
}
