package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultExtension 是由请求 URI 推导 key 时附加的扩展名。
const DefaultExtension = ".html"

// ContentHash 返回正文的稳定摘要，作为 ETag 使用。无论正文来自刚生成的输出还是
// 磁盘读回，相同字节总得到相同结果。
func ContentHash(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// ResolvePath 将 (dir, key) 映射为缓存文件路径；key 为空时使用请求 URI 的摘要
// 加 DefaultExtension。dir 必须是绝对路径，key 不允许越出 dir。
func ResolvePath(dir, key, requestURI string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("%w: cache directory must be absolute: %s", ErrInvalidPath, dir)
	}
	if key == "" {
		key = ContentHash([]byte(requestURI)) + DefaultExtension
	}

	base := filepath.Clean(dir)
	full := filepath.Join(base, filepath.FromSlash(key))
	if full == base || !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes %s", ErrInvalidPath, key, dir)
	}
	return full, nil
}
