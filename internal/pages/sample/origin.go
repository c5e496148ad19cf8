package sample

import (
	"fmt"
	"io"
	"strings"

	"github.com/any-hub/pagecache/internal/pages"
)

// maxOriginBody 限制单次回源读取的正文大小。
const maxOriginBody = 8 << 20

func init() {
	pages.MustRegister(pages.Metadata{
		Key:            "origin",
		Description:    "从配置的源站拉取正文",
		RequiresOrigin: true,
		Render:         renderOrigin,
	})
}

func renderOrigin(rc *pages.RenderContext, w io.Writer) error {
	if rc.Upstream == nil {
		return fmt.Errorf("%w: origin not configured", pages.ErrUpstream)
	}
	path := "/" + strings.Join(rc.Segments, "/")

	resp, err := rc.Upstream.Fetch(rc.Context, path, rc.Query.Encode())
	if err != nil {
		return fmt.Errorf("%w: %v", pages.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: origin status %d", pages.ErrUpstream, resp.StatusCode)
	}
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxOriginBody)); err != nil {
		return fmt.Errorf("%w: %v", pages.ErrUpstream, err)
	}
	return nil
}
