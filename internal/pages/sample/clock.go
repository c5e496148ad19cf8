package sample

import (
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/any-hub/pagecache/internal/pages"
)

func init() {
	pages.MustRegister(pages.Metadata{
		Key:         "clock",
		Description: "输出生成时刻，缓存命中期间内容保持不变",
		Render:      renderClock,
	})
}

func renderClock(rc *pages.RenderContext, w io.Writer) error {
	body := fmt.Sprintf("<p id=\"clock\">%s</p>", template.HTMLEscapeString(rc.Now.UTC().Format(http.TimeFormat)))
	return renderLayout(w, "Clock", template.HTML(body), rc.Now)
}
