package sample

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/any-hub/pagecache/internal/pages"
)

// statsDuration 是统计片段的缓存时长，独立于整页缓存时长。
const statsDuration = 5 * time.Minute

const maxStatsSize = 100000

func init() {
	pages.MustRegister(pages.Metadata{
		Key:         "dashboard",
		Description: "页面框架实时生成，统计区域走片段缓存",
		Render:      renderDashboard,
	})
}

func renderDashboard(rc *pages.RenderContext, w io.Writer) error {
	size := 1000
	if raw := rc.Query.Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxStatsSize {
			return fmt.Errorf("invalid n: %q", raw)
		}
		size = parsed
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "<p>requested at %s</p>\n", template.HTMLEscapeString(rc.Now.UTC().Format(time.RFC3339)))

	key := "dashboard-stats-" + strconv.Itoa(size) + ".html"
	err := rc.Fragment(&body, key, statsDuration, func(fw io.Writer) error {
		var sum, squares int64
		for i := int64(1); i <= int64(size); i++ {
			sum += i
			squares += i * i
		}
		_, err := fmt.Fprintf(fw, "<dl><dt>n</dt><dd>%d</dd><dt>sum</dt><dd>%d</dd><dt>squares</dt><dd>%d</dd><dt>computed</dt><dd>%s</dd></dl>\n",
			size, sum, squares, rc.Now.UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return err
	}
	return renderLayout(w, "Dashboard", template.HTML(body.String()), rc.Now)
}
