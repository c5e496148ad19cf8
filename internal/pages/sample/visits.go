package sample

import (
	"fmt"
	"html/template"
	"io"

	"github.com/any-hub/pagecache/internal/pages"
)

const visitsKey = "visits"

func init() {
	pages.MustRegister(pages.Metadata{
		Key:         "session",
		Description: "启动会话并记录访问次数",
		Render:      renderVisits,
	})
}

func renderVisits(rc *pages.RenderContext, w io.Writer) error {
	if rc.Session == nil {
		return fmt.Errorf("session layer unavailable")
	}
	visits := 0
	if v, ok := rc.Session.Get(visitsKey); ok {
		visits, _ = v.(int)
	}
	visits++
	rc.Session.Set(visitsKey, visits)

	body := fmt.Sprintf("<p>visits: %d</p>", visits)
	return renderLayout(w, "Session", template.HTML(body), rc.Now)
}
