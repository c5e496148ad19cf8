package sample

import (
	"bytes"
	"html/template"
	"io"

	"github.com/any-hub/pagecache/internal/pages"
)

var indexBody = template.Must(template.New("index").Parse(`<ul>
{{range .}}<li><strong>{{.Key}}</strong>: {{.Description}}</li>
{{end}}</ul>`))

func init() {
	pages.MustRegister(pages.Metadata{
		Key:         "index",
		Description: "列出所有已注册页面",
		Render:      renderIndex,
	})
}

func renderIndex(rc *pages.RenderContext, w io.Writer) error {
	var body bytes.Buffer
	if err := indexBody.Execute(&body, pages.List()); err != nil {
		return err
	}
	return renderLayout(w, "Pages", template.HTML(body.String()), rc.Now)
}
