// Package sample 提供内置示例页面，用于演示整页缓存、片段缓存、会话与源站回源。
// 各页面在 init() 中注册，由 config 包通过空白导入加载。
package sample

import (
	"html/template"
	"io"
	"time"
)

const layoutSource = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{.Body}}
<footer>generated {{.Generated}}</footer>
</body>
</html>
`

var layout = template.Must(template.New("layout").Parse(layoutSource))

type layoutData struct {
	Title     string
	Body      template.HTML
	Generated string
}

// renderLayout 把已转义的正文嵌入统一页面框架。
func renderLayout(w io.Writer, title string, body template.HTML, now time.Time) error {
	return layout.Execute(w, layoutData{
		Title:     title,
		Body:      body,
		Generated: now.UTC().Format(time.RFC3339),
	})
}
