package notifications

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// HealthPageParams contains data for rendering the health page.
type HealthPageParams struct {
	Port  int
	Ready bool
}

// HealthPage renders the landing page served at "/".
func HealthPage(p HealthPageParams) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		status, class := "ready", "ok"
		if !p.Ready {
			status, class = "not ready", "down"
		}

		_, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<title>Notification Service</title>`+
			`<style>body{font-family:sans-serif;margin:3rem}.ok{color:#15803d}.down{color:#b91c1c}</style>`+
			`</head><body><h1>Notification Service</h1><p>Status: <strong class="`+class+`">`+
			templ.EscapeString(status)+`</strong></p><p>Listening on port <code>`+
			templ.EscapeString(strconv.Itoa(p.Port))+`</code></p>`+
			`<ul><li><code>/ws</code> WebSocket</li><li><code>/sse</code> Server-Sent Events</li>`+
			`<li><code>/api/v1</code> HTTP API</li></ul></body></html>`)
		return err
	})
}
