package devserver

import (
	"bytes"
	"html/template"
	"slices"

	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/gofiber/fiber/v2"
)

// harnessTemplate loads every bundle with a classic script tag and lists the
// errors they raise. Script errors do not stop later tags from running.
var harnessTemplate = template.Must(template.New("harness").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Name}} {{.Version}}</title>
<script>
window.__fluxpackErrors = [];
window.addEventListener("error", function (e) {
  window.__fluxpackErrors.push(e.message);
  var li = document.createElement("li");
  li.textContent = e.message;
  document.addEventListener("DOMContentLoaded", function () {
    document.getElementById("errors").appendChild(li);
  });
});
</script>
{{range .Scripts}}<script src="/{{.File}}" integrity="{{.Integrity}}" crossorigin="anonymous"></script>
{{end}}</head>
<body>
<h1>{{.Name}} {{.Version}}</h1>
<p>Build {{.BuildID}}, revision {{.Revision}}.{{if .Misordered}} Bundles are loaded in reverse order.{{end}}</p>
<h2>Load order</h2>
<ol>
{{range .Scripts}}<li>{{.Name}} ({{.Role}})</li>
{{end}}</ol>
<h2>Errors</h2>
<ul id="errors"></ul>
<script>
if (typeof {{.Namespace}} !== "undefined") {
  var p = document.createElement("p");
  p.textContent = "{{.Namespace}} loaded: " + Object.keys({{.Namespace}}).join(", ");
  document.body.appendChild(p);
}
</script>
</body>
</html>
`))

type harnessData struct {
	Name       string
	Version    string
	BuildID    string
	Revision   string
	Namespace  template.JS
	Misordered bool
	Scripts    []manifest.Target
}

// Scripts returns the targets in the order the harness loads them
func Scripts(m *manifest.Manifest, misordered bool) []manifest.Target {
	byFile := make(map[string]manifest.Target, len(m.Targets))
	for _, t := range m.Targets {
		byFile[t.File] = t
	}

	scripts := make([]manifest.Target, 0, len(m.LoadOrder))
	for _, file := range m.LoadOrder {
		if t, ok := byFile[file]; ok {
			scripts = append(scripts, t)
		}
	}
	if misordered {
		slices.Reverse(scripts)
	}
	return scripts
}

// RenderHarness renders the HTML page loading the bundles of m
func RenderHarness(m *manifest.Manifest, misordered bool) ([]byte, error) {
	var buf bytes.Buffer
	err := harnessTemplate.Execute(&buf, harnessData{
		Name:       m.Name,
		Version:    m.Version,
		BuildID:    m.BuildID,
		Revision:   m.Revision,
		Namespace:  template.JS(m.Namespace),
		Misordered: misordered,
		Scripts:    Scripts(m, misordered),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleHarness(c *fiber.Ctx) error {
	m, err := s.readManifest()
	if err != nil {
		return err
	}

	page, err := RenderHarness(m, s.opts.Misordered)
	if err != nil {
		return err
	}

	c.Type("html", "utf-8")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(page)
}
