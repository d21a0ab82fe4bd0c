package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/dbbot/pkg/fsutil"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html.tmpl").
		Funcs(template.FuncMap{
			"duration":  humanDuration,
			"timestamp": formatTimestamp,
		}).
		ParseFS(templateFS, "templates/report.html.tmpl"),
)

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	if d < time.Second {
		return d.String()
	}

	return units.HumanDuration(d)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.UTC().Format("2006-01-02 15:04:05")
}

// RenderHTML writes the summary as an HTML page. Names are escaped.
func RenderHTML(w io.Writer, s *Summary) error {
	if err := reportTemplate.Execute(w, s); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	return nil
}

// WriteHTMLFile renders the summary to path. An existing file is only
// replaced once rendering succeeded.
func WriteHTMLFile(path string, s *Summary, owner *fsutil.OwnerConfig) error {
	return fsutil.WriteAtomic(path, 0o644, owner, func(w io.Writer) error {
		return RenderHTML(w, s)
	})
}
