// Package reports renders visitor statistics as downloadable documents.
package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/qpaper/internal/analytics"
)

// Format identifies the output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat returns the format named s. An empty string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// Filename names the export of snap, e.g. visits_2026-10-12_2026-10-18.csv.
func Filename(snap analytics.Snapshot, f Format) string {
	if len(snap.Daily) == 0 {
		return "visits." + string(f)
	}
	return fmt.Sprintf("visits_%s_%s.%s", snap.Daily[0].Date, snap.Daily[len(snap.Daily)-1].Date, f)
}

// Generate renders snap in format f.
func Generate(snap analytics.Snapshot, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return GenerateCSV(snap)
	case FormatHTML:
		return GenerateHTML(snap)
	default:
		return GenerateJSON(snap)
	}
}

// GenerateJSON generates a JSON report.
func GenerateJSON(snap analytics.Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// GenerateCSV writes one date,count row per day of the window.
func GenerateCSV(snap analytics.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"date", "visits"}); err != nil {
		return nil, err
	}
	for _, p := range snap.Daily {
		if err := w.Write([]string{p.Date, strconv.FormatInt(p.Count, 10)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateHTML generates a printable HTML report.
func GenerateHTML(snap analytics.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, snap); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.Format("January 2, 2006 15:04 MST")
	},
	"formatNumber": formatNumberWithCommas,
}).Parse(htmlTemplate))

func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "-" + formatNumberWithCommas(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Visitor report</title>
</head>
<body>
<h1>Visitor report</h1>
<p>Generated {{formatDate .GeneratedAt}}</p>
{{if .Degraded}}<p><strong>Statistics are temporarily unavailable.</strong></p>{{end}}
<table>
<tr><th>Total visits</th><td>{{formatNumber .Total}}</td></tr>
<tr><th>Unique visitors</th><td>{{formatNumber .Unique}}</td></tr>
</table>
<h2>Last {{.WindowDays}} days</h2>
<table>
<thead><tr><th>Date</th><th>Visits</th></tr></thead>
<tbody>
{{range .Daily}}<tr><td>{{.Date}}</td><td>{{formatNumber .Count}}</td></tr>
{{end}}</tbody>
</table>
</body>
</html>
`
