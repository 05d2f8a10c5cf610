// Package formatter renders pipeline results for the terminal.
package formatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kyleking/text2sql-router/internal/cache"
	"github.com/kyleking/text2sql-router/internal/executor"
	"github.com/kyleking/text2sql-router/internal/matcher"
	"github.com/kyleking/text2sql-router/internal/pipeline"
	"github.com/kyleking/text2sql-router/internal/sqlcheck"
	"github.com/kyleking/text2sql-router/internal/storage"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatLong  OutputFormat = "long"
	FormatShort OutputFormat = "short"
	FormatJSON  OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat, defaulting to short
func ParseFormat(s string) OutputFormat {
	switch OutputFormat(strings.ToLower(s)) {
	case FormatLong:
		return FormatLong
	case FormatJSON:
		return FormatJSON
	default:
		return FormatShort
	}
}

// Formatter handles CLI output formatting
type Formatter struct {
	now func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// FormatMatches renders ranked databases, one per line in short form
func (f *Formatter) FormatMatches(results []matcher.Result, format OutputFormat) string {
	if format == FormatJSON {
		return f.json(results)
	}

	lines := make([]string, 0, len(results))

	for i, r := range results {
		lines = append(lines, fmt.Sprintf("%d. %s  Score:%.3f", i+1, r.DBID, r.Score))

		if format == FormatLong && r.Text != "" {
			lines = append(lines, indent(r.Text))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatMatch renders a routed database and its gate verdict
func (f *Formatter) FormatMatch(resp *pipeline.MatchResponse, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return f.json(resp)
	case FormatLong:
		lines := []string{
			"Database: " + resp.DBID,
			fmt.Sprintf("Relevant: %s (score %.3f)", yesNo(resp.Relevant), resp.Score),
		}

		if resp.Message != "" {
			lines = append(lines, "Message: "+resp.Message)
		}

		lines = append(lines, "Schema:", indent(resp.Schema))

		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%s  relevant=%s  Score:%.3f", resp.DBID, yesNo(resp.Relevant), resp.Score)
	}
}

// FormatGenerate renders a generation response. The short form is the SQL
// alone, or the error when there is none to show.
func (f *Formatter) FormatGenerate(resp *pipeline.GenerateResponse, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return f.json(resp)
	case FormatLong:
		lines := []string{
			"Question: " + resp.Question,
			"Database: " + orDash(resp.DBID),
			"Schema:",
			indent(orDash(resp.Schema)),
			"SQL: " + orDash(resp.SQL),
			"Valid: " + yesNo(resp.Valid),
		}

		if resp.Error != "" {
			lines = append(lines, fmt.Sprintf("Error (%s): %s", resp.ErrorType, resp.Error))
		}

		lines = append(lines, f.unknowns(resp.UnknownTables, resp.UnknownColumns)...)

		for _, s := range resp.Suggestions {
			lines = append(lines, "Suggestion: "+s)
		}

		return strings.Join(lines, "\n")
	default:
		if resp.SQL == "" || resp.Error != "" {
			return fmt.Sprintf("-- %s: %s", resp.ErrorType, resp.Error)
		}

		return resp.SQL
	}
}

// FormatOutcome renders a validation outcome
func (f *Formatter) FormatOutcome(outcome sqlcheck.Outcome, format OutputFormat) string {
	if format == FormatJSON {
		return f.json(outcome)
	}

	if format == FormatShort {
		if outcome.Valid {
			return "valid"
		}

		return "invalid: " + outcome.Err().Error()
	}

	lines := []string{
		"Valid: " + yesNo(outcome.Valid),
		"Tables: " + orDash(strings.Join(outcome.TablesUsed, ", ")),
		"Columns: " + orDash(strings.Join(outcome.ColumnsUsed, ", ")),
	}

	lines = append(lines, f.unknowns(outcome.UnknownTables, outcome.UnknownColumns)...)

	if outcome.NoTable {
		lines = append(lines, "No table referenced")
	}

	return strings.Join(lines, "\n")
}

// FormatResult renders executed rows as an aligned table, or the status
// message for statements without rows
func (f *Formatter) FormatResult(result *executor.Result, format OutputFormat) string {
	if format == FormatJSON {
		return f.json(result)
	}

	if result.Message != "" {
		return result.Message
	}

	rows := make([][]string, len(result.Rows))

	for i, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			cells[j] = formatValue(row[col])
		}

		rows[i] = cells
	}

	out := renderTable(result.Columns, rows)
	out += fmt.Sprintf("\n(%d %s)", len(rows), plural(len(rows), "row"))

	if result.Truncated {
		out += " truncated"
	}

	return out
}

// FormatStoreStats renders embedding store statistics
func (f *Formatter) FormatStoreStats(stats *storage.Stats, format OutputFormat) string {
	if format == FormatJSON {
		return f.json(stats)
	}

	lines := []string{
		fmt.Sprintf("Stored embeddings: %d", stats.TotalEmbeddings),
		fmt.Sprintf("Database size: %.2f MB", stats.DatabaseSizeMB),
		"Last write: " + f.humanizeAge(stats.LastWrite),
	}

	providers := make([]string, 0, len(stats.Providers))
	for name := range stats.Providers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	for _, name := range providers {
		lines = append(lines, fmt.Sprintf("  %s: %d", name, stats.Providers[name]))
	}

	return strings.Join(lines, "\n")
}

// FormatStoredEmbeddings lists stored vectors newest first
func (f *Formatter) FormatStoredEmbeddings(rows []storage.StoredEmbedding, format OutputFormat) string {
	if format == FormatJSON {
		return f.json(rows)
	}

	if len(rows) == 0 {
		return "No stored embeddings."
	}

	table := make([][]string, len(rows))
	for i, row := range rows {
		table[i] = []string{row.TextHash, fmt.Sprint(row.Dimensions), f.humanizeAge(row.CreatedAt), row.Text}
	}

	return renderTable([]string{"hash", "dims", "written", "text"}, table)
}

// FormatCacheStats renders completion cache statistics
func (f *Formatter) FormatCacheStats(stats *cache.Stats, format OutputFormat) string {
	if format == FormatJSON {
		return f.json(stats)
	}

	return strings.Join([]string{
		fmt.Sprintf("Cached completions: %d", stats.TotalEntries),
		fmt.Sprintf("Cache size: %.2f MB", float64(stats.TotalSize)/(1024*1024)),
		fmt.Sprintf("Hit rate: %.0f%% (%d hits, %d misses)", stats.HitRate*100, stats.Hits, stats.Misses),
	}, "\n")
}

func (f *Formatter) unknowns(tables, columns []string) []string {
	var lines []string

	if len(tables) > 0 {
		lines = append(lines, "Unknown tables: "+strings.Join(tables, ", "))
	}

	if len(columns) > 0 {
		lines = append(lines, "Unknown columns: "+strings.Join(columns, ", "))
	}

	return lines
}

func (f *Formatter) json(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	return string(data)
}

// humanizeAge converts a time to a human-readable age string
func (f *Formatter) humanizeAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	duration := f.now().Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return fmt.Sprintf("%d %s ago", int(duration.Minutes()), plural(int(duration.Minutes()), "minute"))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%d %s ago", int(duration.Hours()), plural(int(duration.Hours()), "hour"))
	}

	days := int(duration.Hours() / 24)

	return fmt.Sprintf("%d %s ago", days, plural(days, "day"))
}

// renderTable pads every cell to its column width
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	header := cell.Bold(true)

	renderRow := func(style lipgloss.Style, cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Width(widths[i] + 2).Render(c)
		}

		return strings.TrimRight(strings.Join(parts, "|"), " ")
	}

	total := len(headers) - 1
	for _, w := range widths {
		total += w + 2
	}

	lines := []string{renderRow(header, headers), strings.Repeat("-", total)}
	for _, row := range rows {
		lines = append(lines, renderRow(cell, row))
	}

	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}

	return strings.Join(lines, "\n")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}

	return word + "s"
}
