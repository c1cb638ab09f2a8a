package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lorekeep/lorekeep/engine/catalog"
	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/ingest"
	"github.com/lorekeep/lorekeep/engine/rag"
)

const previewRunes = 200

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	scoreStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	answerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// preview shortens text to n runes, collapsing whitespace.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

func renderSources(w io.Writer, chunks []domain.RetrievedChunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No relevant passages found."))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d passages", len(chunks))))
	for i, c := range chunks {
		fmt.Fprintf(w, "%d. %s  %s\n", i+1,
			scoreStyle.Render(fmt.Sprintf("%.4f", c.Score)),
			dimStyle.Render(c.ID))
		fmt.Fprintf(w, "   %s, unit %d, chunk %d\n", c.DocumentName, c.Unit, c.Chunk)
		fmt.Fprintf(w, "   %s\n", preview(c.Text, previewRunes))
	}
}

func renderAnswer(w io.Writer, ans *rag.Answer) {
	renderSources(w, ans.Sources)
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Answer"))
	fmt.Fprintln(w, answerStyle.Render(ans.Text))
}

func renderReport(w io.Writer, rep *ingest.Report) {
	for _, u := range rep.Units {
		switch {
		case u.Skipped:
			fmt.Fprintf(w, "unit %d %s\n", u.Unit, dimStyle.Render("skipped (empty)"))
		case u.Err != nil:
			fmt.Fprintf(w, "unit %d %s %v\n", u.Unit, errorStyle.Render("failed"), u.Err)
		default:
			line := fmt.Sprintf("unit %d %s %d chunks, %d written in %s", u.Unit, okStyle.Render("ok"),
				u.Chunks, u.Written, u.Duration.Round(time.Millisecond))
			if u.Warning != "" {
				line += " " + warnStyle.Render(u.Warning)
			}
			fmt.Fprintln(w, line)
		}
	}
	state := okStyle.Render(rep.State.String())
	if rep.State == ingest.StateFailed {
		state = errorStyle.Render(fmt.Sprintf("%s at %s", rep.State, rep.FailedAt))
	}
	fmt.Fprintf(w, "%s %s: %d records\n", titleStyle.Render(rep.DocumentID), state, rep.Total)
}

func renderResult(w io.Writer, res ingest.JobResult) {
	fmt.Fprintf(w, "%s %s: %d records\n", titleStyle.Render(res.DocumentID), res.State, res.Total)
	for _, warn := range res.Warnings {
		fmt.Fprintln(w, warnStyle.Render(warn))
	}
	if res.Error != "" {
		fmt.Fprintln(w, errorStyle.Render(res.Error))
	}
}

func renderEvent(w io.Writer, ev ingest.Event) {
	switch {
	case ev.Skipped:
		fmt.Fprintf(w, "%s unit %d %s\n", ev.DocumentID, ev.Unit, dimStyle.Render("skipped"))
	case ev.Error != "":
		fmt.Fprintf(w, "%s unit %d %s\n", ev.DocumentID, ev.Unit, errorStyle.Render(ev.Error))
	default:
		fmt.Fprintf(w, "%s unit %d: %d/%d written, %d total\n", ev.DocumentID, ev.Unit, ev.Written, ev.Chunks, ev.Total)
	}
}

func renderEntries(w io.Writer, entries []catalog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No documents ingested."))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s  %d units, %d records  %s\n",
			titleStyle.Render(e.ID), e.Name, e.Units, e.Records,
			dimStyle.Render(e.UpdatedAt.Format(time.RFC3339)))
	}
}

func renderUnits(w io.Writer, units []catalog.UnitEntry) {
	for _, u := range units {
		fmt.Fprintf(w, "unit %d: %d chunks, %d written\n", u.Index, u.Chunks, u.Written)
	}
}

// consoleProgress prints one line per unit as ingestion proceeds.
type consoleProgress struct {
	w io.Writer
}

func (p consoleProgress) Publish(_ context.Context, ev ingest.Event) error {
	renderEvent(p.w, ev)
	return nil
}
