package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// maxCell keeps long URLs and errors from blowing up the terminal width.
const maxCell = 60

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// PrintSummary renders the artifact table, totals and degradations.
func PrintSummary(w io.Writer, s *RunSummary) {
	fmt.Fprintf(w, "\n%s → %s\n", s.TargetURL, s.OutputDir)
	if s.Network != nil {
		fmt.Fprintf(w, "Network: %s (%s) via %s\n", s.Network.Location(), s.Network.ISP, s.Network.Source)
	}
	if s.Gate != nil {
		fmt.Fprintf(w, "Gate: %s", s.Gate.Verdict)
		if s.Gate.Reason != "" {
			fmt.Fprintf(w, " (%s)", s.Gate.Reason)
		}
		fmt.Fprintln(w)
	}

	if len(s.Artifacts) > 0 {
		t := newTable(w, "Images")
		t.AppendHeader(table.Row{"#", "Downloaded", "Final name", "Type", "Conf", "Tier", "State", "Size"})
		for i, a := range s.Artifacts {
			final := a.FinalName
			if a.Converted != "" {
				final += " → " + a.Converted
			}
			conf := ""
			if a.Type != "" {
				conf = fmt.Sprint(a.Confidence)
			}
			t.AppendRow(table.Row{i + 1, a.PositionalName, final, a.Type, conf, a.Strategy, a.Status, humanize.Bytes(uint64(a.Size))})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, WidthMax: maxCell},
			{Number: 5, Align: text.AlignRight},
			{Number: 8, Align: text.AlignRight},
		})
		t.Render()
	}

	t := newTable(w, "Totals")
	t.AppendRows([]table.Row{
		{"Strategy", orDash(s.Strategy)},
		{"Candidates", s.Candidates},
		{"Scroll steps", s.ScrollSteps},
		{"Downloaded", s.Downloaded},
		{"Failed", s.Failed},
		{"Classified", s.Classified},
		{"Unresolved", s.Unresolved},
		{"Converted", s.Converted},
		{"Bytes", humanize.Bytes(uint64(s.Bytes))},
		{"Elapsed", s.Elapsed.Round(time.Millisecond)},
	})
	t.Render()

	if len(s.Degradations) == 0 {
		fmt.Fprintln(w, "✓ No degradations")
		return
	}
	t = newTable(w, "Degradations")
	t.AppendHeader(table.Row{"Kind", "Subject", "Detail"})
	for _, d := range s.Degradations {
		t.AppendRow(table.Row{d.Kind, d.Subject, d.Detail})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: maxCell},
		{Number: 3, WidthMax: maxCell},
	})
	t.Render()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
