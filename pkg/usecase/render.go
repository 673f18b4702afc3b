package usecase

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is the number of unchanged lines kept around each change
const diffContext = 3

var (
	colorAdd    = color.New(color.FgGreen)
	colorDel    = color.New(color.FgRed)
	colorHeader = color.New(color.Bold)
	colorHunk   = color.New(color.FgCyan)
)

// RenderPlan writes plan as a line diff per file
func RenderPlan(w io.Writer, plan *model.MigrationPlan) {
	colorHeader.Fprintf(w, "# %s (%d files, branch %s)\n", plan.Repository.FullName(), len(plan.FileChanges), plan.BranchName)
	for _, fc := range plan.FileChanges {
		colorHeader.Fprintf(w, "--- a/%s\n+++ b/%s\n", fc.Path, fc.Path)
		renderLineDiff(w, string(fc.Original), string(fc.NewContent))
	}
}

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

func renderLineDiff(w io.Writer, before, after string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var all []diffLine
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			all = append(all, diffLine{op: d.Type, text: strings.TrimSuffix(line, "\n")})
		}
	}

	// Keep only lines within diffContext of a change
	keep := make([]bool, len(all))
	for i, l := range all {
		if l.op == diffmatchpatch.DiffEqual {
			continue
		}
		for j := max(0, i-diffContext); j <= min(len(all)-1, i+diffContext); j++ {
			keep[j] = true
		}
	}

	skipped := false
	for i, l := range all {
		if !keep[i] {
			skipped = true
			continue
		}
		if skipped || i == 0 {
			colorHunk.Fprintf(w, "@@ line %d @@\n", lineNumber(all, i))
			skipped = false
		}
		switch l.op {
		case diffmatchpatch.DiffInsert:
			colorAdd.Fprintf(w, "+%s\n", l.text)
		case diffmatchpatch.DiffDelete:
			colorDel.Fprintf(w, "-%s\n", l.text)
		default:
			fmt.Fprintf(w, " %s\n", l.text)
		}
	}
}

// lineNumber returns the 1-based line of all[i] in the original content
func lineNumber(all []diffLine, i int) int {
	n := 1
	for _, l := range all[:i] {
		if l.op != diffmatchpatch.DiffInsert {
			n++
		}
	}
	return n
}

// RenderSummary writes one row per repository followed by counts per outcome
func RenderSummary(w io.Writer, report *model.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Repository", "Outcome", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 80},
	})

	for _, r := range report.Results {
		t.AppendRow(table.Row{r.Repository.FullName(), outcomeLabel(r.Outcome), outcomeDetail(r)})
	}

	var counts []string
	for _, kind := range model.OutcomeKinds {
		if n := report.Summary[kind]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s: %d", kind, n))
		}
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d repositories", report.Summary.Total()), "", strings.Join(counts, ", ")})
	t.Style().Format.Footer = text.FormatDefault

	t.Render()

	if report.Discovery != "" {
		colorDel.Fprintf(w, "discovery ended early: %s\n", report.Discovery)
	}
}

func outcomeLabel(o *model.Outcome) string {
	label := string(o.Kind)
	switch o.Kind {
	case model.OutcomeFailed:
		return colorDel.Sprint(label)
	case model.OutcomeProposed:
		return colorAdd.Sprint(label)
	default:
		return label
	}
}

func outcomeDetail(r *model.RepositoryResult) string {
	o := r.Outcome
	switch o.Kind {
	case model.OutcomeFailed:
		return fmt.Sprintf("%s/%s: %s", o.Stage, o.ErrorKind, o.Message)
	case model.OutcomeProposed:
		return o.PullRequestURL
	case model.OutcomePlanned:
		if r.Plan != nil {
			return fmt.Sprintf("%d files on %s", len(r.Plan.FileChanges), o.BranchName)
		}
		return o.BranchName
	case model.OutcomeAppliedNoChange:
		return o.BranchName
	default:
		return ""
	}
}
