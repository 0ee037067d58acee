package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Format selects how reports and plans are written to stdout.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// ParseFormat validates an --output value. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// styles colours state names when w is a terminal and leaves them plain
// otherwise.
type styles struct {
	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
	bold  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:    r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")),
		bad:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted: r.NewStyle().Foreground(lipgloss.Color("8")),
		bold:  r.NewStyle().Bold(true),
	}
}

func (s styles) stage(state StageState) string {
	switch state {
	case StageFunctional:
		return s.ok.Render(string(state))
	case StageFailed:
		return s.bad.Render(string(state))
	case StageApplied, StageReady, StageRolledBack:
		return s.warn.Render(string(state))
	default:
		return s.muted.Render(string(state))
	}
}

func (s styles) run(state RunState) string {
	switch state {
	case RunSucceeded:
		return s.ok.Render(string(state))
	case RunFailed, RunPartialRollbackFailure:
		return s.bad.Render(string(state))
	default:
		return s.warn.Render(string(state))
	}
}

// RenderReport writes report to w in format.
func RenderReport(w io.Writer, report *RunReport, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, report)
	case FormatYAML:
		return renderYAML(w, report)
	case FormatTable:
		renderReportTable(w, report)
		return nil
	case FormatText, "":
		renderReportText(w, report)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// RenderPlan writes the planned stages to w in format.
func RenderPlan(w io.Writer, stages []PlannedStage, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, stages)
	case FormatYAML:
		return renderYAML(w, stages)
	case FormatTable:
		renderPlanTable(w, stages)
		return nil
	case FormatText, "":
		renderPlanText(w, stages)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func renderJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// renderYAML goes through JSON so that YAML keys follow the json tags.
func renderYAML(w io.Writer, v interface{}) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	var data interface{}
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to convert to YAML: %w", err)
	}
	_, err = w.Write(yamlData)
	return err
}

func renderReportText(w io.Writer, report *RunReport) {
	st := newStyles(w)
	header := fmt.Sprintf("%s %s: %s", report.Operation, report.Target, st.run(report.State))
	if report.DryRun {
		header += " (dry run)"
	}
	fmt.Fprintln(w, st.bold.Render(header))
	fmt.Fprintf(w, "%s\n", st.muted.Render(fmt.Sprintf("run %s, %s", report.RunID, report.Duration().Round(time.Millisecond))))

	for _, s := range report.Stages {
		line := fmt.Sprintf("  %-20s %s", s.Descriptor, st.stage(s.State))
		if s.PersistentState != "" {
			line += fmt.Sprintf(" (persistent state %s)", s.PersistentState)
		}
		fmt.Fprintln(w, line)
		if s.LastError != "" {
			fmt.Fprintf(w, "      error: %s\n", s.LastError)
		}
		for _, d := range s.Diagnostics {
			fmt.Fprintf(w, "      %s\n", st.muted.Render(d))
		}
	}

	if report.Rollback != nil {
		fmt.Fprintf(w, "rollback: removed %s\n", joinOrDash(report.Rollback.RolledBack))
		for _, stuck := range report.Rollback.Stuck {
			fmt.Fprintf(w, "  %s %s", st.bad.Render("stuck"), stuck.Descriptor)
			if len(stuck.Remaining) > 0 {
				fmt.Fprintf(w, " (remaining: %s)", strings.Join(stuck.Remaining, ", "))
			}
			fmt.Fprintln(w)
		}
	}

	for _, c := range report.Verification {
		mark := st.ok.Render("PASS")
		if !c.Passed {
			mark = st.warn.Render("FAIL")
		}
		fmt.Fprintf(w, "  [%s] %s", mark, c.Name)
		if c.Error != "" {
			fmt.Fprintf(w, ": %s", c.Error)
		}
		fmt.Fprintln(w)
	}

	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "%s %s\n", st.warn.Render("warning:"), warning)
	}
	if report.Error != "" {
		fmt.Fprintf(w, "%s %s\n", st.bad.Render("error:"), report.Error)
	}
}

func renderReportTable(w io.Writer, report *RunReport) {
	st := newStyles(w)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Stage", "State", "Applied", "Persistent State", "Last Error"})
	for _, s := range report.Stages {
		applied := "-"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Sub(report.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{s.Descriptor, st.stage(s.State), applied, dashIfEmpty(string(s.PersistentState)), dashIfEmpty(s.LastError)})
	}
	t.AppendFooter(table.Row{string(report.Operation), st.run(report.State), report.Duration().Round(time.Millisecond).String(), "", report.Target})
	t.Render()

	if len(report.Verification) > 0 {
		v := table.NewWriter()
		v.SetOutputMirror(w)
		v.SetStyle(table.StyleRounded)
		v.AppendHeader(table.Row{"Check", "Descriptor", "Result", "Detail"})
		for _, c := range report.Verification {
			result := st.ok.Render("pass")
			if !c.Passed {
				result = st.warn.Render("fail")
			}
			v.AppendRow(table.Row{c.Name, dashIfEmpty(c.Descriptor), result, dashIfEmpty(c.Error)})
		}
		v.Render()
	}

	if report.Rollback != nil && len(report.Rollback.Stuck) > 0 {
		r := table.NewWriter()
		r.SetOutputMirror(w)
		r.SetStyle(table.StyleRounded)
		r.AppendHeader(table.Row{"Stuck Stage", "Remaining"})
		for _, stuck := range report.Rollback.Stuck {
			r.AppendRow(table.Row{stuck.Descriptor, joinOrDash(stuck.Remaining)})
		}
		r.Render()
	}

	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "%s %s\n", st.warn.Render("warning:"), warning)
	}
}

func renderPlanText(w io.Writer, stages []PlannedStage) {
	st := newStyles(w)
	if len(stages) == 0 {
		fmt.Fprintln(w, st.muted.Render("empty plan"))
		return
	}
	for _, s := range stages {
		fmt.Fprintf(w, "%d. %s\n", s.Order, st.bold.Render(s.Descriptor))
		fmt.Fprintf(w, "   after: %s\n", joinOrDash(s.DependsOn))
		fmt.Fprintf(w, "   probe: %s x%d, timeout %s (%s, on timeout %s)\n",
			s.Probe, s.ExpectedInstances, s.Timeout, s.Criticality, s.OnProbeTimeout)
		fmt.Fprintf(w, "   documents: %s\n", joinOrDash(s.Documents))
	}
}

func renderPlanTable(w io.Writer, stages []PlannedStage) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Descriptor", "Depends On", "Probe", "Instances", "Timeout", "Criticality", "Documents"})
	for _, s := range stages {
		t.AppendRow(table.Row{s.Order, s.Descriptor, joinOrDash(s.DependsOn), s.Probe, s.ExpectedInstances, s.Timeout, s.Criticality, len(s.Documents)})
	}
	t.Render()
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
