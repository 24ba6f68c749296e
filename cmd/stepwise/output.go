package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roushou/stepwise/internal/domain/workflow"
)

var styles = struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	muted lipgloss.Style
	box   lipgloss.Style
}{
	title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
	label: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	err:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	muted: lipgloss.NewStyle().Faint(true),
	box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1),
}

func (c *cli) render(value any, text func() string) error {
	if c.output == outputText {
		_, err := fmt.Fprintln(c.stdout, text())
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func renderStepText(resp workflow.StepResponse) string {
	if resp.Error != nil {
		return styles.err.Render(resp.Error.Code) + " " + resp.Error.Message
	}
	var lines []string
	header := styles.title.Render(resp.WorkflowID)
	if resp.Progress.Total > 0 {
		header += styles.label.Render(fmt.Sprintf("  %d/%d, %d remaining",
			resp.Progress.Current, resp.Progress.Total, resp.Progress.Remaining))
	}
	lines = append(lines, header, resp.Message)
	if resp.Item != nil {
		lines = append(lines, styles.box.Render(renderFields(resp.Item.ID, resp.Item.Fields)))
	}
	if len(resp.AvailableActions) > 0 {
		actions := make([]string, 0, len(resp.AvailableActions))
		for _, a := range resp.AvailableActions {
			actions = append(actions, string(a))
		}
		lines = append(lines, styles.label.Render("actions: ")+strings.Join(actions, ", "))
	}
	if resp.Completed {
		lines = append(lines, styles.ok.Render("completed"))
	}
	if resp.Token != "" {
		lines = append(lines, styles.label.Render("token: ")+resp.Token)
	}
	return strings.Join(lines, "\n")
}

func renderFields(id string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "body" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{styles.title.Render(id)}
	for _, k := range keys {
		lines = append(lines, styles.label.Render(k+": ")+fmt.Sprint(fields[k]))
	}
	if body, ok := fields["body"].(string); ok && body != "" {
		lines = append(lines, "", body)
	}
	return strings.Join(lines, "\n")
}

func renderDefinitionsText(defs []workflow.Definition) string {
	if len(defs) == 0 {
		return styles.muted.Render("No workflows saved.")
	}
	idWidth := 0
	for _, def := range defs {
		idWidth = max(idWidth, lipgloss.Width(def.ID))
	}
	idCol := lipgloss.NewStyle().Width(idWidth + 2)
	lines := make([]string, 0, len(defs))
	for _, def := range defs {
		line := idCol.Render(styles.title.Render(def.ID)) + def.Label() + styles.label.Render("  "+def.Query)
		if def.SkipMarksHandled {
			line += styles.muted.Render("  (skip marks handled)")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
