// File: cmd/devenv/output.go
// Brief: Table, JSON and YAML rendering shared by the commands.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/devenv/internal/coordinator"
	"github.com/example/devenv/internal/ui"
	"sigs.k8s.io/yaml"
)

func normalizeFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "table":
		return "table", nil
	case "json":
		return "json", nil
	case "yaml", "yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected table, json, or yaml)", format)
	}
}

// writeStructured renders v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("unsupported structured format %q", format)
	}
}

func writeOutputsTable(w io.Writer, outputs map[string]string) error {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTPUT\tVALUE")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, outputs[k])
	}
	return tw.Flush()
}

// printResult summarizes a settled coordinator result.
func printResult(w io.Writer, res coordinator.Result) {
	switch {
	case res.NoOp:
		fmt.Fprintf(w, "%s is already up to date (no changes)\n", res.Unit)
	case res.Outcome == coordinator.OutcomeSucceeded:
		fmt.Fprintf(w, "%s %s %s in %s\n", res.Unit, res.Action, ui.Phase(res.Status.Phase, res.Status.Raw), formatElapsed(res.Elapsed))
	default:
		fmt.Fprintf(w, "%s %s %s\n", res.Unit, res.Action, ui.Phase(res.Status.Phase, string(res.Outcome)))
	}
	for _, ev := range res.Events {
		fmt.Fprintf(w, "  %s\n", ev)
	}
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
