package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"flowcraft/backend/internal/locator"
	"flowcraft/backend/internal/models"
)

type lintResult struct {
	Step    int
	Type    models.StepType
	Locator models.Locator
	Found   bool
}

// lintWorkflow resolves every step locator against a saved page.
func lintWorkflow(wf models.Workflow, doc *html.Node) []lintResult {
	var out []lintResult
	for i, step := range wf.Steps {
		loc, ok := models.LocatorOf(step)
		if !ok || loc.ElementTag == models.DocumentTag {
			continue
		}
		_, isClick := step.(*models.ClickStep)
		_, err := locator.Resolve(doc, loc, !isClick)
		out = append(out, lintResult{Step: i + 1, Type: step.Base().Type, Locator: loc, Found: err == nil})
	}
	return out
}

func printLint(w io.Writer, results []lintResult) (missing int) {
	for _, r := range results {
		target := r.Locator.XPath
		if target == "" {
			target = r.Locator.CSSSelector
		}
		if r.Found {
			okColor.Fprintf(w, "  ✓ step %d %s %s\n", r.Step, r.Type, target)
			continue
		}
		missing++
		failColor.Fprintf(w, "  ✗ step %d %s %s\n", r.Step, r.Type, target)
	}
	return missing
}

func newLintCommand() *cobra.Command {
	var page string
	cmd := &cobra.Command{
		Use:   "lint <workflow.json> --html <page.html>",
		Short: "Check that a workflow's locators resolve in a saved page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			wf, err := readWorkflowFile(fs, args[0])
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(fs, page)
			if err != nil {
				return err
			}
			doc, err := html.Parse(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", page, err)
			}
			out := cmd.OutOrStdout()
			infoColor.Fprintf(out, "%s against %s\n", wf.Name, page)
			if n := printLint(out, lintWorkflow(wf, doc)); n > 0 {
				return fmt.Errorf("%d locator(s) did not resolve", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "html", "", "saved HTML page to resolve against")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}
