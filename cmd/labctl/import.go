package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"labcore/internal/core"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var dryRun, asJSON bool
	cmd := &cobra.Command{
		Use:   "import BATCH.yaml",
		Short: "Apply a batch of sample and container operations",
		Long: `Applies every row of a YAML batch document in one transaction. Sections
run in order: containers, samples, extractions, transfers, pools, updates,
moves, renames. Any blocking violation rolls the whole batch back. Use "-"
to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatch(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			rt, err := opts.open()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			report, err := core.NewImporter(rt.svc).Import(opts.context(cmd), batch, dryRun)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(opts.stdout, report); err != nil {
					return err
				}
			} else {
				printImportReport(opts.stdout, report)
			}
			if report.Result.HasBlocking() {
				return fmt.Errorf("import rejected with %d blocking violations", len(report.Result.Errors()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate every row without committing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func readBatch(path string, stdin io.Reader) (core.Batch, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return core.Batch{}, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var batch core.Batch
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&batch); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Batch{}, fmt.Errorf("batch %s is empty", path)
		}
		return core.Batch{}, fmt.Errorf("decode batch %s: %w", path, err)
	}
	if batch.Rows() == 0 {
		return core.Batch{}, fmt.Errorf("batch %s has no rows", path)
	}
	return batch, nil
}

func printImportReport(w io.Writer, report core.ImportReport) {
	for _, row := range report.Rows {
		status := "ok"
		if row.Result.HasBlocking() {
			status = "rejected"
		}
		fmt.Fprintf(w, "%s[%d]\t%s\t%s\n", row.Section, row.Row, status, row.EntityID)
	}
	switch {
	case report.Result.HasBlocking():
		fmt.Fprintf(w, "rejected: %d rows, nothing committed\n", len(report.Rows))
	case report.DryRun:
		fmt.Fprintf(w, "dry run: %d rows validated, nothing committed\n", len(report.Rows))
	default:
		fmt.Fprintf(w, "committed %d rows\n", len(report.Rows))
	}
	printViolations(w, report.Result)
}
