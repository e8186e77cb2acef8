package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLineageCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lineage SAMPLE_ID",
		Short: "Show the ancestors and descendants of a sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			graph, err := rt.svc.SampleLineageOf(opts.context(cmd), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(opts.stdout, graph)
			}
			fmt.Fprintf(opts.stdout, "%s (%s)\n", graph.Sample.Name, graph.Sample.ID)
			for _, s := range graph.Ancestors {
				fmt.Fprintf(opts.stdout, "  ancestor    %s (%s)\n", s.Name, s.ID)
			}
			for _, s := range graph.Descendants {
				fmt.Fprintf(opts.stdout, "  descendant  %s (%s)\n", s.Name, s.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newLedgerCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ledger SAMPLE_ID",
		Short: "List the process measurements drawn from a sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			entries, err := rt.svc.ListProcessMeasurements(opts.context(cmd), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(opts.stdout, entries)
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTED\tPROTOCOL\tVOLUME USED\tCHILDREN")
			for _, e := range entries {
				used := "-"
				if e.Measurement.VolumeUsed != nil {
					used = e.Measurement.VolumeUsed.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Measurement.ExecutionDate.Format("2006-01-02"), e.Protocol, used, len(e.ChildIDs))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
