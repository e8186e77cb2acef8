package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"labcore/internal/export"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export inventory|lineage",
		Short: "Publish an inventory or lineage export to blob storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(args[0])
			if err != nil {
				return err
			}
			rt, err := opts.open()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			ctx := opts.context(cmd)
			exp, err := rt.exporter(ctx)
			if err != nil {
				return err
			}
			info, err := exp.Publish(ctx, kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "%s\t%d bytes\t%s\n", info.Key, info.Size, info.ETag)
			return nil
		},
	}
	cmd.AddCommand(newExportListCmd(opts), newExportShowCmd(opts))
	return cmd
}

func newExportListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list inventory|lineage",
		Short: "List published exports, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(args[0])
			if err != nil {
				return err
			}
			rt, err := opts.open()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			ctx := opts.context(cmd)
			exp, err := rt.exporter(ctx)
			if err != nil {
				return err
			}
			infos, err := exp.List(ctx, kind)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(opts.stdout, "%s\t%d bytes\n", info.Key, info.Size)
			}
			return nil
		},
	}
}

func newExportShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show KEY",
		Short: "Print a published export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			ctx := opts.context(cmd)
			exp, err := rt.exporter(ctx)
			if err != nil {
				return err
			}
			_, rc, err := exp.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()
			_, err = io.Copy(opts.stdout, rc)
			return err
		},
	}
}
