package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
)

func newCoordCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coord",
		Short: "Check coordinates against a container kind's grammar",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate KIND COORDINATE",
			Short: "Validate and normalise a coordinate",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				spec, err := containerkind.Default().Parse(args[0])
				if err != nil {
					return err
				}
				normalized, err := coordinate.ValidateAndNormalize(args[1], spec.Coordinates())
				if err != nil {
					return err
				}
				if spec.Coordinates().Dimensions() == 2 {
					ordinal, err := coordinate.ToOrdinal(normalized, spec.Coordinates())
					if err != nil {
						return err
					}
					fmt.Fprintf(opts.stdout, "%s (position %d of %d)\n", normalized, ordinal, spec.Coordinates().Capacity())
					return nil
				}
				fmt.Fprintln(opts.stdout, normalized)
				return nil
			},
		},
		&cobra.Command{
			Use:   "at KIND ORDINAL",
			Short: "Print the coordinate at a 1-based row-major position",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				spec, err := containerkind.Default().Parse(args[0])
				if err != nil {
					return err
				}
				ordinal, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("ordinal %q is not an integer", args[1])
				}
				coord, err := coordinate.FromOrdinal(ordinal, spec.Coordinates())
				if err != nil {
					return err
				}
				fmt.Fprintln(opts.stdout, coord)
				return nil
			},
		},
	)
	return cmd
}
