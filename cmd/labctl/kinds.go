package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

type kindView struct {
	Name          containerkind.Name   `json:"name"`
	Coordinates   string               `json:"coordinates"`
	Capacity      int                  `json:"capacity"`
	SampleHolding bool                 `json:"sample_holding"`
	RunContainer  bool                 `json:"run_container"`
	Overlap       bool                 `json:"coordinate_overlap_allowed"`
	Children      []containerkind.Name `json:"children,omitempty"`
}

type sampleKindView struct {
	Name                  domain.SampleKindName `json:"name"`
	Extracted             bool                  `json:"extracted"`
	ConcentrationRequired bool                  `json:"concentration_required"`
	TissueSource          string                `json:"tissue_source,omitempty"`
}

func newKindsCmd(opts *rootOptions) *cobra.Command {
	var asJSON, samples bool
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List container kinds (or sample kinds with --samples)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if samples {
				return listSampleKinds(opts, asJSON)
			}
			return listContainerKinds(opts, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&samples, "samples", false, "list sample kinds instead of container kinds")
	return cmd
}

func listContainerKinds(opts *rootOptions, asJSON bool) error {
	reg := containerkind.Default()
	views := make([]kindView, 0, len(reg.Names()))
	for _, spec := range reg.Specs() {
		views = append(views, kindView{
			Name:          spec.Name(),
			Coordinates:   spec.Coordinates().String(),
			Capacity:      spec.Coordinates().Capacity(),
			SampleHolding: spec.IsSampleHolding(),
			RunContainer:  spec.IsRunContainer(),
			Overlap:       spec.CoordinateOverlapAllowed(),
			Children:      spec.Children(),
		})
	}
	if asJSON {
		return writeJSON(opts.stdout, views)
	}
	tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCOORDINATES\tCAPACITY\tHOLDS")
	for _, v := range views {
		holds := "samples"
		if !v.SampleHolding {
			names := make([]string, len(v.Children))
			for i, c := range v.Children {
				names[i] = string(c)
			}
			holds = strings.Join(names, ", ")
		}
		if v.RunContainer {
			holds += " (run container)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", v.Name, v.Coordinates, v.Capacity, holds)
	}
	return tw.Flush()
}

func listSampleKinds(opts *rootOptions, asJSON bool) error {
	catalog := domain.DefaultSampleKinds()
	views := make([]sampleKindView, 0)
	for _, name := range catalog.Names() {
		kind, _ := catalog.Lookup(string(name))
		source, _ := domain.TissueSourceFor(name)
		views = append(views, sampleKindView{Name: name, Extracted: kind.IsExtracted, ConcentrationRequired: kind.ConcentrationRequired, TissueSource: source})
	}
	if asJSON {
		return writeJSON(opts.stdout, views)
	}
	tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tEXTRACTED\tCONCENTRATION\tTISSUE SOURCE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", v.Name, v.Extracted, v.ConcentrationRequired, v.TissueSource)
	}
	return tw.Flush()
}
