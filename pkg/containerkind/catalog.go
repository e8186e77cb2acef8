package containerkind

import "labcore/pkg/coordinate"

// Kind names of the default catalog.
const (
	Tube               Name = "tube"
	Plate96            Name = "96-well plate"
	Plate384           Name = "384-well plate"
	InfiniumBeadchip24 Name = "infinium gs 24 beadchip"
	AxiomArrayPlate    Name = "axiom 96-format array plate"
	NovaSeqS4Flowcell  Name = "illumina-novaseq-s4 flowcell"
	NovaSeqSPFlowcell  Name = "illumina-novaseq-sp flowcell"
	HiSeqXFlowcell     Name = "illumina-hiseq-x flowcell"
	DNBSeqG400Flowcell Name = "dnbseq-g400 flowcell"
	TubeRack8x12       Name = "tube rack 8x12"
	TubeBox8x8         Name = "tube box 8x8"
	TubeBox9x9         Name = "tube box 9x9"
	TubeBox10x10       Name = "tube box 10x10"
	Box                Name = "box"
	Drawer             Name = "drawer"
	FreezerRack4x4     Name = "freezer rack 4x4"
	FreezerRack7x4     Name = "freezer rack 7x4"
	Freezer3Shelves    Name = "freezer 3 shelves"
	Freezer5Shelves    Name = "freezer 5 shelves"
	Room               Name = "room"
)

func grid(rows, cols int) coordinate.Spec {
	return coordinate.MustSpec(coordinate.MustAlphaAxis(rows), coordinate.MustIntAxis(cols, 2))
}

func lanes(count int) coordinate.Spec {
	return coordinate.MustSpec(coordinate.MustIntAxis(count, 0))
}

func shelves(count int) coordinate.Spec {
	return coordinate.MustSpec(coordinate.MustIntAxis(count, 2))
}

// Default builds the standard biobank catalog. Each call returns a new
// registry; callers build it once at startup and share it.
func Default() *Registry {
	runContainers := []Name{InfiniumBeadchip24, AxiomArrayPlate, NovaSeqS4Flowcell, NovaSeqSPFlowcell, HiSeqXFlowcell, DNBSeqG400Flowcell}
	plates := []Name{Plate96, Plate384}
	tubeHolders := []Name{TubeRack8x12, TubeBox8x8, TubeBox9x9, TubeBox10x10}

	boxContents := concat([]Name{Tube}, plates, tubeHolders, runContainers)
	rackContents := concat(plates, tubeHolders, []Name{Box})
	freezerContents := concat([]Name{FreezerRack4x4, FreezerRack7x4, Drawer, Box}, tubeHolders, plates)

	b := NewBuilder().
		Define(Definition{Name: Tube, Coordinates: coordinate.None}).
		Define(Definition{Name: Plate96, Coordinates: grid(8, 12)}).
		Define(Definition{Name: Plate384, Coordinates: grid(16, 24)}).
		Define(Definition{Name: InfiniumBeadchip24, Coordinates: coordinate.MustSpec(coordinate.MustIntAxis(24, 2)), RunContainer: true}).
		Define(Definition{Name: AxiomArrayPlate, Coordinates: grid(8, 12), RunContainer: true}).
		Define(Definition{Name: NovaSeqS4Flowcell, Coordinates: lanes(4), RunContainer: true}).
		Define(Definition{Name: NovaSeqSPFlowcell, Coordinates: lanes(2), RunContainer: true}).
		Define(Definition{Name: HiSeqXFlowcell, Coordinates: lanes(8), RunContainer: true}).
		Define(Definition{Name: DNBSeqG400Flowcell, Coordinates: lanes(4), RunContainer: true}).
		Define(Definition{Name: TubeRack8x12, Coordinates: grid(8, 12), Children: []Name{Tube}}).
		Define(Definition{Name: TubeBox8x8, Coordinates: grid(8, 8), Children: []Name{Tube}}).
		Define(Definition{Name: TubeBox9x9, Coordinates: grid(9, 9), Children: []Name{Tube}}).
		Define(Definition{Name: TubeBox10x10, Coordinates: grid(10, 10), Children: []Name{Tube}}).
		Define(Definition{Name: Box, Coordinates: coordinate.None, OverlapAllowed: true, Children: boxContents}).
		Define(Definition{Name: Drawer, Coordinates: coordinate.None, OverlapAllowed: true, Children: concat(boxContents, []Name{Box})}).
		Define(Definition{Name: FreezerRack4x4, Coordinates: grid(4, 4), Children: rackContents}).
		Define(Definition{Name: FreezerRack7x4, Coordinates: grid(7, 4), Children: rackContents}).
		Define(Definition{Name: Freezer3Shelves, Coordinates: shelves(3), Children: freezerContents}).
		Define(Definition{Name: Freezer5Shelves, Coordinates: shelves(5), Children: freezerContents}).
		Define(Definition{Name: Room, Coordinates: coordinate.None, OverlapAllowed: true, Children: concat([]Name{Freezer3Shelves, Freezer5Shelves, Drawer, Box}, runContainers)}).
		AllowSelfNesting(Room)

	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return reg
}

func concat(lists ...[]Name) []Name {
	var out []Name
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
