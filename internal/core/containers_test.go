package core

import (
	"context"
	"testing"

	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

func TestCreateContainerHierarchy(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustContainer(t, svc, "room-1", containerkind.Room, "", "")
	freezer := mustContainer(t, svc, "fz-1", containerkind.Freezer3Shelves, "room-1", "")
	rack := mustContainer(t, svc, "rack-1", containerkind.TubeRack8x12, "", "")
	tube := mustContainer(t, svc, "tube-1", containerkind.Tube, "rack-1", "A01")
	if tube.LocationID == nil || *tube.LocationID != rack.ID || tube.Coordinate != "A01" {
		t.Fatalf("unexpected tube placement: %+v", tube)
	}
	if tube.Name != "tube-1" {
		t.Fatalf("name should default to the barcode, got %q", tube.Name)
	}
	if freezer.LocationID == nil {
		t.Fatalf("expected freezer to be located in the room")
	}

	cases := []struct {
		name  string
		in    ContainerInput
		field string
		kind  domain.ErrorKind
	}{
		{"duplicate barcode", ContainerInput{Barcode: "tube-1", Kind: "tube"}, fieldBarcode, domain.KindAlreadyExists},
		{"unknown kind", ContainerInput{Barcode: "x", Kind: "spaceship"}, fieldKind, domain.KindNotFound},
		{"kind not allowed in parent", ContainerInput{Barcode: "x", Kind: "96-well plate", ParentBarcode: "rack-1", Coordinate: "B01"}, fieldKind, domain.KindValidation},
		{"missing coordinates", ContainerInput{Barcode: "x", Kind: "tube", ParentBarcode: "rack-1"}, fieldCoordinates, domain.KindCoordinate},
		{"bad coordinates", ContainerInput{Barcode: "x", Kind: "tube", ParentBarcode: "rack-1", Coordinate: "Z99"}, fieldCoordinates, domain.KindCoordinate},
		{"coordinates collide", ContainerInput{Barcode: "x", Kind: "tube", ParentBarcode: "rack-1", Coordinate: "A01"}, fieldCoordinates, domain.KindAlreadyExists},
		{"coordinates without parent", ContainerInput{Barcode: "x", Kind: "tube", Coordinate: "A01"}, fieldCoordinates, domain.KindCoordinate},
		{"unknown parent", ContainerInput{Barcode: "x", Kind: "tube", ParentBarcode: "ghost"}, fieldLocation, domain.KindNotFound},
		{"blank barcode", ContainerInput{Kind: "tube"}, fieldBarcode, domain.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, res, err := svc.CreateContainer(ctx, tc.in)
			requireBlocked(t, tc.name, res, err, tc.field)
			if !res.HasKind(tc.kind) {
				t.Fatalf("expected kind %s, got %+v", tc.kind, res.Violations)
			}
		})
	}
}

func TestOverlapAllowedInBoxes(t *testing.T) {
	svc := newTestService()
	mustContainer(t, svc, "box-1", containerkind.Box, "", "")
	mustContainer(t, svc, "tube-1", containerkind.Tube, "box-1", "")
	mustContainer(t, svc, "tube-2", containerkind.Tube, "box-1", "")
	if n := len(svc.Store().ListContainers()); n != 3 {
		t.Fatalf("expected 3 containers, got %d", n)
	}
}

func TestGetOrCreateContainer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustContainer(t, svc, "rack-1", containerkind.TubeRack8x12, "", "")

	created, res, err := svc.GetOrCreateContainer(ctx, ContainerInput{Barcode: "tube-1", Kind: "tube", ParentBarcode: "rack-1", Coordinate: "C03"})
	requireClean(t, "get or create", res, err)

	found, res, err := svc.GetOrCreateContainer(ctx, ContainerInput{Barcode: "tube-1", Kind: " tube ", ParentBarcode: "rack-1", Coordinate: "C03"})
	requireClean(t, "get existing", res, err)
	if found.ID != created.ID || len(res.Warnings()) != 1 {
		t.Fatalf("expected the existing container with a warning, got %+v %+v", found, res.Warnings())
	}

	_, res, err = svc.GetOrCreateContainer(ctx, ContainerInput{Barcode: "tube-1", Kind: "tube", ParentBarcode: "rack-1", Coordinate: "D04"})
	requireBlocked(t, "coordinate mismatch", res, err, fieldCoordinates)
	_, res, err = svc.GetOrCreateContainer(ctx, ContainerInput{Barcode: "tube-1", Name: "other"})
	requireBlocked(t, "name mismatch", res, err, fieldName)
	_, res, err = svc.GetOrCreateContainer(ctx, ContainerInput{Barcode: "tube-1", ParentBarcode: "rack-2"})
	requireBlocked(t, "location mismatch", res, err, fieldLocation)
}

func TestMoveContainer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustContainer(t, svc, "room-1", containerkind.Room, "", "")
	mustContainer(t, svc, "room-2", containerkind.Room, "room-1", "")
	mustContainer(t, svc, "rack-1", containerkind.TubeRack8x12, "", "")
	mustContainer(t, svc, "rack-2", containerkind.TubeRack8x12, "", "")
	mustContainer(t, svc, "tube-1", containerkind.Tube, "rack-1", "A01")
	mustContainer(t, svc, "tube-2", containerkind.Tube, "rack-2", "A01")

	moved, res, err := svc.MoveContainer(ctx, "tube-1", "rack-2", "B02", "moved")
	requireClean(t, "move", res, err)
	if moved.Coordinate != "B02" || moved.Comment != "moved" {
		t.Fatalf("unexpected moved container: %+v", moved)
	}

	_, res, err = svc.MoveContainer(ctx, "tube-1", "rack-2", "A01", "")
	requireBlocked(t, "occupied", res, err, fieldCoordinates)
	_, res, err = svc.MoveContainer(ctx, "tube-1", "rack-2", "B02", "")
	requireBlocked(t, "same position", res, err, fieldLocation)
	_, res, err = svc.MoveContainer(ctx, "room-1", "room-2", "", "")
	requireBlocked(t, "cycle", res, err, fieldLocation)
	_, res, err = svc.MoveContainer(ctx, "rack-1", "tube-2", "", "")
	requireBlocked(t, "cannot hold", res, err, fieldKind)
	_, res, err = svc.MoveContainer(ctx, "tube-1", "", "", "")
	requireBlocked(t, "blank destination", res, err, fieldLocation)
}

func TestRenameContainer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustContainer(t, svc, "tube-1", containerkind.Tube, "", "")
	mustContainer(t, svc, "tube-2", containerkind.Tube, "", "")

	renamed, res, err := svc.RenameContainer(ctx, "tube-1", "tube-9", "Nine", "")
	requireClean(t, "rename", res, err)
	if renamed.Barcode != "tube-9" || renamed.Name != "Nine" {
		t.Fatalf("unexpected rename: %+v", renamed)
	}
	if _, ok := svc.Store().GetContainerByBarcode("tube-1"); ok {
		t.Fatalf("old barcode must no longer resolve")
	}

	_, res, err = svc.RenameContainer(ctx, "tube-9", "tube-2", "", "")
	requireBlocked(t, "taken barcode", res, err, fieldBarcode)
	_, res, err = svc.RenameContainer(ctx, "tube-9", "", "", "")
	requireBlocked(t, "nothing to change", res, err, fieldBarcode)
}

func TestDeleteContainer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustContainer(t, svc, "rack-1", containerkind.TubeRack8x12, "", "")
	mustContainer(t, svc, "tube-1", containerkind.Tube, "rack-1", "A01")
	mustSample(t, svc, bloodIn("tube-1", "", "1"))

	ok, res, err := svc.CanRemoveContainer(ctx, "tube-1")
	if err != nil || ok || !res.HasField(fieldContainer) {
		t.Fatalf("tube holding a sample must not be removable: ok=%v res=%+v err=%v", ok, res, err)
	}
	res, err = svc.DeleteContainer(ctx, "rack-1")
	requireBlocked(t, "delete non-empty rack", res, err, fieldContainer)

	mustContainer(t, svc, "tube-2", containerkind.Tube, "", "")
	res, err = svc.DeleteContainer(ctx, "tube-2")
	requireClean(t, "delete empty tube", res, err)
	if _, found := svc.Store().GetContainerByBarcode("tube-2"); found {
		t.Fatalf("expected tube-2 to be deleted")
	}
	res, err = svc.DeleteContainer(ctx, "tube-2")
	requireBlocked(t, "delete missing", res, err, fieldBarcode)
}
