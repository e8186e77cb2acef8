package core

import (
	"context"
	"fmt"
	"strings"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
	"labcore/pkg/domain"
)

// Violation field names shared by container and sample operations.
const (
	fieldBarcode     = "barcode"
	fieldName        = "name"
	fieldKind        = "kind"
	fieldLocation    = "location"
	fieldCoordinates = "coordinates"
	fieldContainer   = "container"
)

// ContainerInput describes a container to create or look up by barcode.
// Kind is the raw kind name and is parsed against the registry.
type ContainerInput struct {
	Barcode       string
	Kind          string
	Name          string
	ParentBarcode string
	Coordinate    string
	Comment       string
}

// CreateContainer validates and persists a new container.
func (s *Service) CreateContainer(ctx context.Context, in ContainerInput) (Container, Result, error) {
	var created Container
	res, err := s.run(ctx, "create_container", func(tx domain.Transaction, res *domain.Result) (string, error) {
		created = s.createContainerTx(ctx, tx, res, in)
		return created.ID, nil
	})
	if res.HasBlocking() || err != nil {
		return Container{}, res, err
	}
	return created, res, nil
}

// GetOrCreateContainer returns the container with the given barcode after
// cross-checking every supplied attribute, or creates it when absent. The
// name defaults to the barcode.
func (s *Service) GetOrCreateContainer(ctx context.Context, in ContainerInput) (Container, Result, error) {
	var found Container
	res, err := s.run(ctx, "get_or_create_container", func(tx domain.Transaction, res *domain.Result) (string, error) {
		found = s.getOrCreateContainerTx(ctx, tx, res, in)
		return found.ID, nil
	})
	if res.HasBlocking() || err != nil {
		return Container{}, res, err
	}
	return found, res, nil
}

// MoveContainer relocates a container to a new parent and coordinate.
func (s *Service) MoveContainer(ctx context.Context, barcode, destinationBarcode, destinationCoordinate, comment string) (Container, Result, error) {
	var moved Container
	res, err := s.run(ctx, "move_container", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		moved, err = s.moveContainerTx(ctx, tx, res, barcode, destinationBarcode, destinationCoordinate, comment)
		return moved.ID, err
	})
	if res.HasBlocking() || err != nil {
		return Container{}, res, err
	}
	return moved, res, nil
}

// RenameContainer changes the barcode and/or name of a container.
func (s *Service) RenameContainer(ctx context.Context, barcode, newBarcode, newName, comment string) (Container, Result, error) {
	var renamed Container
	res, err := s.run(ctx, "rename_container", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		renamed, err = s.renameContainerTx(ctx, tx, res, barcode, newBarcode, newName, comment)
		return renamed.ID, err
	})
	if res.HasBlocking() || err != nil {
		return Container{}, res, err
	}
	return renamed, res, nil
}

func (s *Service) moveContainerTx(ctx context.Context, tx domain.Transaction, res *domain.Result, barcode, destinationBarcode, destinationCoordinate, comment string) (Container, error) {
	container, ok := lookupContainer(tx, res, fieldBarcode, barcode)
	if !ok {
		return Container{}, nil
	}
	destBarcode := strings.TrimSpace(destinationBarcode)
	if destBarcode == "" {
		res.Block(domain.KindValidation, fieldLocation, "destination barcode is required")
		return Container{}, nil
	}
	dest, ok := lookupContainer(tx, res, fieldLocation, destBarcode)
	if !ok {
		return Container{}, nil
	}
	coord, ok := s.checkContainerPlacement(tx, res, container.ID, container.Kind, dest, destinationCoordinate)
	if !ok {
		return Container{}, nil
	}
	if container.LocationID != nil && *container.LocationID == dest.ID && container.Coordinate == coord {
		res.Block(domain.KindValidation, fieldLocation, "container %s is already at %s", container.Barcode, describePosition(dest, coord))
		return Container{}, nil
	}
	if isAncestorOrSelf(tx, container.ID, dest) {
		res.Block(domain.KindValidation, fieldLocation, "container %s cannot be moved inside itself or its descendant %s", container.Barcode, dest.Barcode)
		return Container{}, nil
	}
	return tx.UpdateContainer(container.ID, func(c *Container) error {
		c.LocationID = &dest.ID
		c.Coordinate = coord
		if comment != "" {
			c.Comment = comment
		}
		c.UpdatedBy = ActorFrom(ctx)
		return nil
	})
}

func (s *Service) renameContainerTx(ctx context.Context, tx domain.Transaction, res *domain.Result, barcode, newBarcode, newName, comment string) (Container, error) {
	newBarcode = strings.TrimSpace(newBarcode)
	newName = strings.TrimSpace(newName)
	if newBarcode == "" && newName == "" {
		res.Block(domain.KindValidation, fieldBarcode, "either a new barcode or a new name is required")
		return Container{}, nil
	}
	container, ok := lookupContainer(tx, res, fieldBarcode, barcode)
	if !ok {
		return Container{}, nil
	}
	if newBarcode != "" && newBarcode != container.Barcode {
		if _, taken := tx.FindContainerByBarcode(newBarcode); taken {
			res.Block(domain.KindAlreadyExists, fieldBarcode, "barcode %s is already in use", newBarcode)
			return Container{}, nil
		}
	}
	return tx.UpdateContainer(container.ID, func(c *Container) error {
		if newBarcode != "" {
			c.Barcode = newBarcode
		}
		if newName != "" {
			c.Name = newName
		}
		if comment != "" {
			c.Comment = comment
		}
		c.UpdatedBy = ActorFrom(ctx)
		return nil
	})
}

// CanRemoveContainer reports whether the container holds no samples, no child
// containers and is not referenced by an experiment run. The reasons it
// cannot be removed are returned as blocking violations.
func (s *Service) CanRemoveContainer(ctx context.Context, barcode string) (bool, Result, error) {
	var res domain.Result
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		container, ok := lookupContainer(view, &res, fieldBarcode, barcode)
		if ok {
			removalBlockers(view, &res, container)
		}
		return nil
	})
	if err != nil {
		return false, res, err
	}
	return !res.HasBlocking(), res, nil
}

// DeleteContainer removes a container that CanRemoveContainer accepts.
func (s *Service) DeleteContainer(ctx context.Context, barcode string) (Result, error) {
	return s.run(ctx, "delete_container", func(tx domain.Transaction, res *domain.Result) (string, error) {
		container, ok := lookupContainer(tx, res, fieldBarcode, barcode)
		if !ok {
			return "", nil
		}
		if removalBlockers(tx, res, container) {
			return "", nil
		}
		return container.ID, tx.DeleteContainer(container.ID)
	})
}

func removalBlockers(view domain.TransactionView, res *domain.Result, container Container) bool {
	blocked := false
	if n := len(view.ListSamplesInContainer(container.ID)); n > 0 {
		res.Block(domain.KindValidation, fieldContainer, "container %s holds %d sample(s)", container.Barcode, n)
		blocked = true
	}
	if n := len(view.ListChildContainers(container.ID)); n > 0 {
		res.Block(domain.KindValidation, fieldContainer, "container %s holds %d container(s)", container.Barcode, n)
		blocked = true
	}
	for _, run := range view.ListExperimentRuns() {
		if run.ContainerID == container.ID {
			res.Block(domain.KindValidation, fieldContainer, "container %s is used by experiment run %s", container.Barcode, run.Name)
			blocked = true
		}
	}
	return blocked
}

func (s *Service) createContainerTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in ContainerInput) Container {
	barcode := strings.TrimSpace(in.Barcode)
	if barcode == "" {
		res.Block(domain.KindValidation, fieldBarcode, "barcode is required")
	} else if _, exists := tx.FindContainerByBarcode(barcode); exists {
		res.Block(domain.KindAlreadyExists, fieldBarcode, "container with barcode %s already exists", barcode)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = barcode
	}

	kind, kindErr := s.registry.Parse(in.Kind)
	if kindErr != nil {
		res.BlockErr(fieldKind, kindErr)
	}

	var locationID *string
	var coord string
	parentBarcode := strings.TrimSpace(in.ParentBarcode)
	switch {
	case parentBarcode != "":
		parent, ok := lookupContainer(tx, res, fieldLocation, parentBarcode)
		if ok && kind != nil {
			if c, placed := s.checkContainerPlacement(tx, res, "", kind.Name(), parent, in.Coordinate); placed {
				coord = c
				locationID = &parent.ID
			}
		}
	case strings.TrimSpace(in.Coordinate) != "":
		res.Block(domain.KindCoordinate, fieldCoordinates, "coordinates require a parent container")
	}

	if res.HasBlocking() {
		return Container{}
	}
	actor := ActorFrom(ctx)
	created, err := tx.CreateContainer(Container{
		Base:       domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Barcode:    barcode,
		Name:       name,
		Kind:       kind.Name(),
		LocationID: locationID,
		Coordinate: coord,
		Comment:    in.Comment,
	})
	if err != nil {
		res.BlockErr(fieldBarcode, err)
		return Container{}
	}
	return created
}

func (s *Service) getOrCreateContainerTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in ContainerInput) Container {
	barcode := strings.TrimSpace(in.Barcode)
	existing, ok := tx.FindContainerByBarcode(barcode)
	if barcode == "" || !ok {
		return s.createContainerTx(ctx, tx, res, in)
	}

	if raw := strings.TrimSpace(in.Kind); raw != "" {
		kind, err := s.registry.Parse(raw)
		switch {
		case err != nil:
			res.BlockErr(fieldKind, err)
		case kind.Name() != existing.Kind:
			res.Block(domain.KindValidation, fieldKind, "container %s is a %s, not a %s", barcode, existing.Kind, kind.Name())
		}
	}
	if name := strings.TrimSpace(in.Name); name != "" && name != existing.Name {
		res.Block(domain.KindValidation, fieldName, "container %s is named %s, not %s", barcode, existing.Name, name)
	}
	var parent Container
	hasParent := false
	if existing.LocationID != nil {
		parent, hasParent = tx.FindContainer(*existing.LocationID)
	}
	if want := strings.TrimSpace(in.ParentBarcode); want != "" {
		if !hasParent || parent.Barcode != want {
			current := "no location"
			if hasParent {
				current = parent.Barcode
			}
			res.Block(domain.KindValidation, fieldLocation, "container %s is located in %s, not %s", barcode, current, want)
		}
	}
	if raw := strings.TrimSpace(in.Coordinate); raw != "" {
		want := raw
		if hasParent {
			if spec, err := s.registry.Get(parent.Kind); err == nil {
				if normalized, err := coordinate.ValidateAndNormalize(raw, spec.Coordinates()); err == nil {
					want = normalized
				}
			}
		}
		if want != existing.Coordinate {
			res.Block(domain.KindValidation, fieldCoordinates, "container %s is at coordinates %q, not %q", barcode, existing.Coordinate, want)
		}
	}
	if res.HasBlocking() {
		return Container{}
	}
	res.Warn(fieldBarcode, "using existing container %s", barcode)
	return existing
}

// checkContainerPlacement validates placing a container of kind into parent
// at the raw coordinate and returns the normalized coordinate. selfID is
// excluded from collision checks.
func (s *Service) checkContainerPlacement(view domain.TransactionView, res *domain.Result, selfID string, kind containerkind.Name, parent Container, raw string) (string, bool) {
	parentSpec, err := s.registry.Get(parent.Kind)
	if err != nil {
		res.BlockErr(fieldLocation, err)
		return "", false
	}
	ok := true
	if !parentSpec.CanHold(kind) {
		res.Block(domain.KindValidation, fieldKind, "a %s cannot be placed in %s (%s)", kind, parent.Barcode, parent.Kind)
		ok = false
	}
	coord, placed := s.normalizeCoordinate(res, parentSpec, parent, raw)
	if !placed {
		return "", false
	}
	if coord != "" && !parentSpec.CoordinateOverlapAllowed() {
		siblings := view.ListChildContainers(parent.ID)
		placements := make([]coordinate.Placement, 0, len(siblings))
		for _, sibling := range siblings {
			placements = append(placements, coordinate.Placement{ID: sibling.ID, ParentID: parent.ID, Coordinate: sibling.Coordinate})
		}
		if coordinate.DetectOverlap(placements, coordinate.Placement{ID: selfID, ParentID: parent.ID, Coordinate: coord}) {
			res.Block(domain.KindAlreadyExists, fieldCoordinates, "coordinates %s of %s are already occupied", coord, parent.Barcode)
			ok = false
		}
	}
	return coord, ok
}

// normalizeCoordinate applies the grammar of a parent container. A
// coordinate is required iff the parent kind declares axes.
func (s *Service) normalizeCoordinate(res *domain.Result, spec *containerkind.Spec, parent Container, raw string) (string, bool) {
	if spec.RequiresCoordinates() && strings.TrimSpace(raw) == "" {
		res.Block(domain.KindCoordinate, fieldCoordinates, "%s (%s) requires coordinates in %s", parent.Barcode, parent.Kind, spec.Coordinates())
		return "", false
	}
	coord, err := coordinate.ValidateAndNormalize(raw, spec.Coordinates())
	if err != nil {
		res.BlockErr(fieldCoordinates, fmt.Errorf("%s (%s): %w", parent.Barcode, parent.Kind, err))
		return "", false
	}
	return coord, true
}

func lookupContainer(view domain.TransactionView, res *domain.Result, field, barcode string) (Container, bool) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		res.Block(domain.KindValidation, field, "barcode is required")
		return Container{}, false
	}
	c, ok := view.FindContainerByBarcode(barcode)
	if !ok {
		res.BlockErr(field, domain.NotFoundError{Entity: domain.EntityContainer, ID: barcode})
		return Container{}, false
	}
	return c, true
}

// isAncestorOrSelf walks from start up to the root and reports whether id
// is met on the way.
func isAncestorOrSelf(view domain.TransactionView, id string, start Container) bool {
	seen := map[string]bool{}
	current := start
	for {
		if current.ID == id {
			return true
		}
		if seen[current.ID] || current.LocationID == nil {
			return false
		}
		seen[current.ID] = true
		next, ok := view.FindContainer(*current.LocationID)
		if !ok {
			return false
		}
		current = next
	}
}

func describePosition(c Container, coord string) string {
	if coord == "" {
		return c.Barcode
	}
	return c.Barcode + "@" + coord
}
