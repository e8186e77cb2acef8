// Package memory is the reference transactional store for containers,
// samples and the process ledger. Each transaction works on a cloned state,
// runs the rules engine over its changes and swaps the clone in on success.
// The sqlite and postgres stores embed it and mirror committed state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"labcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Entity and transaction types are the domain ones.
type (
	Container          = domain.Container
	Sample             = domain.Sample
	Process            = domain.Process
	ProcessMeasurement = domain.ProcessMeasurement
	SampleLineage      = domain.SampleLineage
	ExperimentRun      = domain.ExperimentRun
	Change             = domain.Change
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

type memoryState struct {
	containers   map[string]Container
	samples      map[string]Sample
	processes    map[string]Process
	measurements map[string]ProcessMeasurement
	lineages     map[string]SampleLineage
	runs         map[string]ExperimentRun
}

// Snapshot is a deep copy of every entity map, keyed by ID. It is the unit
// the durable stores encode into buckets.
type Snapshot struct {
	Containers   map[string]Container          `json:"containers"`
	Samples      map[string]Sample             `json:"samples"`
	Processes    map[string]Process            `json:"processes"`
	Measurements map[string]ProcessMeasurement `json:"measurements"`
	Lineages     map[string]SampleLineage      `json:"lineages"`
	Runs         map[string]ExperimentRun      `json:"runs"`
}

func newMemoryState() memoryState {
	return memoryState{
		containers:   make(map[string]Container),
		samples:      make(map[string]Sample),
		processes:    make(map[string]Process),
		measurements: make(map[string]ProcessMeasurement),
		lineages:     make(map[string]SampleLineage),
		runs:         make(map[string]ExperimentRun),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Containers:   cloned.containers,
		Samples:      cloned.samples,
		Processes:    cloned.processes,
		Measurements: cloned.measurements,
		Lineages:     cloned.lineages,
		Runs:         cloned.runs,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		containers:   s.Containers,
		samples:      s.Samples,
		processes:    s.Processes,
		measurements: s.Measurements,
		lineages:     s.Lineages,
		runs:         s.Runs,
	}
	return state.clone()
}

// migrateSnapshot fills missing buckets and drops records whose references
// no longer resolve, so an imported snapshot always satisfies the
// referential constraints enforced by transactions.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Containers == nil {
		snapshot.Containers = map[string]Container{}
	}
	if snapshot.Samples == nil {
		snapshot.Samples = map[string]Sample{}
	}
	if snapshot.Processes == nil {
		snapshot.Processes = map[string]Process{}
	}
	if snapshot.Measurements == nil {
		snapshot.Measurements = map[string]ProcessMeasurement{}
	}
	if snapshot.Lineages == nil {
		snapshot.Lineages = map[string]SampleLineage{}
	}
	if snapshot.Runs == nil {
		snapshot.Runs = map[string]ExperimentRun{}
	}

	containerExists := func(id string) bool {
		_, ok := snapshot.Containers[id]
		return ok
	}
	sampleExists := func(id string) bool {
		_, ok := snapshot.Samples[id]
		return ok
	}
	processExists := func(id string) bool {
		_, ok := snapshot.Processes[id]
		return ok
	}

	for id, container := range snapshot.Containers {
		if container.LocationID != nil && !containerExists(*container.LocationID) {
			container.LocationID = nil
			container.Coordinate = ""
		}
		snapshot.Containers[id] = container
	}

	for id, sample := range snapshot.Samples {
		if !containerExists(sample.ContainerID) {
			delete(snapshot.Samples, id)
		}
	}
	for id, sample := range snapshot.Samples {
		if sample.ExtractedFromID != nil && !sampleExists(*sample.ExtractedFromID) {
			sample.ExtractedFromID = nil
		}
		if sample.TransferredFromID != nil && !sampleExists(*sample.TransferredFromID) {
			sample.TransferredFromID = nil
		}
		snapshot.Samples[id] = sample
	}

	for id, process := range snapshot.Processes {
		if process.ParentProcessID != nil && !processExists(*process.ParentProcessID) {
			process.ParentProcessID = nil
		}
		snapshot.Processes[id] = process
	}

	for id, m := range snapshot.Measurements {
		if !processExists(m.ProcessID) || !sampleExists(m.SourceSampleID) {
			delete(snapshot.Measurements, id)
		}
	}

	seen := make(map[domain.LineageKey]string, len(snapshot.Lineages))
	ids := make([]string, 0, len(snapshot.Lineages))
	for id := range snapshot.Lineages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		edge := snapshot.Lineages[id]
		if !sampleExists(edge.ParentID) || !sampleExists(edge.ChildID) {
			delete(snapshot.Lineages, id)
			continue
		}
		if _, ok := snapshot.Measurements[edge.ProcessMeasurementID]; !ok {
			delete(snapshot.Lineages, id)
			continue
		}
		if _, dup := seen[edge.Key()]; dup {
			delete(snapshot.Lineages, id)
			continue
		}
		seen[edge.Key()] = id
	}

	for id, run := range snapshot.Runs {
		if !containerExists(run.ContainerID) || !processExists(run.ProcessID) {
			delete(snapshot.Runs, id)
		}
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.containers {
		cloned.containers[k] = cloneContainer(v)
	}
	for k, v := range s.samples {
		cloned.samples[k] = cloneSample(v)
	}
	for k, v := range s.processes {
		cloned.processes[k] = cloneProcess(v)
	}
	for k, v := range s.measurements {
		cloned.measurements[k] = cloneMeasurement(v)
	}
	for k, v := range s.lineages {
		cloned.lineages[k] = v
	}
	for k, v := range s.runs {
		cloned.runs[k] = v
	}
	return cloned
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneContainer(c Container) Container {
	c.LocationID = cloneStringPtr(c.LocationID)
	return c
}

func cloneSample(s Sample) Sample {
	if s.Concentration != nil {
		v := *s.Concentration
		s.Concentration = &v
	}
	s.ExtractedFromID = cloneStringPtr(s.ExtractedFromID)
	s.TransferredFromID = cloneStringPtr(s.TransferredFromID)
	if s.PoolMembers != nil {
		s.PoolMembers = append([]domain.PoolMember(nil), s.PoolMembers...)
	}
	return s
}

func cloneProcess(p Process) Process {
	p.ParentProcessID = cloneStringPtr(p.ParentProcessID)
	return p
}

func cloneMeasurement(m ProcessMeasurement) ProcessMeasurement {
	if m.VolumeUsed != nil {
		v := *m.VolumeUsed
		m.VolumeUsed = &v
	}
	return m
}

// sortByCreation orders records by creation time, then ID, so listings are
// stable across calls and backends.
func sortByCreation[T any](items []T, base func(T) domain.Base) {
	sort.Slice(items, func(i, j int) bool {
		a, b := base(items[i]), base(items[j])
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func listContainers(state *memoryState, keep func(Container) bool) []Container {
	out := make([]Container, 0, len(state.containers))
	for _, c := range state.containers {
		if keep == nil || keep(c) {
			out = append(out, cloneContainer(c))
		}
	}
	sortByCreation(out, func(c Container) domain.Base { return c.Base })
	return out
}

func listSamples(state *memoryState, keep func(Sample) bool) []Sample {
	out := make([]Sample, 0, len(state.samples))
	for _, s := range state.samples {
		if keep == nil || keep(s) {
			out = append(out, cloneSample(s))
		}
	}
	sortByCreation(out, func(s Sample) domain.Base { return s.Base })
	return out
}

func listProcesses(state *memoryState) []Process {
	out := make([]Process, 0, len(state.processes))
	for _, p := range state.processes {
		out = append(out, cloneProcess(p))
	}
	sortByCreation(out, func(p Process) domain.Base { return p.Base })
	return out
}

func listMeasurements(state *memoryState) []ProcessMeasurement {
	out := make([]ProcessMeasurement, 0, len(state.measurements))
	for _, m := range state.measurements {
		out = append(out, cloneMeasurement(m))
	}
	sortByCreation(out, func(m ProcessMeasurement) domain.Base { return m.Base })
	return out
}

func listLineages(state *memoryState) []SampleLineage {
	out := make([]SampleLineage, 0, len(state.lineages))
	for _, l := range state.lineages {
		out = append(out, l)
	}
	sortByCreation(out, func(l SampleLineage) domain.Base { return l.Base })
	return out
}

func listRuns(state *memoryState) []ExperimentRun {
	out := make([]ExperimentRun, 0, len(state.runs))
	for _, r := range state.runs {
		out = append(out, r)
	}
	sortByCreation(out, func(r ExperimentRun) domain.Base { return r.Base })
	return out
}

func findContainerByBarcode(state *memoryState, barcode string) (Container, bool) {
	for _, c := range state.containers {
		if c.Barcode == barcode {
			return cloneContainer(c), true
		}
	}
	return Container{}, false
}

// Store holds the committed state behind a RWMutex; writers are serialised.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore returns an empty store evaluating engine (an empty engine when nil).
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState returns a deep copy of the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the committed state, normalising legacy snapshots.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the clock stamped on created and updated records.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider; nil restores the UTC wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListContainers() []Container { return listContainers(v.state, nil) }

func (v transactionView) FindContainer(id string) (Container, bool) {
	c, ok := v.state.containers[id]
	if !ok {
		return Container{}, false
	}
	return cloneContainer(c), true
}

func (v transactionView) FindContainerByBarcode(barcode string) (Container, bool) {
	return findContainerByBarcode(v.state, barcode)
}

func (v transactionView) ListChildContainers(parentID string) []Container {
	return listContainers(v.state, func(c Container) bool {
		return c.LocationID != nil && *c.LocationID == parentID
	})
}

func (v transactionView) ListSamples() []Sample { return listSamples(v.state, nil) }

func (v transactionView) FindSample(id string) (Sample, bool) {
	s, ok := v.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(s), true
}

func (v transactionView) ListSamplesInContainer(containerID string) []Sample {
	return listSamples(v.state, func(s Sample) bool { return s.ContainerID == containerID })
}

func (v transactionView) ListProcesses() []Process { return listProcesses(v.state) }

func (v transactionView) FindProcess(id string) (Process, bool) {
	p, ok := v.state.processes[id]
	if !ok {
		return Process{}, false
	}
	return cloneProcess(p), true
}

func (v transactionView) ListProcessMeasurements() []ProcessMeasurement {
	return listMeasurements(v.state)
}

func (v transactionView) FindProcessMeasurement(id string) (ProcessMeasurement, bool) {
	m, ok := v.state.measurements[id]
	if !ok {
		return ProcessMeasurement{}, false
	}
	return cloneMeasurement(m), true
}

func (v transactionView) ListSampleLineages() []SampleLineage { return listLineages(v.state) }

func (v transactionView) ListExperimentRuns() []ExperimentRun { return listRuns(v.state) }

// CommitFunc receives the state a transaction is about to publish. A non-nil
// error aborts the commit and the previous state stays in place.
type CommitFunc func(ctx context.Context, next Snapshot) error

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy is discarded when fn fails, when a rule blocks, or when ctx is
// marked as a dry run.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, nil)
}

// RunInTransactionWithCommit is RunInTransaction with commit invoked, under the
// store lock, before the new state replaces the committed one.
func (s *Store) RunInTransactionWithCommit(ctx context.Context, fn func(tx Transaction) error, commit CommitFunc) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if domain.IsDryRun(ctx) {
		return result, nil
	}
	if commit != nil {
		if err := commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) view() transactionView { return transactionView{state: &tx.state} }

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp stamped on every record written by the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) ListContainers() []Container { return tx.view().ListContainers() }

func (tx *transaction) FindContainer(id string) (Container, bool) { return tx.view().FindContainer(id) }

func (tx *transaction) FindContainerByBarcode(barcode string) (Container, bool) {
	return tx.view().FindContainerByBarcode(barcode)
}

func (tx *transaction) ListChildContainers(parentID string) []Container {
	return tx.view().ListChildContainers(parentID)
}

func (tx *transaction) ListSamples() []Sample { return tx.view().ListSamples() }

func (tx *transaction) FindSample(id string) (Sample, bool) { return tx.view().FindSample(id) }

func (tx *transaction) ListSamplesInContainer(containerID string) []Sample {
	return tx.view().ListSamplesInContainer(containerID)
}

func (tx *transaction) ListProcesses() []Process { return tx.view().ListProcesses() }

func (tx *transaction) FindProcess(id string) (Process, bool) { return tx.view().FindProcess(id) }

func (tx *transaction) ListProcessMeasurements() []ProcessMeasurement {
	return tx.view().ListProcessMeasurements()
}

func (tx *transaction) FindProcessMeasurement(id string) (ProcessMeasurement, bool) {
	return tx.view().FindProcessMeasurement(id)
}

func (tx *transaction) ListSampleLineages() []SampleLineage { return tx.view().ListSampleLineages() }

func (tx *transaction) ListExperimentRuns() []ExperimentRun { return tx.view().ListExperimentRuns() }

func (tx *transaction) validateContainer(c Container) error {
	if c.Barcode == "" {
		return errors.New("container requires barcode")
	}
	if c.Name == "" {
		return errors.New("container requires name")
	}
	if c.Kind == "" {
		return errors.New("container requires kind")
	}
	for id, other := range tx.state.containers {
		if id != c.ID && other.Barcode == c.Barcode {
			return domain.AlreadyExistsError{Entity: domain.EntityContainer, Key: c.Barcode}
		}
	}
	if c.LocationID == nil {
		return nil
	}
	if *c.LocationID == c.ID {
		return fmt.Errorf("container %q cannot be its own location", c.ID)
	}
	parent, ok := tx.state.containers[*c.LocationID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityContainer, ID: *c.LocationID}
	}
	for parent.LocationID != nil {
		if *parent.LocationID == c.ID {
			return fmt.Errorf("container %q would be nested inside itself", c.ID)
		}
		next, ok := tx.state.containers[*parent.LocationID]
		if !ok {
			break
		}
		parent = next
	}
	return nil
}

// CreateContainer inserts a new container. Barcodes are unique.
func (tx *transaction) CreateContainer(c Container) (Container, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.containers[c.ID]; exists {
		return Container{}, domain.AlreadyExistsError{Entity: domain.EntityContainer, Key: c.ID}
	}
	if err := tx.validateContainer(c); err != nil {
		return Container{}, err
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.containers[c.ID] = cloneContainer(c)
	tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionCreate, After: cloneContainer(c)})
	return cloneContainer(c), nil
}

// UpdateContainer mutates an existing container.
func (tx *transaction) UpdateContainer(id string, mutator func(*Container) error) (Container, error) {
	current, ok := tx.state.containers[id]
	if !ok {
		return Container{}, domain.NotFoundError{Entity: domain.EntityContainer, ID: id}
	}
	before := cloneContainer(current)
	if err := mutator(&current); err != nil {
		return Container{}, err
	}
	current.ID = id
	if err := tx.validateContainer(current); err != nil {
		return Container{}, err
	}
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.containers[id] = cloneContainer(current)
	tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionUpdate, Before: before, After: cloneContainer(current)})
	return cloneContainer(current), nil
}

// DeleteContainer removes an empty container.
func (tx *transaction) DeleteContainer(id string) error {
	current, ok := tx.state.containers[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityContainer, ID: id}
	}
	for _, c := range tx.state.containers {
		if c.LocationID != nil && *c.LocationID == id {
			return fmt.Errorf("container %q still holds container %q", current.Barcode, c.Barcode)
		}
	}
	for _, s := range tx.state.samples {
		if s.ContainerID == id {
			return fmt.Errorf("container %q still holds sample %q", current.Barcode, s.Name)
		}
	}
	for _, r := range tx.state.runs {
		if r.ContainerID == id {
			return fmt.Errorf("container %q is referenced by experiment run %q", current.Barcode, r.Name)
		}
	}
	delete(tx.state.containers, id)
	tx.recordChange(Change{Entity: domain.EntityContainer, Action: domain.ActionDelete, Before: cloneContainer(current)})
	return nil
}

func positionKey(containerID, coord string) string {
	if coord == "" {
		return containerID
	}
	return containerID + "@" + coord
}

func (tx *transaction) validateSample(s Sample) error {
	if s.Name == "" {
		return errors.New("sample requires name")
	}
	if s.Kind == "" {
		return errors.New("sample requires kind")
	}
	if _, ok := tx.state.containers[s.ContainerID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityContainer, ID: s.ContainerID}
	}
	for id, other := range tx.state.samples {
		if id != s.ID && other.ContainerID == s.ContainerID && other.Coordinate == s.Coordinate {
			return domain.AlreadyExistsError{Entity: domain.EntitySample, Key: positionKey(s.ContainerID, s.Coordinate)}
		}
	}
	for _, ref := range []*string{s.ExtractedFromID, s.TransferredFromID} {
		if ref == nil {
			continue
		}
		if _, ok := tx.state.samples[*ref]; !ok {
			return domain.NotFoundError{Entity: domain.EntitySample, ID: *ref}
		}
	}
	for _, member := range s.PoolMembers {
		if _, ok := tx.state.samples[member.SourceSampleID]; !ok {
			return domain.NotFoundError{Entity: domain.EntitySample, ID: member.SourceSampleID}
		}
	}
	return nil
}

// CreateSample inserts a sample. A container position holds at most one sample.
func (tx *transaction) CreateSample(s Sample) (Sample, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.samples[s.ID]; exists {
		return Sample{}, domain.AlreadyExistsError{Entity: domain.EntitySample, Key: s.ID}
	}
	if err := tx.validateSample(s); err != nil {
		return Sample{}, err
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.samples[s.ID] = cloneSample(s)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionCreate, After: cloneSample(s)})
	return cloneSample(s), nil
}

// UpdateSample mutates an existing sample.
func (tx *transaction) UpdateSample(id string, mutator func(*Sample) error) (Sample, error) {
	current, ok := tx.state.samples[id]
	if !ok {
		return Sample{}, domain.NotFoundError{Entity: domain.EntitySample, ID: id}
	}
	before := cloneSample(current)
	if err := mutator(&current); err != nil {
		return Sample{}, err
	}
	current.ID = id
	if err := tx.validateSample(current); err != nil {
		return Sample{}, err
	}
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.samples[id] = cloneSample(current)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionUpdate, Before: before, After: cloneSample(current)})
	return cloneSample(current), nil
}

// CreateProcess inserts a process.
func (tx *transaction) CreateProcess(p Process) (Process, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.processes[p.ID]; exists {
		return Process{}, domain.AlreadyExistsError{Entity: domain.EntityProcess, Key: p.ID}
	}
	if p.Protocol == "" {
		return Process{}, errors.New("process requires protocol")
	}
	if p.ParentProcessID != nil {
		if _, ok := tx.state.processes[*p.ParentProcessID]; !ok {
			return Process{}, domain.NotFoundError{Entity: domain.EntityProcess, ID: *p.ParentProcessID}
		}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.processes[p.ID] = cloneProcess(p)
	tx.recordChange(Change{Entity: domain.EntityProcess, Action: domain.ActionCreate, After: cloneProcess(p)})
	return cloneProcess(p), nil
}

// CreateProcessMeasurement appends a ledger row.
func (tx *transaction) CreateProcessMeasurement(m ProcessMeasurement) (ProcessMeasurement, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.measurements[m.ID]; exists {
		return ProcessMeasurement{}, domain.AlreadyExistsError{Entity: domain.EntityProcessMeasurement, Key: m.ID}
	}
	if _, ok := tx.state.processes[m.ProcessID]; !ok {
		return ProcessMeasurement{}, domain.NotFoundError{Entity: domain.EntityProcess, ID: m.ProcessID}
	}
	if _, ok := tx.state.samples[m.SourceSampleID]; !ok {
		return ProcessMeasurement{}, domain.NotFoundError{Entity: domain.EntitySample, ID: m.SourceSampleID}
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.measurements[m.ID] = cloneMeasurement(m)
	tx.recordChange(Change{Entity: domain.EntityProcessMeasurement, Action: domain.ActionCreate, After: cloneMeasurement(m)})
	return cloneMeasurement(m), nil
}

// CreateSampleLineage records a parent to child edge. The (parent, child,
// measurement) triple is unique.
func (tx *transaction) CreateSampleLineage(l SampleLineage) (SampleLineage, error) {
	if l.ID == "" {
		l.ID = tx.store.newID()
	}
	if _, exists := tx.state.lineages[l.ID]; exists {
		return SampleLineage{}, domain.AlreadyExistsError{Entity: domain.EntitySampleLineage, Key: l.ID}
	}
	if l.ParentID == l.ChildID {
		return SampleLineage{}, fmt.Errorf("sample %q cannot be its own parent", l.ParentID)
	}
	for _, ref := range []string{l.ParentID, l.ChildID} {
		if _, ok := tx.state.samples[ref]; !ok {
			return SampleLineage{}, domain.NotFoundError{Entity: domain.EntitySample, ID: ref}
		}
	}
	if _, ok := tx.state.measurements[l.ProcessMeasurementID]; !ok {
		return SampleLineage{}, domain.NotFoundError{Entity: domain.EntityProcessMeasurement, ID: l.ProcessMeasurementID}
	}
	for _, other := range tx.state.lineages {
		if other.Key() == l.Key() {
			return SampleLineage{}, domain.AlreadyExistsError{
				Entity: domain.EntitySampleLineage,
				Key:    fmt.Sprintf("%s->%s via %s", l.ParentID, l.ChildID, l.ProcessMeasurementID),
			}
		}
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.lineages[l.ID] = l
	tx.recordChange(Change{Entity: domain.EntitySampleLineage, Action: domain.ActionCreate, After: l})
	return l, nil
}

// CreateExperimentRun inserts an instrument run.
func (tx *transaction) CreateExperimentRun(r ExperimentRun) (ExperimentRun, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.runs[r.ID]; exists {
		return ExperimentRun{}, domain.AlreadyExistsError{Entity: domain.EntityExperimentRun, Key: r.ID}
	}
	if r.Name == "" {
		return ExperimentRun{}, errors.New("experiment run requires name")
	}
	if _, ok := tx.state.containers[r.ContainerID]; !ok {
		return ExperimentRun{}, domain.NotFoundError{Entity: domain.EntityContainer, ID: r.ContainerID}
	}
	if _, ok := tx.state.processes[r.ProcessID]; !ok {
		return ExperimentRun{}, domain.NotFoundError{Entity: domain.EntityProcess, ID: r.ProcessID}
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.runs[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityExperimentRun, Action: domain.ActionCreate, After: r})
	return r, nil
}

// Read helpers ---------------------------------------------------------------

// GetContainer retrieves a container by ID from committed state.
func (s *Store) GetContainer(id string) (Container, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.containers[id]
	if !ok {
		return Container{}, false
	}
	return cloneContainer(c), true
}

// GetContainerByBarcode retrieves a container by its unique barcode.
func (s *Store) GetContainerByBarcode(barcode string) (Container, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findContainerByBarcode(&s.state, barcode)
}

// ListContainers returns all containers from committed state.
func (s *Store) ListContainers() []Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listContainers(&s.state, nil)
}

// GetSample retrieves a sample by ID.
func (s *Store) GetSample(id string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(sample), true
}

// ListSamples returns all samples.
func (s *Store) ListSamples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSamples(&s.state, nil)
}

// ListProcesses returns all processes.
func (s *Store) ListProcesses() []Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProcesses(&s.state)
}

// ListProcessMeasurements returns the full ledger.
func (s *Store) ListProcessMeasurements() []ProcessMeasurement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMeasurements(&s.state)
}

// ListSampleLineages returns every lineage edge.
func (s *Store) ListSampleLineages() []SampleLineage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLineages(&s.state)
}

// ListExperimentRuns returns all runs.
func (s *Store) ListExperimentRuns() []ExperimentRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRuns(&s.state)
}
