// Package memory provides an in-memory implementation of the pod and plant
// registry used for tests and ephemeral environments, and as the
// transactional core of the SQL-backed stores.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"growpod/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Pod aliases domain.Pod for in-memory persistence operations.
	Pod = domain.Pod
	// Plant aliases domain.Plant.
	Plant = domain.Plant
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	pods   map[string]Pod
	plants map[string]Plant
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Pods   map[string]Pod   `json:"pods"`
	Plants map[string]Plant `json:"plants"`
}

func newMemoryState() memoryState {
	return memoryState{
		pods:   make(map[string]Pod),
		plants: make(map[string]Plant),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		pods:   make(map[string]Pod, len(s.pods)),
		plants: make(map[string]Plant, len(s.plants)),
	}
	for k, v := range s.pods {
		out.pods[k] = clonePod(v)
	}
	for k, v := range s.plants {
		out.plants[k] = clonePlant(v)
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{Pods: c.pods, Plants: c.plants}
}

// memoryStateFromSnapshot drops pod memberships that point at plants
// missing from the snapshot so a partially written snapshot still loads.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Plants {
		state.plants[k] = clonePlant(v)
	}
	for k, v := range s.Pods {
		p := clonePod(v)
		p.PlantIDs = slices.DeleteFunc(p.PlantIDs, func(id string) bool {
			_, ok := state.plants[id]
			return !ok
		})
		state.pods[k] = p
	}
	return state
}

func clonePod(p Pod) Pod {
	p.PlantIDs = slices.Clone(p.PlantIDs)
	if p.CurrentConditions != nil {
		c := *p.CurrentConditions
		p.CurrentConditions = &c
	}
	return p
}

func clonePlant(p Plant) Plant {
	if p.Height != nil {
		h := *p.Height
		p.Height = &h
	}
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for created/updated fields.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	hooks   []func() error
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListPods returns all pods within the snapshot.
func (v transactionView) ListPods() []Pod {
	return sortedPods(v.state.pods)
}

// ListPlants returns all plants within the snapshot.
func (v transactionView) ListPlants() []Plant {
	return sortedPlants(v.state.plants)
}

// FindPod retrieves a pod by ID from the snapshot.
func (v transactionView) FindPod(id string) (Pod, bool) {
	p, ok := v.state.pods[id]
	if !ok {
		return Pod{}, false
	}
	return clonePod(p), true
}

// FindPlant retrieves a plant by ID from the snapshot.
func (v transactionView) FindPlant(id string) (Plant, bool) {
	p, ok := v.state.plants[id]
	if !ok {
		return Plant{}, false
	}
	return clonePlant(p), true
}

// RunInTransaction applies fn to a copy of the state, evaluates rules over
// the recorded changes, runs before-commit hooks in registration order and
// only then publishes the new state. Any failure leaves the store untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
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

	for _, hook := range tx.hooks {
		if err := hook(); err != nil {
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

// BeforeCommit registers fn to run once rules have passed.
func (tx *transaction) BeforeCommit(fn func() error) {
	tx.hooks = append(tx.hooks, fn)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindPod exposes pod lookup within the transaction scope.
func (tx *transaction) FindPod(id string) (Pod, bool) {
	return transactionView{state: &tx.state}.FindPod(id)
}

// FindPlant exposes plant lookup within the transaction scope.
func (tx *transaction) FindPlant(id string) (Plant, bool) {
	return transactionView{state: &tx.state}.FindPlant(id)
}

func (tx *transaction) checkPod(p Pod) error {
	if err := domain.Validate(p); err != nil {
		return err
	}
	for _, id := range p.PlantIDs {
		if _, ok := tx.state.plants[id]; !ok {
			return domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
		}
	}
	if p.CurrentConditions != nil {
		return domain.Validate(*p.CurrentConditions)
	}
	return nil
}

// CreatePod stores a new pod.
func (tx *transaction) CreatePod(p Pod) (Pod, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.pods[p.ID]; exists {
		return Pod{}, fmt.Errorf("pod %q already exists", p.ID)
	}
	p.PlantIDs = dedupeStrings(slices.Clone(p.PlantIDs))
	if err := tx.checkPod(p); err != nil {
		return Pod{}, err
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.pods[p.ID] = clonePod(p)
	tx.recordChange(Change{Entity: domain.EntityPod, Action: domain.ActionCreate, After: clonePod(p)})
	return clonePod(p), nil
}

// UpdatePod mutates an existing pod.
func (tx *transaction) UpdatePod(id string, mutator func(*Pod) error) (Pod, error) {
	current, ok := tx.state.pods[id]
	if !ok {
		return Pod{}, domain.ErrNotFound{Entity: domain.EntityPod, ID: id}
	}
	before := clonePod(current)
	current = clonePod(current)
	if err := mutator(&current); err != nil {
		return Pod{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.PlantIDs = dedupeStrings(current.PlantIDs)
	if err := tx.checkPod(current); err != nil {
		return Pod{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.pods[id] = clonePod(current)
	tx.recordChange(Change{Entity: domain.EntityPod, Action: domain.ActionUpdate, Before: before, After: clonePod(current)})
	return clonePod(current), nil
}

// DeletePod removes an empty pod.
func (tx *transaction) DeletePod(id string) error {
	current, ok := tx.state.pods[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPod, ID: id}
	}
	if n := current.Occupancy(); n > 0 {
		return fmt.Errorf("pod %q still houses %d plants", id, n)
	}
	delete(tx.state.pods, id)
	tx.recordChange(Change{Entity: domain.EntityPod, Action: domain.ActionDelete, Before: clonePod(current)})
	return nil
}

func (tx *transaction) checkPlant(p Plant) error {
	if err := domain.Validate(p); err != nil {
		return err
	}
	if !p.Stage.Valid() {
		return fmt.Errorf("%w: unknown growth stage %q", domain.ErrInvalidInput, p.Stage)
	}
	if p.Height != nil {
		if err := domain.ValidateFinite("height", *p.Height); err != nil {
			return err
		}
	}
	if _, ok := tx.state.pods[p.PodID]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityPod, ID: p.PodID}
	}
	return nil
}

// CreatePlant stores a new plant. Stage defaults to seed and PlantedAt to
// the transaction time. Pod membership is managed through UpdatePod.
func (tx *transaction) CreatePlant(p Plant) (Plant, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.plants[p.ID]; exists {
		return Plant{}, fmt.Errorf("plant %q already exists", p.ID)
	}
	if p.Stage == "" {
		p.Stage = domain.StageSeed
	}
	if p.PlantedAt.IsZero() {
		p.PlantedAt = tx.now
	}
	if err := tx.checkPlant(p); err != nil {
		return Plant{}, err
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.plants[p.ID] = clonePlant(p)
	tx.recordChange(Change{Entity: domain.EntityPlant, Action: domain.ActionCreate, After: clonePlant(p)})
	return clonePlant(p), nil
}

// UpdatePlant mutates an existing plant.
func (tx *transaction) UpdatePlant(id string, mutator func(*Plant) error) (Plant, error) {
	current, ok := tx.state.plants[id]
	if !ok {
		return Plant{}, domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
	}
	before := clonePlant(current)
	current = clonePlant(current)
	if err := mutator(&current); err != nil {
		return Plant{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if err := tx.checkPlant(current); err != nil {
		return Plant{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.plants[id] = clonePlant(current)
	tx.recordChange(Change{Entity: domain.EntityPlant, Action: domain.ActionUpdate, Before: before, After: clonePlant(current)})
	return clonePlant(current), nil
}

// DeletePlant removes a plant and detaches it from any pod listing it.
func (tx *transaction) DeletePlant(id string) error {
	current, ok := tx.state.plants[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
	}
	delete(tx.state.plants, id)
	for podID, pod := range tx.state.pods {
		if idx := slices.Index(pod.PlantIDs, id); idx >= 0 {
			pod.PlantIDs = slices.Delete(slices.Clone(pod.PlantIDs), idx, idx+1)
			pod.UpdatedAt = tx.now
			tx.state.pods[podID] = pod
		}
	}
	tx.recordChange(Change{Entity: domain.EntityPlant, Action: domain.ActionDelete, Before: clonePlant(current)})
	return nil
}

// GetPod retrieves a pod by ID from committed state.
func (s *Store) GetPod(id string) (Pod, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.pods[id]
	if !ok {
		return Pod{}, false
	}
	return clonePod(p), true
}

// ListPods returns all pods ordered by creation time.
func (s *Store) ListPods() []Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPods(s.state.pods)
}

// GetPlant retrieves a plant by ID from committed state.
func (s *Store) GetPlant(id string) (Plant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.plants[id]
	if !ok {
		return Plant{}, false
	}
	return clonePlant(p), true
}

// ListPlants returns all plants ordered by creation time.
func (s *Store) ListPlants() []Plant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPlants(s.state.plants)
}

func sortedPods(in map[string]Pod) []Pod {
	out := make([]Pod, 0, len(in))
	for _, p := range in {
		out = append(out, clonePod(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedPlants(in map[string]Plant) []Plant {
	out := make([]Plant, 0, len(in))
	for _, p := range in {
		out = append(out, clonePlant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Buckets maps persistence bucket names to the snapshot fields they hold.
// SQL-backed stores marshal each bucket into its own row.
func (s *Snapshot) Buckets() map[string]any {
	return map[string]any{
		"pods":   &s.Pods,
		"plants": &s.Plants,
	}
}

// BucketNames lists snapshot buckets in a stable write order.
func BucketNames() []string {
	return []string{"pods", "plants"}
}
