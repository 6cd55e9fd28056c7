package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreatePod(Pod) (Pod, error)
	UpdatePod(id string, mutator func(*Pod) error) (Pod, error)
	DeletePod(id string) error
	CreatePlant(Plant) (Plant, error)
	UpdatePlant(id string, mutator func(*Plant) error) (Plant, error)
	DeletePlant(id string) error
	FindPod(id string) (Pod, bool)
	FindPlant(id string) (Plant, bool)
	// BeforeCommit registers fn to run after rules pass and before the
	// transaction state becomes visible. An error aborts the commit.
	BeforeCommit(fn func() error)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListPods() []Pod
	ListPlants() []Plant
	FindPod(id string) (Pod, bool)
	FindPlant(id string) (Plant, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPod(id string) (Pod, bool)
	ListPods() []Pod
	GetPlant(id string) (Plant, bool)
	ListPlants() []Plant
}
