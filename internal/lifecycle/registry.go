package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

// StateSource lists the lifecycle_states rows.
type StateSource interface {
	ListStates(ctx context.Context) ([]models.LifecycleState, error)
}

// Registry is the immutable catalog of lifecycle states loaded from the record store.
type Registry struct {
	ordered []models.LifecycleState
	byState map[State]models.LifecycleState
	byID    map[int64]models.LifecycleState
}

// Load reads the states once from source. A store missing any state referenced by the
// transition table yields a ConfigurationError naming all of them.
func Load(ctx context.Context, source StateSource) (*Registry, error) {
	rows, err := source.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lifecycle states: %w", err)
	}
	return NewRegistry(rows)
}

// NewRegistry builds a registry from already loaded rows.
func NewRegistry(rows []models.LifecycleState) (*Registry, error) {
	r := &Registry{
		byState: make(map[State]models.LifecycleState, len(rows)),
		byID:    make(map[int64]models.LifecycleState, len(rows)),
	}
	for _, row := range rows {
		r.byID[row.ID] = row
		r.ordered = append(r.ordered, row)
		if s, ok := ParseState(row.Name); ok {
			r.byState[s] = row
		}
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].DisplayOrder != r.ordered[j].DisplayOrder {
			return r.ordered[i].DisplayOrder < r.ordered[j].DisplayOrder
		}
		return r.ordered[i].ID < r.ordered[j].ID
	})

	var missing []string
	for _, s := range requiredStates {
		if _, ok := r.byState[s]; !ok {
			missing = append(missing, string(s))
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.Clonef(appErrors.ErrConfiguration,
			"lifecycle states missing from the store: %s", strings.Join(missing, ", "))
	}
	return r, nil
}

// StatesByName returns a copy of the loaded states keyed by their stored name.
func (r *Registry) StatesByName() map[string]models.LifecycleState {
	out := make(map[string]models.LifecycleState, len(r.ordered))
	for _, row := range r.ordered {
		out[row.Name] = row
	}
	return out
}

// States returns the loaded states ordered by display order.
func (r *Registry) States() []models.LifecycleState {
	out := make([]models.LifecycleState, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ID returns the store id of s. The second value is false for optional states the store
// does not define.
func (r *Registry) ID(s State) (int64, bool) {
	row, ok := r.byState[s]
	return row.ID, ok
}

// MustID returns the id of a state the registry guarantees to exist.
func (r *Registry) MustID(s State) int64 {
	id, ok := r.ID(s)
	if !ok {
		panic(fmt.Sprintf("lifecycle: state %s not loaded", s))
	}
	return id
}

// ByID maps a stored state id back to its State.
func (r *Registry) ByID(id int64) (State, bool) {
	row, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return ParseState(row.Name)
}

// Name returns the stored name for id, or a placeholder for unknown ids.
func (r *Registry) Name(id int64) string {
	if row, ok := r.byID[id]; ok {
		return row.Name
	}
	return fmt.Sprintf("unknown(%d)", id)
}

// Contains reports whether id is a loaded state.
func (r *Registry) Contains(id int64) bool {
	_, ok := r.byID[id]
	return ok
}

// IsValidTransition reports whether from -> to is in the transition table and both states
// exist in the store.
func (r *Registry) IsValidTransition(from, to State) bool {
	if _, ok := r.byState[from]; !ok {
		return false
	}
	if _, ok := r.byState[to]; !ok {
		return false
	}
	return CanTransition(from, to)
}

// Require fails with an InvalidStateError naming current when it is not one of allowed.
func (r *Registry) Require(current State, allowed ...State) error {
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return appErrors.Clonef(appErrors.ErrInvalidState,
		"book is in state %s; operation requires %s", current, strings.Join(names, " or "))
}

// Transition validates a state change and returns the id of the target state.
func (r *Registry) Transition(from, to State) (int64, error) {
	if !r.IsValidTransition(from, to) {
		return 0, appErrors.Clonef(appErrors.ErrInvalidState,
			"book is in state %s and cannot move to %s", from, to)
	}
	return r.MustID(to), nil
}
