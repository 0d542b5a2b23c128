package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pandebugger-api/internal/models"
)

// ReferenceRepository reads the immutable lookup tables loaded at startup.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository creates a new instance of ReferenceRepository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// ListStates returns every lifecycle state.
func (r *ReferenceRepository) ListStates(ctx context.Context) ([]models.LifecycleState, error) {
	const query = `SELECT id, name, description, display_order FROM lifecycle_states ORDER BY display_order, id`
	var states []models.LifecycleState
	if err := r.db.SelectContext(ctx, &states, query); err != nil {
		return nil, fmt.Errorf("list lifecycle states: %w", err)
	}
	return states, nil
}

// ListActions returns every audit action.
func (r *ReferenceRepository) ListActions(ctx context.Context) ([]models.LookupEntry, error) {
	const query = `SELECT id, name, description FROM actions ORDER BY id`
	var actions []models.LookupEntry
	if err := r.db.SelectContext(ctx, &actions, query); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// ListTargetTypes returns every audit target type.
func (r *ReferenceRepository) ListTargetTypes(ctx context.Context) ([]models.LookupEntry, error) {
	const query = `SELECT id, name, '' AS description FROM target_types ORDER BY id`
	var targets []models.LookupEntry
	if err := r.db.SelectContext(ctx, &targets, query); err != nil {
		return nil, fmt.Errorf("list target types: %w", err)
	}
	return targets, nil
}

// ListRoles returns every role.
func (r *ReferenceRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, name, description FROM roles ORDER BY id`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
