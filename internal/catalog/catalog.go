// Package catalog resolves the audit and authorization reference data loaded at startup.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

// Action names an audited operation.
type Action string

const (
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionChangePassword Action = "change_password"
	ActionAssignTask     Action = "assign_task"
	ActionCompleteTask   Action = "complete_task"
	ActionDigitize       Action = "digitize"
	ActionRestore        Action = "restore"
	ActionClassify       Action = "classify"
	ActionQualityReview  Action = "quality_review"
)

// TargetType names the kind of entity an audit entry refers to.
type TargetType string

const (
	TargetUser     TargetType = "user"
	TargetBook     TargetType = "book"
	TargetTask     TargetType = "task"
	TargetCategory TargetType = "category"
	TargetSystem   TargetType = "system"
)

var requiredActions = []Action{
	ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionChangePassword,
	ActionCompleteTask, ActionQualityReview,
}

var requiredTargets = []TargetType{TargetUser, TargetBook, TargetCategory}

var requiredRoles = []string{models.RoleAdmin, models.RoleLibrarian, models.RoleDigitizer}

// Source lists the reference tables.
type Source interface {
	ListActions(ctx context.Context) ([]models.LookupEntry, error)
	ListTargetTypes(ctx context.Context) ([]models.LookupEntry, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
}

// Catalog maps action, target type and role names to their store ids.
type Catalog struct {
	actions     map[Action]int64
	targets     map[TargetType]int64
	roles       map[int64]models.Role
	roleByName  map[string]models.Role
	actionNames map[int64]string
	actionRows  []models.LookupEntry
	targetRows  []models.LookupEntry
}

// Load reads every reference table once. Missing required rows yield a ConfigurationError.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	actions, err := src.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	targets, err := src.ListTargetTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load target types: %w", err)
	}
	roles, err := src.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return New(actions, targets, roles)
}

// New builds a catalog from loaded rows.
func New(actions, targets []models.LookupEntry, roles []models.Role) (*Catalog, error) {
	c := &Catalog{
		actions:     make(map[Action]int64, len(actions)),
		targets:     make(map[TargetType]int64, len(targets)),
		roles:       make(map[int64]models.Role, len(roles)),
		roleByName:  make(map[string]models.Role, len(roles)),
		actionNames: make(map[int64]string, len(actions)),
		actionRows:  sortedLookup(actions),
		targetRows:  sortedLookup(targets),
	}
	for _, a := range actions {
		c.actions[Action(strings.ToLower(a.Name))] = a.ID
		c.actionNames[a.ID] = a.Name
	}
	for _, t := range targets {
		c.targets[TargetType(strings.ToLower(t.Name))] = t.ID
	}
	for _, r := range roles {
		c.roles[r.ID] = r
		c.roleByName[strings.ToLower(r.Name)] = r
	}

	var missing []string
	for _, a := range requiredActions {
		if _, ok := c.actions[a]; !ok {
			missing = append(missing, "action "+string(a))
		}
	}
	for _, t := range requiredTargets {
		if _, ok := c.targets[t]; !ok {
			missing = append(missing, "target type "+string(t))
		}
	}
	for _, name := range requiredRoles {
		if _, ok := c.roleByName[strings.ToLower(name)]; !ok {
			missing = append(missing, "role "+name)
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.Clonef(appErrors.ErrConfiguration,
			"reference data missing from the store: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

// ActionID resolves an action to its id.
func (c *Catalog) ActionID(a Action) (int64, error) {
	id, ok := c.actions[a]
	if !ok {
		return 0, appErrors.Clonef(appErrors.ErrConfiguration, "audit action %q is not defined", a)
	}
	return id, nil
}

// TargetTypeID resolves a target type to its id.
func (c *Catalog) TargetTypeID(t TargetType) (int64, error) {
	id, ok := c.targets[t]
	if !ok {
		return 0, appErrors.Clonef(appErrors.ErrConfiguration, "audit target type %q is not defined", t)
	}
	return id, nil
}

// HasTargetType reports whether name is a known target type.
func (c *Catalog) HasTargetType(name string) (TargetType, bool) {
	t := TargetType(strings.ToLower(strings.TrimSpace(name)))
	_, ok := c.targets[t]
	return t, ok
}

// Role returns the role with id.
func (c *Catalog) Role(id int64) (models.Role, bool) {
	r, ok := c.roles[id]
	return r, ok
}

// RoleByName looks a role up case-insensitively.
func (c *Catalog) RoleByName(name string) (models.Role, bool) {
	r, ok := c.roleByName[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// Roles returns every role ordered by id.
func (c *Catalog) Roles() []models.Role {
	out := make([]models.Role, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Actions returns the audit actions ordered by id.
func (c *Catalog) Actions() []models.LookupEntry {
	return append([]models.LookupEntry(nil), c.actionRows...)
}

// TargetTypes returns the audit target types ordered by id.
func (c *Catalog) TargetTypes() []models.LookupEntry {
	return append([]models.LookupEntry(nil), c.targetRows...)
}

func sortedLookup(rows []models.LookupEntry) []models.LookupEntry {
	out := append(make([]models.LookupEntry, 0, len(rows)), rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
