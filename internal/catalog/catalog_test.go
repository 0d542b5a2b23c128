package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pandebugger-api/internal/models"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

type stubSource struct {
	actions []models.LookupEntry
	targets []models.LookupEntry
	roles   []models.Role
}

func (s stubSource) ListActions(context.Context) ([]models.LookupEntry, error) { return s.actions, nil }
func (s stubSource) ListTargetTypes(context.Context) ([]models.LookupEntry, error) {
	return s.targets, nil
}
func (s stubSource) ListRoles(context.Context) ([]models.Role, error) { return s.roles, nil }

func seeded() stubSource {
	var actions []models.LookupEntry
	for i, name := range []string{"create", "update", "delete", "login", "logout", "change_password",
		"assign_task", "complete_task", "digitize", "restore", "classify", "quality_review"} {
		actions = append(actions, models.LookupEntry{ID: int64(i + 1), Name: name})
	}
	return stubSource{
		actions: actions,
		targets: []models.LookupEntry{{ID: 1, Name: "user"}, {ID: 2, Name: "Book"}, {ID: 4, Name: "category"}},
		roles: []models.Role{
			{ID: 3, Name: "Digitalizador"},
			{ID: 1, Name: "Admin"},
			{ID: 2, Name: "Bibliotecario"},
		},
	}
}

func TestLoadResolvesIDs(t *testing.T) {
	c, err := Load(context.Background(), seeded())
	require.NoError(t, err)

	id, err := c.ActionID(ActionCompleteTask)
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)

	id, err = c.TargetTypeID(TargetBook)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	_, err = c.TargetTypeID(TargetSystem)
	assert.True(t, appErrors.IsKind(err, appErrors.ErrConfiguration))

	role, ok := c.RoleByName("bibliotecario")
	require.True(t, ok)
	assert.Equal(t, int64(2), role.ID)

	roles := c.Roles()
	require.Len(t, roles, 3)
	assert.Equal(t, "Admin", roles[0].Name)
}

func TestLoadFailsOnMissingReferenceData(t *testing.T) {
	src := seeded()
	src.actions = src.actions[:3]
	src.roles = src.roles[:1]

	_, err := Load(context.Background(), src)
	require.True(t, appErrors.IsKind(err, appErrors.ErrConfiguration))
	msg := appErrors.FromError(err).Message
	assert.Contains(t, msg, "action login")
	assert.Contains(t, msg, "action complete_task")
	assert.Contains(t, msg, "role Admin")
	assert.NotContains(t, msg, "target type")
}

func TestHasTargetType(t *testing.T) {
	c, err := New(seeded().actions, seeded().targets, seeded().roles)
	require.NoError(t, err)

	tt, ok := c.HasTargetType(" BOOK ")
	assert.True(t, ok)
	assert.Equal(t, TargetBook, tt)

	_, ok = c.HasTargetType("shelf")
	assert.False(t, ok)
}

func TestLookupListsAreOrderedCopies(t *testing.T) {
	src := seeded()
	src.targets = []models.LookupEntry{{ID: 4, Name: "category"}, {ID: 1, Name: "user"}, {ID: 2, Name: "Book"}}
	c, err := New(src.actions, src.targets, src.roles)
	require.NoError(t, err)

	targets := c.TargetTypes()
	require.Len(t, targets, 3)
	assert.Equal(t, []int64{1, 2, 4}, []int64{targets[0].ID, targets[1].ID, targets[2].ID})

	targets[0].Name = "changed"
	assert.Equal(t, "user", c.TargetTypes()[0].Name)

	actions := c.Actions()
	require.Len(t, actions, 12)
	assert.Equal(t, "create", actions[0].Name)
}
