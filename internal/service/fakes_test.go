package service

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/pandebugger-api/internal/catalog"
	"github.com/noah-isme/pandebugger-api/internal/lifecycle"
	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/internal/repository"
	"github.com/noah-isme/pandebugger-api/pkg/database"
)

// memStore is the shared in-memory record store behind the fake repositories.
type memStore struct {
	books      map[int64]models.Book
	tasks      []models.Task
	audit      []models.AuditEntry
	categories map[int64]models.Category
	users      map[int64]models.User
	nextID     int64
}

func newMemStore() *memStore {
	return &memStore{
		books:      map[int64]models.Book{},
		categories: map[int64]models.Category{},
		users:      map[int64]models.User{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) snapshot() memStore {
	snap := memStore{
		books:      make(map[int64]models.Book, len(m.books)),
		tasks:      append([]models.Task(nil), m.tasks...),
		audit:      append([]models.AuditEntry(nil), m.audit...),
		categories: make(map[int64]models.Category, len(m.categories)),
		users:      make(map[int64]models.User, len(m.users)),
		nextID:     m.nextID,
	}
	for k, v := range m.books {
		snap.books[k] = v
	}
	for k, v := range m.categories {
		snap.categories[k] = v
	}
	for k, v := range m.users {
		snap.users[k] = v
	}
	return snap
}

// fakeTx restores the store when the callback or the commit fails, like a rolled back transaction.
type fakeTx struct {
	store     *memStore
	calls     int
	commitErr error
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	snap := f.store.snapshot()
	txCtx, committed := database.WithCommitHooks(ctx)
	if err := fn(txCtx); err != nil {
		*f.store = snap
		return err
	}
	if f.commitErr != nil {
		*f.store = snap
		return f.commitErr
	}
	committed()
	return nil
}

type fakeBookRepo struct {
	store       *memStore
	searchCalls int
	failUpdate  error
}

func (r *fakeBookRepo) Create(_ context.Context, book *models.Book) error {
	book.ID = r.store.id()
	book.Version = 1
	book.Active = true
	book.CreatedAt = time.Now()
	book.UpdatedAt = book.CreatedAt
	r.store.books[book.ID] = *book
	return nil
}

func (r *fakeBookRepo) FindByID(_ context.Context, id int64) (*models.Book, error) {
	book, ok := r.store.books[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &book, nil
}

func (r *fakeBookRepo) guarded(book *models.Book, apply func(stored *models.Book)) error {
	if r.failUpdate != nil {
		return r.failUpdate
	}
	stored, ok := r.store.books[book.ID]
	if !ok || stored.Version != book.Version {
		return repository.ErrStaleVersion
	}
	apply(&stored)
	stored.Version++
	stored.UpdatedAt = time.Now()
	r.store.books[book.ID] = stored
	book.Version = stored.Version
	book.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *fakeBookRepo) UpdateLifecycle(_ context.Context, book *models.Book) error {
	return r.guarded(book, func(stored *models.Book) {
		stored.StateID = book.StateID
		stored.StateName = book.StateName
		stored.PDFPath = book.PDFPath
		stored.CategoryID = book.CategoryID
		stored.CategoryName = book.CategoryName
	})
}

func (r *fakeBookRepo) UpdateDetails(_ context.Context, book *models.Book) error {
	return r.guarded(book, func(stored *models.Book) {
		stored.Title = book.Title
		stored.Author = book.Author
		stored.RegisteredOn = book.RegisteredOn
		stored.PageCount = book.PageCount
		stored.ShelfLocation = book.ShelfLocation
		stored.ShelfSlot = book.ShelfSlot
		stored.ISBN = book.ISBN
	})
}

func (r *fakeBookRepo) SetActive(_ context.Context, book *models.Book) error {
	return r.guarded(book, func(stored *models.Book) { stored.Active = book.Active })
}

func (r *fakeBookRepo) Search(_ context.Context, filter models.BookFilter) iter.Seq2[models.Book, error] {
	return func(yield func(models.Book, error) bool) {
		r.searchCalls++
		ids := make([]int64, 0, len(r.store.books))
		for id := range r.store.books {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			book := r.store.books[id]
			if !filter.IncludeInactive && !book.Active {
				continue
			}
			if filter.Title != nil && !strings.Contains(strings.ToLower(book.Title), strings.ToLower(*filter.Title)) {
				continue
			}
			if filter.StateID != nil && book.StateID != *filter.StateID {
				continue
			}
			if !yield(book, nil) {
				return
			}
		}
	}
}

type fakeTaskRepo struct {
	store *memStore
}

func (r *fakeTaskRepo) Create(_ context.Context, task *models.Task) error {
	task.ID = r.store.id()
	task.CreatedAt = time.Now()
	r.store.tasks = append(r.store.tasks, *task)
	return nil
}

func (r *fakeTaskRepo) FindByID(_ context.Context, id int64) (*models.Task, error) {
	for _, task := range r.store.tasks {
		if task.ID == id {
			return &task, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeTaskRepo) List(_ context.Context, filter models.TaskFilter) ([]models.Task, error) {
	var out []models.Task
	for i := len(r.store.tasks) - 1; i >= 0; i-- {
		task := r.store.tasks[i]
		if filter.BookID != nil && task.BookID != *filter.BookID {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

type fakeAuditRepo struct {
	store   *memStore
	failErr error
}

func (r *fakeAuditRepo) Create(_ context.Context, entry *models.AuditEntry) error {
	if r.failErr != nil {
		return r.failErr
	}
	entry.ID = r.store.id()
	entry.RecordedAt = time.Now()
	r.store.audit = append(r.store.audit, *entry)
	return nil
}

func (r *fakeAuditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]models.HistoryEntry, error) {
	entries, _, err := r.Search(ctx, filter)
	return entries, err
}

func (r *fakeAuditRepo) Search(_ context.Context, filter repository.AuditFilter) ([]models.HistoryEntry, int, error) {
	var matched []models.HistoryEntry
	for i := len(r.store.audit) - 1; i >= 0; i-- {
		e := r.store.audit[i]
		switch {
		case filter.TargetTypeID != nil && e.TargetTypeID != *filter.TargetTypeID,
			filter.TargetID != nil && e.TargetID != *filter.TargetID,
			filter.UserID != nil && e.UserID != *filter.UserID,
			filter.ActionID != nil && e.ActionID != *filter.ActionID,
			filter.From != nil && e.RecordedAt.Before(*filter.From),
			filter.Before != nil && !e.RecordedAt.Before(*filter.Before):
			continue
		}
		matched = append(matched, historyEntry(e))
	}
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *fakeAuditRepo) FindByID(_ context.Context, id int64) (*models.HistoryEntry, error) {
	for _, e := range r.store.audit {
		if e.ID == id {
			entry := historyEntry(e)
			return &entry, nil
		}
	}
	return nil, sql.ErrNoRows
}

func historyEntry(e models.AuditEntry) models.HistoryEntry {
	return models.HistoryEntry{ID: e.ID, UserID: e.UserID, TargetID: e.TargetID, RecordedAt: e.RecordedAt}
}

type fakeCategoryRepo struct {
	store     *memStore
	listCalls int
}

func (r *fakeCategoryRepo) List(_ context.Context) ([]models.Category, error) {
	r.listCalls++
	out := make([]models.Category, 0, len(r.store.categories))
	for _, c := range r.store.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeCategoryRepo) FindByID(_ context.Context, id int64) (*models.Category, error) {
	c, ok := r.store.categories[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (r *fakeCategoryRepo) NameExists(_ context.Context, name string) (bool, error) {
	for _, c := range r.store.categories {
		if strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeCategoryRepo) Create(_ context.Context, category *models.Category) error {
	category.ID = r.store.id()
	r.store.categories[category.ID] = *category
	return nil
}

type fakeUserRepo struct {
	store *memStore
}

func (r *fakeUserRepo) List(_ context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range r.store.users {
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := r.store.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.store.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) EmailTaken(_ context.Context, email string, excludeID int64) (bool, error) {
	for _, u := range r.store.users {
		if u.ID != excludeID && strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	user.ID = r.store.id()
	r.store.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *models.User) error {
	if _, ok := r.store.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	r.store.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	u, ok := r.store.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	r.store.users[id] = u
	return nil
}

func (r *fakeUserRepo) SetActive(_ context.Context, id int64, active bool) error {
	u, ok := r.store.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Active = active
	r.store.users[id] = u
	return nil
}

// fakeAssets is an asset store backed by a set of names.
type fakeAssets struct {
	files map[string]bool
	dir   string
}

func (a *fakeAssets) Resolve(name string) string { return a.dir + "/" + name }

func (a *fakeAssets) Exists(_ context.Context, name string) (bool, error) {
	return a.files[name], nil
}

// fakeOpenableAssets additionally serves files from a real directory.
type fakeOpenableAssets struct {
	fakeAssets
}

func (a *fakeOpenableAssets) Open(name string) (*os.File, error) {
	return os.Open(a.Resolve(name))
}

type fakePresignAssets struct {
	fakeAssets
}

func (a *fakePresignAssets) PresignGet(_ context.Context, name string, ttl time.Duration) (string, error) {
	return "https://bucket.example/" + name + "?ttl=" + ttl.String(), nil
}

// fakeStorage records exported files in memory.
type fakeStorage struct {
	dir        string
	saved      map[string][]byte
	cleanupErr error
	cleanups   int
}

func (s *fakeStorage) Save(filename string, data []byte) (string, error) {
	if s.saved == nil {
		s.saved = map[string][]byte{}
	}
	s.saved[filename] = data
	if s.dir != "" {
		if err := os.WriteFile(s.dir+"/"+filename, data, 0o644); err != nil {
			return "", err
		}
	}
	return filename, nil
}

func (s *fakeStorage) Open(filename string) (*os.File, error) {
	if s.dir == "" {
		return nil, errors.New("not stored on disk")
	}
	return os.Open(s.dir + "/" + filename)
}

func (s *fakeStorage) CleanupOlderThan(time.Duration) ([]string, error) {
	s.cleanups++
	return nil, s.cleanupErr
}

func testRegistry(t *testing.T) *lifecycle.Registry {
	t.Helper()
	reg, err := lifecycle.NewRegistry([]models.LifecycleState{
		{ID: 1, Name: "Registered", DisplayOrder: 1},
		{ID: 2, Name: "UnderReview", DisplayOrder: 2},
		{ID: 3, Name: "UnderRestoration", DisplayOrder: 3},
		{ID: 4, Name: "Restored", DisplayOrder: 4},
		{ID: 5, Name: "UnderDigitization", DisplayOrder: 5},
		{ID: 6, Name: "Digitized", DisplayOrder: 6},
		{ID: 7, Name: "QualityApproved", DisplayOrder: 7},
		{ID: 8, Name: "Classified", DisplayOrder: 8},
	})
	require.NoError(t, err)
	return reg
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	actions := []models.LookupEntry{}
	for i, name := range []catalog.Action{
		catalog.ActionCreate, catalog.ActionUpdate, catalog.ActionDelete, catalog.ActionLogin,
		catalog.ActionLogout, catalog.ActionChangePassword, catalog.ActionAssignTask,
		catalog.ActionCompleteTask, catalog.ActionDigitize, catalog.ActionRestore,
		catalog.ActionClassify, catalog.ActionQualityReview,
	} {
		actions = append(actions, models.LookupEntry{ID: int64(i + 1), Name: string(name)})
	}
	targets := []models.LookupEntry{
		{ID: 1, Name: "user"}, {ID: 2, Name: "book"}, {ID: 3, Name: "task"},
		{ID: 4, Name: "category"}, {ID: 5, Name: "system"},
	}
	roles := []models.Role{
		{ID: 1, Name: models.RoleAdmin}, {ID: 2, Name: models.RoleLibrarian}, {ID: 3, Name: models.RoleDigitizer},
	}
	cat, err := catalog.New(actions, targets, roles)
	require.NoError(t, err)
	return cat
}

// fixture wires every service over one memStore.
type fixture struct {
	store      *memStore
	tx         *fakeTx
	books      *fakeBookRepo
	tasks      *fakeTaskRepo
	auditRepo  *fakeAuditRepo
	categories *fakeCategoryRepo
	users      *fakeUserRepo
	assets     *fakeAssets
	registry   *lifecycle.Registry
	catalog    *catalog.Catalog
	metrics    *MetricsService
	audit      *AuditWriter
	history    *HistoryService
	bookSvc    *BookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{
		store:      store,
		tx:         &fakeTx{store: store},
		books:      &fakeBookRepo{store: store},
		tasks:      &fakeTaskRepo{store: store},
		auditRepo:  &fakeAuditRepo{store: store},
		categories: &fakeCategoryRepo{store: store},
		users:      &fakeUserRepo{store: store},
		assets:     &fakeAssets{files: map[string]bool{}, dir: "/srv/books"},
		registry:   testRegistry(t),
		catalog:    testCatalog(t),
		metrics:    NewMetricsService(),
	}
	f.audit = NewAuditWriter(f.auditRepo, f.catalog, f.metrics)
	f.history = NewHistoryService(f.auditRepo, f.catalog)
	f.bookSvc = NewBookService(f.books, f.tasks, f.categories, f.audit, f.history, f.registry, f.tx, f.assets, nil, nil,
		BookServiceOptions{Metrics: f.metrics})
	return f
}

func (f *fixture) auditFor(target catalog.TargetType, id int64) []models.AuditEntry {
	typeID, _ := f.catalog.TargetTypeID(target)
	var out []models.AuditEntry
	for _, e := range f.store.audit {
		if e.TargetTypeID == typeID && e.TargetID == id {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) actionID(a catalog.Action) int64 {
	id, _ := f.catalog.ActionID(a)
	return id
}

func (f *fixture) addCategory(name string) int64 {
	id := f.store.id()
	f.store.categories[id] = models.Category{ID: id, Name: name}
	return id
}

func (f *fixture) addUser(t *testing.T, email, password, role string, active bool) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	r, ok := f.catalog.RoleByName(role)
	require.True(t, ok)
	u := models.User{ID: f.store.id(), Names: "Ana", Surnames: "Pérez", Email: email, PasswordHash: string(hash),
		RoleID: r.ID, RoleName: r.Name, Active: active}
	f.store.users[u.ID] = u
	return u
}
