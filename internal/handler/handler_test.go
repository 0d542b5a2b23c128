package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pandebugger-api/internal/middleware"
	"github.com/noah-isme/pandebugger-api/internal/models"
	"github.com/noah-isme/pandebugger-api/internal/service"
	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
	"github.com/noah-isme/pandebugger-api/pkg/response"
)

const librarianID int64 = 7

func newTestContext(t *testing.T, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func asLibrarian(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: librarianID, Role: models.RoleLibrarian})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type bookServiceMock struct {
	book          *models.Book
	task          *models.Task
	books         []models.Book
	err           error
	pdf           string
	gotActor      int64
	gotID         int64
	gotVersion    *int64
	gotDigitize   models.DigitizeRequest
	gotFilter     models.BookFilter
	gotToken      string
	deactivations int
}

func (m *bookServiceMock) RegisterBook(_ context.Context, actorID int64, req models.CreateBookRequest) (*models.Book, error) {
	m.gotActor = actorID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Book{ID: 1, Title: req.Title, StateName: "Registered", Version: 1}, nil
}

func (m *bookServiceMock) RecordPhysicalReview(_ context.Context, actorID, bookID int64, req models.PhysicalReviewRequest) (*models.Task, error) {
	m.gotActor, m.gotID, m.gotVersion = actorID, bookID, req.ExpectedVersion
	return m.task, m.err
}

func (m *bookServiceMock) RecordRestoration(_ context.Context, actorID, bookID int64, req models.RestorationRequest) (*models.Task, error) {
	m.gotActor, m.gotID, m.gotVersion = actorID, bookID, req.ExpectedVersion
	return m.task, m.err
}

func (m *bookServiceMock) DigitizeBook(_ context.Context, actorID, bookID int64, req models.DigitizeRequest) (*models.Book, error) {
	m.gotActor, m.gotID, m.gotVersion, m.gotDigitize = actorID, bookID, req.ExpectedVersion, req
	return m.book, m.err
}

func (m *bookServiceMock) ClassifyBook(_ context.Context, actorID, bookID int64, req models.ClassifyRequest) (*models.Book, error) {
	m.gotActor, m.gotID, m.gotVersion = actorID, bookID, req.ExpectedVersion
	return m.book, m.err
}

func (m *bookServiceMock) ApproveQuality(_ context.Context, actorID, bookID int64, expectedVersion *int64) (*models.Book, error) {
	m.gotActor, m.gotID, m.gotVersion = actorID, bookID, expectedVersion
	return m.book, m.err
}

func (m *bookServiceMock) UpdateBookDetails(_ context.Context, actorID, bookID int64, req models.UpdateBookRequest) (*models.Book, error) {
	m.gotActor, m.gotID, m.gotVersion = actorID, bookID, req.ExpectedVersion
	return m.book, m.err
}

func (m *bookServiceMock) DeactivateBook(_ context.Context, actorID, bookID int64, expectedVersion *int64) error {
	m.gotActor, m.gotID, m.gotVersion = actorID, bookID, expectedVersion
	m.deactivations++
	return m.err
}

func (m *bookServiceMock) GetBook(_ context.Context, bookID int64) (*models.Book, error) {
	m.gotID = bookID
	return m.book, m.err
}

func (m *bookServiceMock) ListStates() []models.LifecycleState {
	return []models.LifecycleState{{ID: 1, Name: "Registered"}}
}

func (m *bookServiceMock) SearchBooks(_ context.Context, filter models.BookFilter) (iter.Seq2[models.Book, error], error) {
	m.gotFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return func(yield func(models.Book, error) bool) {
		for _, b := range m.books {
			if !yield(b, nil) {
				return
			}
		}
	}, nil
}

func (m *bookServiceMock) History(_ context.Context, bookID int64) (*models.BookHistory, error) {
	return &models.BookHistory{Book: &models.Book{ID: bookID}, Tasks: []models.Task{}, Audit: []models.HistoryEntry{}}, m.err
}

func (m *bookServiceMock) DownloadLink(_ context.Context, bookID int64) (*models.DownloadLink, error) {
	return &models.DownloadLink{URL: "http://localhost/api/v1/books/1/pdf?token=x"}, m.err
}

func (m *bookServiceMock) OpenPDF(_ context.Context, _ int64, token string) (*os.File, error) {
	m.gotToken = token
	if m.err != nil {
		return nil, m.err
	}
	return os.Open(m.pdf)
}

func TestBookCreateRequiresAuthentication(t *testing.T) {
	svc := &bookServiceMock{}
	c, w := newTestContext(t, http.MethodPost, "/books", models.CreateBookRequest{Title: "Don Quijote"})

	NewBookHandler(svc).Create(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBookCreateReturnsETag(t *testing.T) {
	svc := &bookServiceMock{}
	c, w := newTestContext(t, http.MethodPost, "/books", models.CreateBookRequest{Title: "Don Quijote"})
	asLibrarian(c)

	NewBookHandler(svc).Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
	assert.Equal(t, librarianID, svc.gotActor)
}

func TestBookCreateRejectsMalformedBody(t *testing.T) {
	c, w := newTestContext(t, http.MethodPost, "/books", "{not json")
	asLibrarian(c)

	NewBookHandler(&bookServiceMock{}).Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, w).Error.Code)
}

func TestBookCreateRejectsNonNumericPageCount(t *testing.T) {
	svc := &bookServiceMock{}
	body := `{"title":"Don Quijote","author":"Cervantes","registered_on":"2024-03-01","page_count":"abc","shelf_location":"A","shelf_slot":"1"}`
	c, w := newTestContext(t, http.MethodPost, "/books", body)
	asLibrarian(c)

	NewBookHandler(svc).Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
	assert.Contains(t, env.Error.Message, "page_count must be of type int")
	assert.Zero(t, svc.gotActor)
}

func TestBookDigitizePassesIfMatchVersion(t *testing.T) {
	svc := &bookServiceMock{book: &models.Book{ID: 5, StateName: "Digitized", Version: 4}}
	c, w := newTestContext(t, http.MethodPost, "/books/5/digitize", models.DigitizeRequest{PDFFileName: "quijote.pdf"})
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	c.Request.Header.Set("If-Match", `"3"`)
	asLibrarian(c)

	NewBookHandler(svc).Digitize(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotVersion)
	assert.Equal(t, int64(3), *svc.gotVersion)
	assert.Equal(t, int64(5), svc.gotID)
	assert.Equal(t, "quijote.pdf", svc.gotDigitize.PDFFileName)
	assert.Equal(t, `"4"`, w.Header().Get("ETag"))
}

func TestBookMutationRejectsWeakIfMatch(t *testing.T) {
	svc := &bookServiceMock{}
	c, w := newTestContext(t, http.MethodPost, "/books/5/quality-approval", nil)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	c.Request.Header.Set("If-Match", `W/"3"`)
	asLibrarian(c)

	NewBookHandler(svc).ApproveQuality(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.gotID)
}

func TestBookMutationRejectsInvalidID(t *testing.T) {
	svc := &bookServiceMock{}
	c, w := newTestContext(t, http.MethodDelete, "/books/abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	asLibrarian(c)

	NewBookHandler(svc).Delete(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.deactivations)
}

func TestBookReviewMapsInvalidState(t *testing.T) {
	svc := &bookServiceMock{err: appErrors.Clone(appErrors.ErrInvalidState, "book is not Registered")}
	c, w := newTestContext(t, http.MethodPost, "/books/2/review", models.PhysicalReviewRequest{Condition: "good"})
	c.Params = gin.Params{{Key: "id", Value: "2"}}
	asLibrarian(c)

	NewBookHandler(svc).Review(c)

	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrInvalidState.Code, env.Error.Code)
	assert.Equal(t, "book is not Registered", env.Error.Message)
}

func TestBookDeleteReturnsNoContent(t *testing.T) {
	svc := &bookServiceMock{}
	c, w := newTestContext(t, http.MethodDelete, "/books/9", nil)
	c.Params = gin.Params{{Key: "id", Value: "9"}}
	asLibrarian(c)

	NewBookHandler(svc).Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, svc.deactivations)
	assert.Nil(t, svc.gotVersion)
}

func TestBookListParsesFilters(t *testing.T) {
	svc := &bookServiceMock{books: []models.Book{{ID: 1}, {ID: 2}}}
	c, w := newTestContext(t, http.MethodGet, "/books?title=quijote&state_id=3&include_inactive=true&sort_by=title", nil)
	asLibrarian(c)

	NewBookHandler(svc).List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gotFilter.Title)
	assert.Equal(t, "quijote", *svc.gotFilter.Title)
	require.NotNil(t, svc.gotFilter.StateID)
	assert.Equal(t, int64(3), *svc.gotFilter.StateID)
	assert.True(t, svc.gotFilter.IncludeInactive)
	assert.Nil(t, svc.gotFilter.CategoryID)
	env := decodeEnvelope(t, w)
	assert.Len(t, env.Data, 2)
	assert.EqualValues(t, 2, env.Meta["count"])
}

func TestBookListRejectsNonNumericCategory(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/books?category_id=novela", nil)

	NewBookHandler(&bookServiceMock{}).List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookPDFStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quijote.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	svc := &bookServiceMock{pdf: path}
	c, w := newTestContext(t, http.MethodGet, "/books/1/pdf?token=signed", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	NewBookHandler(svc).PDF(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed", svc.gotToken)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "quijote.pdf")
	assert.Equal(t, "%PDF-1.4", w.Body.String())
}

func TestBookPDFRequiresToken(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/books/1/pdf", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	NewBookHandler(&bookServiceMock{}).PDF(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookPDFForbiddenToken(t *testing.T) {
	svc := &bookServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")}
	c, w := newTestContext(t, http.MethodGet, "/books/1/pdf?token=forged", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	NewBookHandler(svc).PDF(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

type userServiceMock struct {
	filter      models.UserFilter
	actor, id   int64
	deactivated bool
	activated   bool
	err         error
}

func (m *userServiceMock) List(_ context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	m.filter = filter
	return []models.User{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, m.err
}

func (m *userServiceMock) Get(_ context.Context, id int64) (*models.User, error) {
	m.id = id
	return &models.User{ID: id}, m.err
}

func (m *userServiceMock) ListRoles() []models.Role {
	return []models.Role{{ID: 1, Name: models.RoleAdmin}}
}

func (m *userServiceMock) Create(_ context.Context, actorID int64, req models.CreateUserRequest) (*models.User, error) {
	m.actor = actorID
	return &models.User{ID: 11, Email: req.Email}, m.err
}

func (m *userServiceMock) Update(_ context.Context, actorID, id int64, req models.UpdateUserRequest) (*models.User, error) {
	m.actor, m.id = actorID, id
	return &models.User{ID: id, Email: req.Email}, m.err
}

func (m *userServiceMock) Deactivate(_ context.Context, actorID, id int64) error {
	m.actor, m.id, m.deactivated = actorID, id, true
	return m.err
}

func (m *userServiceMock) Activate(_ context.Context, actorID, id int64) error {
	m.actor, m.id, m.activated = actorID, id, true
	return m.err
}

func TestUserListParsesFilters(t *testing.T) {
	svc := &userServiceMock{}
	c, w := newTestContext(t, http.MethodGet, "/users?page=2&page_size=5&role_id=3&active=false&email=ana", nil)

	NewUserHandler(svc).List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, svc.filter.Page)
	assert.Equal(t, 5, svc.filter.PageSize)
	require.NotNil(t, svc.filter.RoleID)
	assert.Equal(t, int64(3), *svc.filter.RoleID)
	require.NotNil(t, svc.filter.Active)
	assert.False(t, *svc.filter.Active)
	require.NotNil(t, svc.filter.Email)
	assert.Equal(t, "ana", *svc.filter.Email)
	assert.Equal(t, 2, decodeEnvelope(t, w).Pagination.Page)
}

func TestUserListRejectsInvalidActive(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/users?active=maybe", nil)

	NewUserHandler(&userServiceMock{}).List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserDeactivatePassesActor(t *testing.T) {
	svc := &userServiceMock{}
	c, w := newTestContext(t, http.MethodPost, "/users/12/deactivate", nil)
	c.Params = gin.Params{{Key: "id", Value: "12"}}
	asLibrarian(c)

	NewUserHandler(svc).Deactivate(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, svc.deactivated)
	assert.False(t, svc.activated)
	assert.Equal(t, librarianID, svc.actor)
	assert.Equal(t, int64(12), svc.id)
}

func TestUserDeactivateSelfIsRejected(t *testing.T) {
	svc := &userServiceMock{err: appErrors.Clone(appErrors.ErrValidation, "you cannot deactivate your own account")}
	c, w := newTestContext(t, http.MethodPost, "/users/7/deactivate", nil)
	c.Params = gin.Params{{Key: "id", Value: "7"}}
	asLibrarian(c)

	NewUserHandler(svc).Deactivate(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type authServiceMock struct {
	userID int64
	req    models.ChangePasswordRequest
	err    error
}

func (m *authServiceMock) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.LoginResponse{AccessToken: "token", TokenType: "Bearer", User: models.UserInfo{Email: req.Email}}, nil
}

func (m *authServiceMock) ChangePassword(_ context.Context, userID int64, req models.ChangePasswordRequest) error {
	m.userID, m.req = userID, req
	return m.err
}

func (m *authServiceMock) Me(_ context.Context, userID int64) (*models.UserInfo, error) {
	m.userID = userID
	return &models.UserInfo{ID: userID}, m.err
}

func TestLoginFailureIsGeneric(t *testing.T) {
	svc := &authServiceMock{err: appErrors.Clone(appErrors.ErrAuthFailure, "")}
	c, w := newTestContext(t, http.MethodPost, "/auth/login", models.LoginRequest{Email: "ana@library.org", Password: "nope"})

	NewAuthHandler(svc).Login(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", decodeEnvelope(t, w).Error.Message)
}

func TestLoginSuccess(t *testing.T) {
	c, w := newTestContext(t, http.MethodPost, "/auth/login", models.LoginRequest{Email: "ana@library.org", Password: "Abcdef1!"})

	NewAuthHandler(&authServiceMock{}).Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access_token":"token"`)
}

func TestChangePasswordUsesTokenSubject(t *testing.T) {
	svc := &authServiceMock{}
	c, w := newTestContext(t, http.MethodPost, "/auth/change-password", models.ChangePasswordRequest{
		CurrentPassword: "Abcdef1!", NewPassword: "Zyxwvu2?", ConfirmPassword: "Zyxwvu2?",
	})
	asLibrarian(c)

	NewAuthHandler(svc).ChangePassword(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, librarianID, svc.userID)
	assert.Equal(t, "Zyxwvu2?", svc.req.NewPassword)
}

func TestMeRequiresClaims(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/auth/me", nil)

	NewAuthHandler(&authServiceMock{}).Me(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type categoryServiceMock struct {
	hit bool
}

func (m *categoryServiceMock) List(context.Context) ([]models.Category, bool, error) {
	return []models.Category{{ID: 1, Name: "Novela"}}, m.hit, nil
}

func (m *categoryServiceMock) Get(_ context.Context, id int64) (*models.Category, error) {
	return nil, appErrors.Clonef(appErrors.ErrNotFound, "category %d not found", id)
}

func (m *categoryServiceMock) Create(_ context.Context, _ int64, req models.CreateCategoryRequest) (*models.Category, error) {
	return &models.Category{ID: 2, Name: req.Name}, nil
}

func TestCategoryListReportsCacheHit(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/categories", nil)
	middleware.WithResponseMeta()(c)

	NewCategoryHandler(&categoryServiceMock{hit: true}).List(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, env.Meta, "processing_time_ms")
}

func TestCategoryGetNotFound(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/categories/99", nil)
	c.Params = gin.Params{{Key: "id", Value: "99"}}

	NewCategoryHandler(&categoryServiceMock{}).Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

type taskServiceMock struct {
	filter models.TaskFilter
}

func (m *taskServiceMock) List(_ context.Context, filter models.TaskFilter) ([]models.Task, error) {
	m.filter = filter
	return []models.Task{}, nil
}

func (m *taskServiceMock) Get(_ context.Context, id int64) (*models.Task, error) {
	if id != 31 {
		return nil, appErrors.Clonef(appErrors.ErrNotFound, "task %d not found", id)
	}
	return &models.Task{ID: 31, BookID: 7, ResultingStateName: "UnderDigitization"}, nil
}

func TestTaskListParsesDates(t *testing.T) {
	svc := &taskServiceMock{}
	c, w := newTestContext(t, http.MethodGet, "/tasks?book_id=4&from=2024-01-01&to=2024-02-01&limit=10", nil)

	NewTaskHandler(svc).List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.filter.BookID)
	assert.Equal(t, int64(4), *svc.filter.BookID)
	require.NotNil(t, svc.filter.From)
	assert.Equal(t, "2024-01-01", svc.filter.From.Format("2006-01-02"))
	assert.Equal(t, 10, svc.filter.Limit)
}

func TestTaskGet(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/tasks/31", nil)
	c.Params = gin.Params{{Key: "id", Value: "31"}}
	NewTaskHandler(&taskServiceMock{}).Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"resulting_state_name":"UnderDigitization"`)

	c, w = newTestContext(t, http.MethodGet, "/tasks/0", nil)
	c.Params = gin.Params{{Key: "id", Value: "0"}}
	NewTaskHandler(&taskServiceMock{}).Get(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(t, http.MethodGet, "/tasks/32", nil)
	c.Params = gin.Params{{Key: "id", Value: "32"}}
	NewTaskHandler(&taskServiceMock{}).Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskListRejectsBadDate(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/tasks?from=01/02/2024", nil)

	NewTaskHandler(&taskServiceMock{}).List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type historyServiceMock struct {
	targetType string
	targetID   int64
	limit      int
	filter     *models.HistoryFilter
}

func (m *historyServiceMock) ByTarget(_ context.Context, targetType string, targetID int64, limit int) ([]models.HistoryEntry, error) {
	m.targetType, m.targetID, m.limit = targetType, targetID, limit
	return []models.HistoryEntry{{Action: "create", TargetType: targetType, TargetID: targetID}}, nil
}

func (m *historyServiceMock) ByUser(_ context.Context, userID int64, limit int) ([]models.HistoryEntry, error) {
	m.targetID, m.limit = userID, limit
	return []models.HistoryEntry{}, nil
}

func (m *historyServiceMock) Recent(_ context.Context, limit int) ([]models.HistoryEntry, error) {
	m.limit = limit
	return []models.HistoryEntry{}, nil
}

func (m *historyServiceMock) Search(_ context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, *models.Pagination, error) {
	m.filter = &filter
	return []models.HistoryEntry{{ID: 61, Action: "login"}}, &models.Pagination{Page: 3, PageSize: 20, TotalCount: 41}, nil
}

func (m *historyServiceMock) Get(_ context.Context, id int64) (*models.HistoryEntry, error) {
	if id != 90 {
		return nil, appErrors.Clonef(appErrors.ErrNotFound, "history entry %d not found", id)
	}
	return &models.HistoryEntry{ID: 90, Action: "create", TargetType: "book", TargetID: 7}, nil
}

func (m *historyServiceMock) Actions() []models.LookupEntry {
	return []models.LookupEntry{{ID: 1, Name: "create"}, {ID: 2, Name: "update"}}
}

func (m *historyServiceMock) TargetTypes() []models.LookupEntry {
	return []models.LookupEntry{{ID: 2, Name: "book"}}
}

func TestHistoryByTarget(t *testing.T) {
	svc := &historyServiceMock{}
	c, w := newTestContext(t, http.MethodGet, "/history/book/3?limit=5", nil)
	c.Params = gin.Params{{Key: "targetType", Value: "book"}, {Key: "id", Value: "3"}}

	NewHistoryHandler(svc).ByTarget(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "book", svc.targetType)
	assert.Equal(t, int64(3), svc.targetID)
	assert.Equal(t, 5, svc.limit)
}

func TestHistorySearchParsesFilters(t *testing.T) {
	svc := &historyServiceMock{}
	c, w := newTestContext(t, http.MethodGet,
		"/history?user_id=2&action_id=4&target_type_id=2&target_id=7&from=2024-05-01&to=2024-05-07&limit=20&offset=40", nil)

	NewHistoryHandler(svc).Search(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.filter)
	f := svc.filter
	require.NotNil(t, f.UserID)
	require.NotNil(t, f.ActionID)
	require.NotNil(t, f.TargetTypeID)
	require.NotNil(t, f.TargetID)
	assert.Equal(t, []int64{2, 4, 2, 7}, []int64{*f.UserID, *f.ActionID, *f.TargetTypeID, *f.TargetID})
	require.NotNil(t, f.To)
	assert.Equal(t, "2024-05-07", f.To.Format("2006-01-02"))
	assert.Equal(t, 20, f.PageSize)
	require.NotNil(t, f.Offset)
	assert.Equal(t, 40, *f.Offset)

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, models.Pagination{Page: 3, PageSize: 20, TotalCount: 41}, *env.Pagination)
}

func TestHistorySearchPrefersPageSizeOverLimit(t *testing.T) {
	svc := &historyServiceMock{}
	c, w := newTestContext(t, http.MethodGet, "/history?page=2&page_size=10&limit=99", nil)

	NewHistoryHandler(svc).Search(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, svc.filter.Page)
	assert.Equal(t, 10, svc.filter.PageSize)
	assert.Nil(t, svc.filter.Offset)
}

func TestHistorySearchRejectsBadQuery(t *testing.T) {
	for _, target := range []string{"/history?user_id=ana", "/history?from=2024-13-01", "/history?offset=x"} {
		svc := &historyServiceMock{}
		c, w := newTestContext(t, http.MethodGet, target, nil)

		NewHistoryHandler(svc).Search(c)

		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, w).Error.Code, target)
		assert.Nil(t, svc.filter, target)
	}
}

func TestHistoryGetEntry(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/history/entries/90", nil)
	c.Params = gin.Params{{Key: "id", Value: "90"}}
	NewHistoryHandler(&historyServiceMock{}).Get(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext(t, http.MethodGet, "/history/entries/91", nil)
	c.Params = gin.Params{{Key: "id", Value: "91"}}
	NewHistoryHandler(&historyServiceMock{}).Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, decodeEnvelope(t, w).Error.Code)
}

func TestHistoryLookups(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/actions", nil)
	NewHistoryHandler(&historyServiceMock{}).Actions(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"update"`)

	c, w = newTestContext(t, http.MethodGet, "/target-types", nil)
	NewHistoryHandler(&historyServiceMock{}).TargetTypes(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"book"`)
}

func TestHistoryRecentRejectsBadLimit(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/history/recent?limit=lots", nil)

	NewHistoryHandler(&historyServiceMock{}).Recent(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type exportServiceMock struct {
	path   string
	format string
	err    error
}

func (m *exportServiceMock) ExportBooks(_ context.Context, _ models.BookFilter, format string) (*models.ExportResult, error) {
	m.format = format
	return &models.ExportResult{FileName: "books.csv", Format: "csv"}, m.err
}

func (m *exportServiceMock) Resolve(string) (*os.File, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	f, err := os.Open(m.path)
	return f, filepath.Base(m.path), err
}

func (m *exportServiceMock) ContentType(string) string {
	return "text/csv"
}

func TestExportCreatePassesFormat(t *testing.T) {
	svc := &exportServiceMock{}
	c, w := newTestContext(t, http.MethodPost, "/books/export?format=pdf", nil)

	NewExportHandler(svc).Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pdf", svc.format)
}

func TestExportDownloadServesAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books-1.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,title\n1,Don Quijote\n"), 0o600))
	c, w := newTestContext(t, http.MethodGet, "/exports/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}

	NewExportHandler(&exportServiceMock{path: path}).Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "Don Quijote")
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestReadyReflectsDatabase(t *testing.T) {
	c, w := newTestContext(t, http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, pinger{err: errors.New("connection refused")}).Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = newTestContext(t, http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, pinger{}).Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsSummary(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordTransition("Registered", "Digitizing")
	c, w := newTestContext(t, http.MethodGet, "/metrics/summary", nil)

	NewMetricsHandler(metrics, nil).Summary(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state_transitions":1`)
}

func TestExpectedVersionParsing(t *testing.T) {
	cases := map[string]struct {
		header  string
		want    *int64
		wantErr bool
	}{
		"absent":       {header: ""},
		"quoted":       {header: `"7"`, want: ptr(int64(7))},
		"bare":         {header: "7", want: ptr(int64(7))},
		"weak":         {header: `W/"7"`, wantErr: true},
		"garbage":      {header: `"abc"`, wantErr: true},
		"non-positive": {header: "0", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestContext(t, http.MethodPost, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("If-Match", tc.header)
			}
			got, err := expectedVersion(c)
			if tc.wantErr {
				assert.True(t, appErrors.IsKind(err, appErrors.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func ptr[T any](v T) *T { return &v }
