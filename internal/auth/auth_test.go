package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay-os/backend/internal/config"
	"relay-os/backend/internal/repository"
	"relay-os/backend/pkg/models"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

// MockUserStore satisfies repository.UserRepository
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) List(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func fakeIDToken(t *testing.T, issuer, clientID, email string) string {
	t.Helper()

	claims := map[string]interface{}{
		"iss":   issuer,
		"aud":   clientID,
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": email,
		"name":  "Test User",
	}
	headerData := map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
		"kid": "test-key",
	}
	headerBytes, _ := json.Marshal(headerData)
	payload, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func TestRequireAuth_BearerToken_ResolvesUser(t *testing.T) {
	mockUsers := new(MockUserStore)
	expectedUser := &models.User{
		ID:    "user-123",
		Email: "approver@acme.com",
		Name:  "Approver",
		Role:  models.RoleFinanceApprover,
	}
	mockUsers.On("GetByEmail", mock.Anything, "approver@acme.com").Return(expectedUser, nil)

	issuer := "https://test-issuer.com"
	clientID := "test-client"
	fakeToken := fakeIDToken(t, issuer, clientID, "approver@acme.com")

	verifier := oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true, // Matches logic in auth.go for apiVerifier
	})

	a := &Auth{
		apiVerifier: verifier, // We are testing Bearer token flow
		users:       mockUsers,
	}

	req := httptest.NewRequest("GET", "/api/v1/requests", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value("user").(*models.User)
		assert.True(t, ok, "user should be in context")
		assert.Equal(t, "user-123", user.ID)
		assert.Equal(t, models.RoleFinanceApprover, user.Role)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	mockUsers.AssertExpectations(t)
}

func TestRequireAuth_BypassMode(t *testing.T) {
	mockUsers := new(MockUserStore)
	mockUsers.On("GetByEmail", mock.Anything, "dev@localhost").Return(nil, repository.ErrNotFound)
	mockUsers.On("Create", mock.Anything, mock.MatchedBy(func(user *models.User) bool {
		return user.Email == "dev@localhost" && user.Role == models.RoleAdmin
	})).Return(nil)

	cfg := &config.Config{
		Environment:   "DEV",
		DevModeBypass: true,
	}
	a, err := New(context.Background(), cfg, mockUsers, &NoOpLogger{})
	assert.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/requests", nil)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value("user").(*models.User)
		assert.True(t, ok)
		assert.Equal(t, "dev@localhost", user.Email)
		assert.True(t, user.IsAdmin())
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockUsers.AssertExpectations(t)
}

func TestRequireAuth_AutoProvisionUser(t *testing.T) {
	mockUsers := new(MockUserStore)
	mockUsers.On("GetByEmail", mock.Anything, "founder@startup.io").Return(nil, repository.ErrNotFound)
	mockUsers.On("Create", mock.Anything, mock.MatchedBy(func(user *models.User) bool {
		return user.Email == "founder@startup.io" && user.Role == models.RoleUser && user.ID != ""
	})).Return(nil)

	issuer := "https://test-issuer.com"
	clientID := "test-client"
	fakeToken := fakeIDToken(t, issuer, clientID, "founder@startup.io")

	verifier := oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true,
	})

	a := &Auth{apiVerifier: verifier, users: mockUsers}
	req := httptest.NewRequest("GET", "/api/v1/requests", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value("user").(*models.User)
		assert.True(t, ok)
		assert.Equal(t, models.RoleUser, user.Role)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	mockUsers.AssertExpectations(t)
}

func TestRequireAuth_MissingToken_Redirects(t *testing.T) {
	a := &Auth{users: new(MockUserStore)}

	req := httptest.NewRequest("GET", "/api/v1/requests", nil)
	rec := httptest.NewRecorder()

	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be reached")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
