package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/logging"
	"cirsqu_api/internal/models"
	"cirsqu_api/internal/services"
)

type fakeVerifier struct {
	idTokens map[string]*auth.Token
	cookies  map[string]*auth.Token
}

func (f *fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if t, ok := f.idTokens[idToken]; ok {
		return t, nil
	}
	return nil, errors.New("invalid id token")
}

func (f *fakeVerifier) VerifySessionCookie(ctx context.Context, cookie string) (*auth.Token, error) {
	if t, ok := f.cookies[cookie]; ok {
		return t, nil
	}
	return nil, errors.New("invalid session cookie")
}

type fakeResolver struct {
	users       map[string]*models.User
	provisioned int
}

func (f *fakeResolver) ResolveUID(ctx context.Context, uid string) (*models.User, error) {
	if u, ok := f.users[uid]; ok {
		return u, nil
	}
	return nil, services.ErrUserNotFound
}

func (f *fakeResolver) Provision(ctx context.Context, uid, email, name string) (*models.User, error) {
	f.provisioned++
	u := &models.User{ID: uint(100 + f.provisioned), FirebaseUID: uid, Email: email, Name: name, UserType: models.UserTypeMember}
	f.users[uid] = u
	return u, nil
}

func newAuthEcho(v TokenVerifier, r UserResolver) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = JSONErrorHandler(logging.Discard())
	g := e.Group("", RequireAuth(v, r))
	g.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"id":    c.Get("userID"),
			"email": c.Get("userEmail"),
		})
	})
	admin := g.Group("/admin", RequireAdmin())
	admin.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	return e
}

func fixtures() (*fakeVerifier, *fakeResolver) {
	v := &fakeVerifier{
		idTokens: map[string]*auth.Token{
			"member-token": {UID: "uid-member", Claims: map[string]interface{}{"email": "member@example.com"}},
			"admin-token":  {UID: "uid-admin", Claims: map[string]interface{}{"email": "admin@example.com"}},
			"new-token":    {UID: "uid-new", Claims: map[string]interface{}{"email": "new@example.com", "name": "New"}},
		},
		cookies: map[string]*auth.Token{
			"good-cookie": {UID: "uid-member", Claims: map[string]interface{}{"email": "member@example.com"}},
		},
	}
	r := &fakeResolver{users: map[string]*models.User{
		"uid-member": {ID: 1, FirebaseUID: "uid-member", UserType: models.UserTypeMember},
		"uid-admin":  {ID: 2, FirebaseUID: "uid-admin", UserType: models.UserTypeAdmin},
	}}
	return v, r
}

func TestRequireAuth(t *testing.T) {
	v, r := fixtures()
	e := newAuthEcho(v, r)

	tests := []struct {
		name       string
		path       string
		bearer     string
		cookie     string
		wantStatus int
		wantID     float64
	}{
		{name: "bearer token", path: "/me", bearer: "member-token", wantStatus: http.StatusOK, wantID: 1},
		{name: "session cookie", path: "/me", cookie: "good-cookie", wantStatus: http.StatusOK, wantID: 1},
		{name: "no credentials", path: "/me", wantStatus: http.StatusUnauthorized},
		{name: "bad token", path: "/me", bearer: "forged", wantStatus: http.StatusUnauthorized},
		{name: "bad cookie", path: "/me", cookie: "stale", wantStatus: http.StatusUnauthorized},
		{name: "first login provisions", path: "/me", bearer: "new-token", wantStatus: http.StatusOK, wantID: 101},
		{name: "member on admin route", path: "/admin/ping", bearer: "member-token", wantStatus: http.StatusForbidden},
		{name: "admin on admin route", path: "/admin/ping", bearer: "admin-token", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+tt.bearer)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantID != 0 {
				var body map[string]interface{}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["id"] != tt.wantID {
					t.Errorf("id = %v; want %v", body["id"], tt.wantID)
				}
			}
		})
	}

	if r.provisioned != 1 {
		t.Errorf("provisioned %d users; want 1", r.provisioned)
	}
}

func TestRequireAuthWithoutFirebase(t *testing.T) {
	_, r := fixtures()
	e := newAuthEcho(nil, r)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want 503", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{services.ErrInvalidPaymentType, http.StatusBadRequest, "validation_error"},
		{services.ErrOrderNotFound, http.StatusNotFound, "not_found"},
		{services.ErrPendingOrderExists, http.StatusConflict, "conflict"},
		{fmt.Errorf("wrapped: %w", services.ErrIntegrity), http.StatusConflict, "integrity_error"},
		{&services.GatewayError{Op: "charge", StatusCode: 500}, http.StatusBadGateway, "gateway_error"},
		{&services.GatewayError{Op: "charge", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "gateway_timeout"},
		{fmt.Errorf("%w: connection reset", services.ErrTransientStore), http.StatusServiceUnavailable, "unavailable"},
		{echo.NewHTTPError(http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests, "rate_limited"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			code, kind, msg := StatusFor(tt.err)
			if code != tt.wantCode || kind != tt.wantKind {
				t.Errorf("StatusFor(%v) = %d %s; want %d %s", tt.err, code, kind, tt.wantCode, tt.wantKind)
			}
			if msg == "" {
				t.Errorf("empty message")
			}
		})
	}
}

func TestJSONErrorHandlerHidesInternalErrors(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = JSONErrorHandler(logging.Discard())
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("pq: password authentication failed for user admin")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || body.Error != "internal server error" {
		t.Errorf("got %d %+v", rec.Code, body)
	}
}

func TestPerUserRateLimit(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = JSONErrorHandler(logging.Discard())
	setUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-User") == "2" {
				c.Set("userID", uint(2))
			} else {
				c.Set("userID", uint(1))
			}
			return next(c)
		}
	}
	e.POST("/checkout", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, setUser, PerUserRateLimit(0.001, 2))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("1"); code != http.StatusCreated {
			t.Fatalf("request %d status = %d; want 201", i, code)
		}
	}
	if code := send("1"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d; want 429", code)
	}
	if code := send("2"); code != http.StatusCreated {
		t.Errorf("other user status = %d; want 201", code)
	}
}
