package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/logging"
	"cirsqu_api/internal/middleware"
	"cirsqu_api/internal/models"
	"cirsqu_api/internal/queue"
	"cirsqu_api/internal/services"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.JSONErrorHandler(logging.Discard())
	return e
}

// asUser stands in for RequireAuth
func asUser(id uint) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("userID", id)
			return next(c)
		}
	}
}

func do(e *echo.Echo, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type fakeEnqueuer struct {
	payloads [][]byte
	err      error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, payload []byte) (*queue.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &queue.Job{ID: fmt.Sprintf("job-%d", len(f.payloads)), Payload: payload}, nil
}

type fakeApplier struct {
	result *services.ApplyResult
	err    error
	got    []byte
}

func (f *fakeApplier) Apply(ctx context.Context, payload []byte) (*services.ApplyResult, error) {
	f.got = payload
	return f.result, f.err
}

type fakeVerifier bool

func (f fakeVerifier) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return bool(f)
}

const settlementBody = `{"order_id":"ord-1","transaction_status":"settlement","status_code":"200","gross_amount":"100000.00","signature_key":"abc"}`

func TestNotificationIngress(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		enqueueErr error
		verifier   SignatureVerifier
		wantStatus int
		wantQueued int
	}{
		{name: "queued", body: settlementBody, wantStatus: http.StatusOK, wantQueued: 1},
		{name: "queue down", body: settlementBody, enqueueErr: errors.New("dial tcp: connection refused"), wantStatus: http.StatusServiceUnavailable},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest},
		{name: "too large", body: strings.Repeat("x", 129), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "signature ok", body: settlementBody, verifier: fakeVerifier(true), wantStatus: http.StatusOK, wantQueued: 1},
		{name: "signature mismatch", body: settlementBody, verifier: fakeVerifier(false), wantStatus: http.StatusForbidden},
		{name: "unparseable with verification", body: "not json", verifier: fakeVerifier(true), wantStatus: http.StatusBadRequest},
		{name: "unparseable without verification", body: "not json", wantStatus: http.StatusOK, wantQueued: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeEnqueuer{err: tt.enqueueErr}
			h := NewNotificationHandler(NotificationHandlerConfig{
				Queue:     q,
				Verifier:  tt.verifier,
				BodyLimit: 128,
				Log:       logging.Discard(),
			})
			e := newTestEcho()
			e.POST("/orders/notification", h.Ingress)

			rec := do(e, http.MethodPost, "/orders/notification", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(q.payloads) != tt.wantQueued {
				t.Fatalf("queued %d; want %d", len(q.payloads), tt.wantQueued)
			}
			if tt.wantQueued == 1 && string(q.payloads[0]) != tt.body {
				t.Errorf("queued payload = %q; want verbatim %q", q.payloads[0], tt.body)
			}
			if tt.enqueueErr != nil && strings.Contains(rec.Body.String(), "connection refused") {
				t.Errorf("internal error leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestNotificationHandling(t *testing.T) {
	applied := &services.ApplyResult{
		Order:      &models.Order{ID: 1, GatewayOrderID: "ord-1", Status: models.OrderStatusSettlement, Processed: true},
		Transition: models.TransitionSettlementApply,
	}

	tests := []struct {
		name       string
		token      string
		result     *services.ApplyResult
		err        error
		wantStatus int
	}{
		{name: "applied", token: "s3cret", result: applied, wantStatus: http.StatusOK},
		{name: "missing token", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", token: "guess", wantStatus: http.StatusUnauthorized},
		{name: "unknown order", token: "s3cret", err: services.ErrOrderNotFound, wantStatus: http.StatusNotFound},
		{name: "malformed", token: "s3cret", err: services.ErrMalformedNotification, wantStatus: http.StatusBadRequest},
		{name: "integrity", token: "s3cret", err: fmt.Errorf("%w: deny on processed cancel order", services.ErrIntegrity), wantStatus: http.StatusConflict},
		{name: "store down", token: "s3cret", err: fmt.Errorf("%w: timeout", services.ErrTransientStore), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeApplier{result: tt.result, err: tt.err}
			h := NewNotificationHandler(NotificationHandlerConfig{
				Applier:    a,
				RelayToken: "s3cret",
				Log:        logging.Discard(),
			})
			e := newTestEcho()
			e.POST("/orders/notification/handling", h.Handling)

			header := map[string]string{}
			if tt.token != "" {
				header[RelayTokenHeader] = tt.token
			}
			rec := do(e, http.MethodPost, "/orders/notification/handling", settlementBody, header)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized && a.got != nil {
				t.Errorf("applier ran without a valid token")
			}
		})
	}
}

type fakeOrders struct {
	checkout services.CheckoutInput
	err      error
	orders   map[uint]*models.Order
}

func (f *fakeOrders) Checkout(ctx context.Context, in services.CheckoutInput) (*models.Order, error) {
	f.checkout = in
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: 9, GatewayOrderID: "ord-9", UserID: in.UserID, PriceID: in.PriceID, PaymentType: in.PaymentType, Status: models.OrderStatusPending}, nil
}

func (f *fakeOrders) GetForUser(ctx context.Context, id, userID uint) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok || o.UserID != userID {
		return nil, services.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) ListForUser(ctx context.Context, userID uint) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) Cancel(ctx context.Context, id, userID uint) (*models.Order, error) {
	o, err := f.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !o.IsPending() {
		return nil, services.ErrOrderNotPending
	}
	return o, nil
}

func TestOrderCheckout(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantInput  *services.CheckoutInput
	}{
		{
			name:       "created",
			path:       "/orders/checkout/2/bca",
			wantStatus: http.StatusCreated,
			wantInput:  &services.CheckoutInput{UserID: 7, PriceID: 2, PaymentType: models.PaymentTypeBCA},
		},
		{name: "bad price id", path: "/orders/checkout/abc/bca", wantStatus: http.StatusBadRequest},
		{name: "pending exists", path: "/orders/checkout/2/bca", err: services.ErrPendingOrderExists, wantStatus: http.StatusConflict},
		{name: "bad payment type", path: "/orders/checkout/2/gopay", err: services.ErrInvalidPaymentType, wantStatus: http.StatusBadRequest},
		{name: "gateway down", path: "/orders/checkout/2/bni", err: &services.GatewayError{Op: "charge", StatusCode: 500, Message: "internal"}, wantStatus: http.StatusBadGateway},
		{name: "gateway timeout", path: "/orders/checkout/2/bni", err: &services.GatewayError{Op: "charge", Err: context.DeadlineExceeded}, wantStatus: http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{err: tt.err}
			h := NewOrderHandler(orders)
			e := newTestEcho()
			e.POST("/orders/checkout/:priceId/:paymentType", h.Checkout, asUser(7))

			rec := do(e, http.MethodPost, tt.path, "", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantInput != nil {
				if diff := cmp.Diff(*tt.wantInput, orders.checkout); diff != "" {
					t.Errorf("checkout input mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestOrderOwnership(t *testing.T) {
	orders := &fakeOrders{orders: map[uint]*models.Order{
		1: {ID: 1, UserID: 7, Status: models.OrderStatusPending},
		2: {ID: 2, UserID: 8, Status: models.OrderStatusPending},
		3: {ID: 3, UserID: 7, Status: models.OrderStatusSettlement, Processed: true},
	}}
	h := NewOrderHandler(orders)
	e := newTestEcho()
	g := e.Group("/orders", asUser(7))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id/cancel", h.Cancel)

	if rec := do(e, http.MethodGet, "/orders/1", "", nil); rec.Code != http.StatusOK {
		t.Errorf("own order status = %d; want 200", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/orders/2", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign order status = %d; want 404", rec.Code)
	}
	if rec := do(e, http.MethodPut, "/orders/3/cancel", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("cancel settled order status = %d; want 409", rec.Code)
	}

	rec := do(e, http.MethodGet, "/orders", "", nil)
	var list []models.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("listed %d orders; want 2", len(list))
	}
}

type fakeCatalog struct {
	prices []models.Price
}

func (f *fakeCatalog) List(ctx context.Context) ([]models.Price, error) {
	return f.prices, nil
}

func (f *fakeCatalog) GetBySlug(ctx context.Context, slug string) (*models.Price, error) {
	for i := range f.prices {
		if f.prices[i].Slug == slug {
			return &f.prices[i], nil
		}
	}
	return nil, services.ErrPriceNotFound
}

func (f *fakeCatalog) Update(ctx context.Context, id uint, in services.PriceInput) (*models.Price, error) {
	if in.Price < 1000 {
		return nil, fmt.Errorf("%w: price must be 1,000 or greater", services.ErrValidation)
	}
	if in.Slug == "per-tahun" && id != 3 {
		return nil, services.ErrDuplicatePriceSlug
	}
	return &models.Price{ID: id, Name: in.Name, Slug: in.Slug, Details: in.Details, Months: in.Months, Price: in.Price}, nil
}

func TestPriceHandlers(t *testing.T) {
	h := NewPriceHandler(&fakeCatalog{prices: models.DefaultPrices()})
	e := newTestEcho()
	e.GET("/prices", h.List)
	e.GET("/prices/:slug", h.GetBySlug)
	e.PUT("/admin/prices/:id", h.Update)

	if rec := do(e, http.MethodGet, "/prices/per-bulan", "", nil); rec.Code != http.StatusOK {
		t.Errorf("get by slug status = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/prices/lifetime", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown slug status = %d; want 404", rec.Code)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"name":"Bulanan","slug":"bulanan","details":["Akses semua kelas"],"months":1,"price":120000}`, http.StatusOK},
		{"too cheap", `{"name":"Bulanan","slug":"bulanan","details":["Akses semua kelas"],"months":1,"price":10}`, http.StatusUnprocessableEntity},
		{"slug taken", `{"name":"Bulanan","slug":"per-tahun","details":["Akses semua kelas"],"months":1,"price":120000}`, http.StatusConflict},
		{"not json", `{"name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPut, "/admin/prices/1", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

type fakeAccounts struct {
	profile    models.Profile
	provisions []string
}

func (f *fakeAccounts) Profile(ctx context.Context, userID uint) (models.Profile, error) {
	if userID != f.profile.ID {
		return models.Profile{}, services.ErrUserNotFound
	}
	return f.profile, nil
}

func (f *fakeAccounts) Provision(ctx context.Context, uid, email, name string) (*models.User, error) {
	f.provisions = append(f.provisions, uid)
	return &models.User{ID: 7, FirebaseUID: uid, Email: email, Name: name}, nil
}

type fakeSubscriber struct {
	err    error
	tokens []string
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, userID uint, token string) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	return nil
}

func TestAccountHandlers(t *testing.T) {
	accounts := &fakeAccounts{profile: models.Profile{ID: 7, Email: "a@example.com"}}

	t.Run("profile", func(t *testing.T) {
		h := NewAccountHandler(accounts, &fakeSubscriber{})
		e := newTestEcho()
		e.GET("/account/profile", h.Profile, asUser(7))

		rec := do(e, http.MethodGet, "/account/profile", "", nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "a@example.com") {
			t.Errorf("got %d %s", rec.Code, rec.Body.String())
		}
	})

	tests := []struct {
		name       string
		body       string
		subErr     error
		wantStatus int
	}{
		{"subscribed", `{"token":"device-1"}`, nil, http.StatusOK},
		{"missing token", `{}`, nil, http.StatusBadRequest},
		{"realtime disabled", `{"token":"device-1"}`, services.ErrRealtimeDisabled, http.StatusServiceUnavailable},
		{"rejected token", `{"token":"device-1"}`, fmt.Errorf("%w: device token invalid-argument", services.ErrValidation), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAccountHandler(accounts, &fakeSubscriber{err: tt.subErr})
			e := newTestEcho()
			e.POST("/account/realtime/subscribe", h.SubscribeRealtime, asUser(7))

			rec := do(e, http.MethodPost, "/account/realtime/subscribe", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

type fakeIssuer struct{}

func (fakeIssuer) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if idToken != "good" {
		return nil, errors.New("bad token")
	}
	return &auth.Token{UID: "uid-7", Claims: map[string]interface{}{"email": "a@example.com", "name": "A"}}, nil
}

func (fakeIssuer) SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	return "cookie-for-" + idToken, nil
}

func TestAuthLogin(t *testing.T) {
	accounts := &fakeAccounts{}
	h := NewAuthHandler(fakeIssuer{}, accounts, time.Hour, true, logging.Discard())
	e := newTestEcho()
	e.POST("/auth/login", h.HandleLogin)
	e.POST("/auth/logout", h.HandleLogout)

	rec := do(e, http.MethodPost, "/auth/login", "", map[string]string{echo.HeaderAuthorization: "Bearer good"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "cookie-for-good" || !cookies[0].Secure || !cookies[0].HttpOnly {
		t.Errorf("cookies = %+v", cookies)
	}
	if diff := cmp.Diff([]string{"uid-7"}, accounts.provisions); diff != "" {
		t.Errorf("provisions mismatch (-want +got):\n%s", diff)
	}

	if rec := do(e, http.MethodPost, "/auth/login", "", map[string]string{echo.HeaderAuthorization: "Bearer bad"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d; want 401", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/auth/login", "", map[string]string{echo.HeaderAuthorization: "good"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("no bearer prefix status = %d; want 401", rec.Code)
	}

	rec = do(e, http.MethodPost, "/auth/logout", "", nil)
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("logout cookies = %+v", c)
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	e := newTestEcho()
	e.GET("/healthz", h.Health)

	rec := do(e, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want 503", rec.Code)
	}
}

type fakeDirectory struct {
	profiles []models.Profile
}

func (f fakeDirectory) List(ctx context.Context) ([]models.Profile, error) {
	return f.profiles, nil
}

func (f fakeDirectory) Profile(ctx context.Context, userID uint) (models.Profile, error) {
	for _, p := range f.profiles {
		if p.ID == userID {
			return p, nil
		}
	}
	return models.Profile{}, services.ErrUserNotFound
}

func TestAdminUsers(t *testing.T) {
	h := NewUserHandler(fakeDirectory{profiles: []models.Profile{{ID: 1, Pro: true}, {ID: 2}}})
	e := newTestEcho()
	e.GET("/admin/users", h.ListUsers)
	e.GET("/admin/users/:id", h.GetUser)

	rec := do(e, http.MethodGet, "/admin/users", "", nil)
	var list []models.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Fatalf("list = %s (%v)", rec.Body.String(), err)
	}
	if rec := do(e, http.MethodGet, "/admin/users/2", "", nil); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/admin/users/9", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d; want 404", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/admin/users/x", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d; want 400", rec.Code)
	}
}
