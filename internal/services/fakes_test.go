package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"cirsqu_api/internal/models"
)

// fakeStore is an in-memory Transactor and repository set. WithTx restores
// a snapshot when fn fails, mirroring a database rollback.
type fakeStore struct {
	mu      sync.Mutex
	orders  map[uint]*models.Order
	users   map[uint]*models.User
	prices  map[uint]*models.Price
	history []models.PaymentCallbackHistory
	nextID  uint

	casConflicts int
	updateErr    error
	txCount      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[uint]*models.Order),
		users:  make(map[uint]*models.User),
		prices: make(map[uint]*models.Price),
		nextID: 1,
	}
}

type fakeSnapshot struct {
	orders  map[uint]models.Order
	users   map[uint]models.User
	history int
}

func (s *fakeStore) snapshot() fakeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := fakeSnapshot{
		orders:  make(map[uint]models.Order, len(s.orders)),
		users:   make(map[uint]models.User, len(s.users)),
		history: len(s.history),
	}
	for id, o := range s.orders {
		snap.orders[id] = *o
	}
	for id, u := range s.users {
		cp := *u
		if u.ProExpiredAt != nil {
			t := *u.ProExpiredAt
			cp.ProExpiredAt = &t
		}
		snap.users[id] = cp
	}
	return snap
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[uint]*models.Order, len(snap.orders))
	for id, o := range snap.orders {
		o := o
		s.orders[id] = &o
	}
	s.users = make(map[uint]*models.User, len(snap.users))
	for id, u := range snap.users {
		u := u
		s.users[id] = &u
	}
	s.history = s.history[:snap.history]
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) addUser(u models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
	return &u
}

func (s *fakeStore) addPrice(p models.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[p.ID] = &p
}

func (s *fakeStore) addOrder(o models.Order) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.nextID
		s.nextID++
	}
	s.orders[o.ID] = &o
	return o
}

func (s *fakeStore) order(id uint) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeStore) expiry(userID uint) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.users[userID].ProExpiredAt; e != nil {
		t := *e
		return &t
	}
	return nil
}

func (s *fakeStore) historyEntries() []models.PaymentCallbackHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentCallbackHistory(nil), s.history...)
}

// OrderRepository

func (s *fakeStore) Create(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.GatewayOrderID == order.GatewayOrderID {
			return ErrDuplicateGatewayID
		}
	}
	order.ID = s.nextID
	s.nextID++
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *fakeStore) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.GatewayOrderID == gatewayOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (s *fakeStore) CountPending(ctx context.Context, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == models.OrderStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListByUser(ctx context.Context, userID uint) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAll(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateWithPriorProcessedGuard(ctx context.Context, order *models.Order, priorProcessed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casConflicts > 0 {
		s.casConflicts--
		return ErrConcurrentUpdate
	}
	if s.updateErr != nil {
		return s.updateErr
	}
	stored, ok := s.orders[order.ID]
	if !ok || stored.Processed != priorProcessed {
		return ErrConcurrentUpdate
	}
	stored.Status = order.Status
	stored.Processed = order.Processed
	stored.RawNotification = order.RawNotification
	return nil
}

func (s *fakeStore) UpdateRawCharge(ctx context.Context, id uint, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.RawCharge = raw
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

// Ledger

func (s *fakeStore) ExtendProExpiry(ctx context.Context, userID uint, months int, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return time.Time{}, ErrUserNotFound
	}
	base := now
	if u.IsPro(now) {
		base = *u.ProExpiredAt
	}
	e := AddMonths(base, months)
	u.ProExpiredAt = &e
	return e, nil
}

func (s *fakeStore) ReverseProExpiry(ctx context.Context, userID uint, months int) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return time.Time{}, ErrUserNotFound
	}
	if u.ProExpiredAt == nil {
		return time.Time{}, ErrIntegrity
	}
	e := AddMonths(*u.ProExpiredAt, -months)
	u.ProExpiredAt = &e
	return e, nil
}

// CallbackHistory

func (s *fakeStore) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

// fakeUsers and fakePrices adapt fakeStore to the repository interfaces whose
// method names overlap with OrderRepository.
type fakeUsers struct{ s *fakeStore }

func (f fakeUsers) FindByID(ctx context.Context, id uint) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) FindByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.FirebaseUID == uid {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (f fakeUsers) UpsertByFirebaseUID(ctx context.Context, uid, email, name string) (*models.User, error) {
	if u, err := f.FindByFirebaseUID(ctx, uid); err == nil {
		return u, nil
	}
	f.s.mu.Lock()
	id := f.s.nextID
	f.s.nextID++
	f.s.mu.Unlock()
	return f.s.addUser(models.User{ID: id, FirebaseUID: uid, Email: email, Name: name}), nil
}

func (f fakeUsers) List(ctx context.Context) ([]models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]models.User, 0, len(f.s.users))
	for _, u := range f.s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePrices struct{ s *fakeStore }

func (f fakePrices) List(ctx context.Context) ([]models.Price, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.Price
	for _, p := range f.s.prices {
		out = append(out, *p)
	}
	return out, nil
}

func (f fakePrices) FindByID(ctx context.Context, id uint) (*models.Price, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.prices[id]
	if !ok {
		return nil, ErrPriceNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePrices) FindBySlug(ctx context.Context, slug string) (*models.Price, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.prices {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPriceNotFound
}

func (f fakePrices) Update(ctx context.Context, price *models.Price) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.prices[price.ID]; !ok {
		return ErrPriceNotFound
	}
	cp := *price
	f.s.prices[price.ID] = &cp
	return nil
}

func (f fakePrices) Seed(ctx context.Context, prices []models.Price) (int, error) {
	n := 0
	for _, p := range prices {
		if _, err := f.FindBySlug(ctx, p.Slug); err == nil {
			continue
		}
		f.s.mu.Lock()
		p.ID = f.s.nextID
		f.s.nextID++
		f.s.mu.Unlock()
		f.s.addPrice(p)
		n++
	}
	return n, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	chargeErr error
	cancelErr error
	charges   []ChargeRequest
	cancels   []string
}

func (g *fakeGateway) Charge(ctx context.Context, req ChargeRequest) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, req)
	return json.RawMessage(`{"status_code":"201","transaction_status":"pending","order_id":"` + req.GatewayOrderID + `"}`), nil
}

func (g *fakeGateway) Cancel(ctx context.Context, gatewayOrderID string) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancels = append(g.cancels, gatewayOrderID)
	return json.RawMessage(`{"status_code":"200","transaction_status":"cancel"}`), nil
}

func (g *fakeGateway) Status(ctx context.Context, gatewayOrderID string) (json.RawMessage, error) {
	return json.RawMessage(`{"status_code":"201","transaction_status":"pending","order_id":"` + gatewayOrderID + `"}`), nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, ErrLockTaken
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type push struct {
	userID  uint
	event   string
	payload interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	pushes []push
}

func (n *fakeNotifier) PushToUser(userID uint, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, push{userID, event, payload})
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pushes)
}
