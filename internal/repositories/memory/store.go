// Package memory - хранилище в памяти с семантикой Store: транзакции
// выполняются строго последовательно и откатываются целиком при ошибке.
// Используется в тестах сервисов и при database.driver = memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type state struct {
	plans         map[string]models.Plan
	priceHistory  []models.PlanPriceHistory
	addons        map[string]models.AddonService
	payments      map[string]models.Payment
	subscriptions map[string]models.Subscription
	events        []models.SubscriptionPaymentEvent
	users         map[string]models.User
}

func newState() *state {
	return &state{
		plans:         map[string]models.Plan{},
		addons:        map[string]models.AddonService{},
		payments:      map[string]models.Payment{},
		subscriptions: map[string]models.Subscription{},
		users:         map[string]models.User{},
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.plans {
		cp.plans[k] = v
	}
	for k, v := range s.addons {
		cp.addons[k] = v
	}
	for k, v := range s.payments {
		cp.payments[k] = clonePayment(v)
	}
	for k, v := range s.subscriptions {
		cp.subscriptions[k] = cloneSubscription(v)
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	cp.priceHistory = append(cp.priceHistory, s.priceHistory...)
	cp.events = append(cp.events, s.events...)
	return cp
}

type Store struct {
	mu    *sync.Mutex
	state *state
	inTx  bool
	now   func() time.Time
}

var _ repositories.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		mu:    &sync.Mutex{},
		state: newState(),
		now:   time.Now,
	}
}

// lock - внутри транзакции мьютекс уже захвачен
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Plans() repositories.PlanRepository                 { return &planRepo{s} }
func (s *Store) Addons() repositories.AddonRepository               { return &addonRepo{s} }
func (s *Store) Payments() repositories.PaymentRepository           { return &paymentRepo{s} }
func (s *Store) Subscriptions() repositories.SubscriptionRepository { return &subscriptionRepo{s} }
func (s *Store) Users() repositories.UserRepository                 { return &userRepo{s} }

// LockUser - транзакции и так сериализованы
func (s *Store) LockUser(ctx context.Context, userID string) error {
	if !s.inTx {
		return repositories.ErrLockOutsideTransaction
	}
	return ctx.Err()
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repositories.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &Store{mu: s.mu, state: s.state, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.state = *snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// =======================
// Plans
// =======================

type planRepo struct{ s *Store }

func (r *planRepo) Create(ctx context.Context, plan *models.Plan) error {
	defer r.s.lock()()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	stamp(&plan.BaseModel, r.s.now())
	r.s.state.plans[plan.ID] = *plan
	return nil
}

func (r *planRepo) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	defer r.s.lock()()
	plan, ok := r.s.state.plans[id]
	if !ok {
		return nil, repositories.ErrPlanNotFound
	}
	return &plan, nil
}

func (r *planRepo) FindActive(ctx context.Context) ([]models.Plan, error) {
	defer r.s.lock()()
	var plans []models.Plan
	for _, p := range r.s.state.plans {
		if p.IsActive {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Price.LessThan(plans[j].Price) })
	return plans, nil
}

func (r *planRepo) IncrementSubscribers(ctx context.Context, id string) error {
	defer r.s.lock()()
	plan, ok := r.s.state.plans[id]
	if !ok {
		return repositories.ErrPlanNotFound
	}
	plan.SubscriberCount++
	r.s.state.plans[id] = plan
	return nil
}

func (r *planRepo) ChangePrice(ctx context.Context, id string, price decimal.Decimal, changedBy string, at time.Time) (*models.PlanPriceHistory, error) {
	defer r.s.lock()()
	plan, ok := r.s.state.plans[id]
	if !ok {
		return nil, repositories.ErrPlanNotFound
	}
	entry := models.PlanPriceHistory{
		ID:        uuid.NewString(),
		PlanID:    id,
		OldPrice:  plan.Price,
		NewPrice:  price,
		ChangedBy: changedBy,
		ChangedAt: at,
	}
	plan.Price = price
	plan.UpdatedAt = at
	r.s.state.plans[id] = plan
	r.s.state.priceHistory = append(r.s.state.priceHistory, entry)
	return &entry, nil
}

func (r *planRepo) PriceHistory(ctx context.Context, id string) ([]models.PlanPriceHistory, error) {
	defer r.s.lock()()
	var history []models.PlanPriceHistory
	for _, h := range r.s.state.priceHistory {
		if h.PlanID == id {
			history = append(history, h)
		}
	}
	return history, nil
}

// =======================
// Addons
// =======================

type addonRepo struct{ s *Store }

func (r *addonRepo) Create(ctx context.Context, addon *models.AddonService) error {
	defer r.s.lock()()
	if addon.ID == "" {
		addon.ID = uuid.NewString()
	}
	stamp(&addon.BaseModel, r.s.now())
	r.s.state.addons[addon.ID] = *addon
	return nil
}

func (r *addonRepo) FindByIDs(ctx context.Context, ids []string) ([]models.AddonService, error) {
	defer r.s.lock()()
	var addons []models.AddonService
	for _, id := range ids {
		if a, ok := r.s.state.addons[id]; ok {
			addons = append(addons, a)
		}
	}
	return addons, nil
}

func (r *addonRepo) FindActive(ctx context.Context) ([]models.AddonService, error) {
	defer r.s.lock()()
	var addons []models.AddonService
	for _, a := range r.s.state.addons {
		if a.IsActive {
			addons = append(addons, a)
		}
	}
	sort.Slice(addons, func(i, j int) bool {
		if addons[i].Category != addons[j].Category {
			return addons[i].Category < addons[j].Category
		}
		return addons[i].Price.LessThan(addons[j].Price)
	})
	return addons, nil
}

// =======================
// Users
// =======================

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	defer r.s.lock()()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	stamp(&user.BaseModel, r.s.now())
	r.s.state.users[user.ID] = *user
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	defer r.s.lock()()
	user, ok := r.s.state.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return &user, nil
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.s.lock()()
	for _, user := range r.s.state.users {
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

// =======================
// helpers
// =======================

func stamp(b *models.BaseModel, now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func clonePayment(p models.Payment) models.Payment {
	p.GrantedAddonIDs = cloneStrings(p.GrantedAddonIDs)
	meta := p.Metadata.Data()
	meta.AddonIDs = cloneStrings(meta.AddonIDs)
	if meta.AddonSnapshots != nil {
		meta.AddonSnapshots = append([]models.AddonSnapshot(nil), meta.AddonSnapshots...)
	}
	p.Metadata = datatypes.NewJSONType(meta)
	return p
}

func cloneSubscription(s models.Subscription) models.Subscription {
	s.AddonIDs = cloneStrings(s.AddonIDs)
	if s.AddonSnapshots != nil {
		s.AddonSnapshots = append(datatypes.JSONSlice[models.AddonSnapshot](nil), s.AddonSnapshots...)
	}
	return s
}
