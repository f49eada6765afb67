package memory

import (
	"context"
	"sort"
	"time"

	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"

	"github.com/google/uuid"
)

type subscriptionRepo struct{ s *Store }

// Create - повторяет частичный уникальный индекс (user_id) WHERE status = 'active'
func (r *subscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	defer r.s.lock()()
	if sub.Status == "" {
		sub.Status = models.SubscriptionStatusActive
	}
	if sub.Status == models.SubscriptionStatusActive {
		for _, existing := range r.s.state.subscriptions {
			if existing.UserID == sub.UserID && existing.Status == models.SubscriptionStatusActive {
				return repositories.ErrActiveSubscriptionExists
			}
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	stamp(&sub.BaseModel, r.s.now())
	r.s.state.subscriptions[sub.ID] = cloneSubscription(*sub)
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	defer r.s.lock()()
	sub, ok := r.s.state.subscriptions[id]
	if !ok {
		return nil, repositories.ErrSubscriptionNotFound
	}
	cp := cloneSubscription(sub)
	return &cp, nil
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	defer r.s.lock()()
	for _, sub := range r.s.state.subscriptions {
		if sub.UserID == userID && sub.IsCurrent(now) {
			cp := cloneSubscription(sub)
			return &cp, nil
		}
	}
	return nil, repositories.ErrSubscriptionNotFound
}

func (r *subscriptionRepo) LockByID(ctx context.Context, id string) (*models.Subscription, error) {
	return r.FindByID(ctx, id)
}

func (r *subscriptionRepo) SaveAddons(ctx context.Context, sub *models.Subscription) error {
	defer r.s.lock()()
	existing, ok := r.s.state.subscriptions[sub.ID]
	if !ok || existing.Status != models.SubscriptionStatusActive {
		return repositories.ErrSubscriptionNotFound
	}
	existing.AddonIDs = sub.AddonIDs
	existing.AddonSnapshots = sub.AddonSnapshots
	existing.Amount = sub.Amount
	existing.UpdatedAt = r.s.now()
	r.s.state.subscriptions[sub.ID] = cloneSubscription(existing)
	return nil
}

func (r *subscriptionRepo) CancelActiveForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, sub := range r.s.state.subscriptions {
		if sub.UserID == userID && sub.Status == models.SubscriptionStatusActive {
			r.s.state.subscriptions[id] = cancelled(sub, reason, at)
			n++
		}
	}
	return n, nil
}

func (r *subscriptionRepo) Cancel(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	defer r.s.lock()()
	sub, ok := r.s.state.subscriptions[id]
	if !ok || sub.Status != models.SubscriptionStatusActive {
		return false, nil
	}
	r.s.state.subscriptions[id] = cancelled(sub, reason, at)
	return true, nil
}

func (r *subscriptionRepo) ExpireEnded(ctx context.Context, now time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, sub := range r.s.state.subscriptions {
		if sub.Status == models.SubscriptionStatusActive && !sub.EndDate.After(now) {
			sub.Status = models.SubscriptionStatusExpired
			sub.UpdatedAt = now
			r.s.state.subscriptions[id] = sub
			n++
		}
	}
	return n, nil
}

func (r *subscriptionRepo) AppendEvent(ctx context.Context, event *models.SubscriptionPaymentEvent) error {
	defer r.s.lock()()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	ev := *event
	ev.AddonIDs = cloneStrings(ev.AddonIDs)
	r.s.state.events = append(r.s.state.events, ev)
	return nil
}

func (r *subscriptionRepo) Events(ctx context.Context, subscriptionID string) ([]models.SubscriptionPaymentEvent, error) {
	defer r.s.lock()()
	var events []models.SubscriptionPaymentEvent
	for _, ev := range r.s.state.events {
		if ev.SubscriptionID == subscriptionID {
			ev.AddonIDs = cloneStrings(ev.AddonIDs)
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func cancelled(sub models.Subscription, reason string, at time.Time) models.Subscription {
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelledAt = &at
	sub.CancelReason = reason
	sub.UpdatedAt = at
	return sub
}
