// Package entitlement decides whether an account may start another story in
// the current billing period.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

// Unlimited is the UsageLimit reported for accounts without a cap.
const Unlimited = -1

const ReasonLimitReached = "monthly story limit reached"

// Period is the billing period key for t: the UTC calendar month as YYYY-MM.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type UsageStore interface {
	UsageCount(ctx context.Context, userID uuid.UUID, period string) (int, error)
	ActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
}

type Decision struct {
	Allowed    bool
	Reason     string
	UsageCount int
	UsageLimit int
	Period     string
}

type Service struct {
	store     UsageStore
	gating    bool
	freeLimit int
	now       func() time.Time
}

func NewService(store UsageStore, gatingEnabled bool, freeLimit int) *Service {
	return &Service{
		store:     store,
		gating:    gatingEnabled,
		freeLimit: freeLimit,
		now:       time.Now,
	}
}

func (s *Service) CheckEntitlement(ctx context.Context, userID uuid.UUID) (Decision, error) {
	now := s.now()
	period := Period(now)

	count, err := s.store.UsageCount(ctx, userID, period)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read usage: %w", err)
	}

	if !s.gating {
		return Decision{Allowed: true, UsageCount: count, UsageLimit: Unlimited, Period: period}, nil
	}

	sub, err := s.store.ActiveSubscription(ctx, userID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read subscription: %w", err)
	}
	if sub.IsActive(now) {
		return Decision{Allowed: true, UsageCount: count, UsageLimit: Unlimited, Period: period}, nil
	}

	d := Decision{
		Allowed:    count < s.freeLimit,
		UsageCount: count,
		UsageLimit: s.freeLimit,
		Period:     period,
	}
	if !d.Allowed {
		d.Reason = ReasonLimitReached
	}
	return d, nil
}
