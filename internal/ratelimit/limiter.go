// Package ratelimit gates account creation per source IP over a fixed
// window that opens with the first registration.
//
// CanRegister and Record are separate calls, so concurrent registrations
// from one address can both pass the check before either is recorded. A
// small overshoot past the limit is accepted instead of serializing signups.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
)

// Store persists per-IP records. Get returns nil, nil when the address has
// no record. Record must be atomic per address.
type Store interface {
	Get(ctx context.Context, ip string) (*models.IPRegistration, error)
	Record(ctx context.Context, ip string, now time.Time, window time.Duration) error
}

type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

func New(store Store, max int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		max:    max,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CanRegister never writes. An expired window counts as eligible; the reset
// itself happens in Record.
func (l *Limiter) CanRegister(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, apperr.Invalid("empty ip")
	}
	rec, err := l.store.Get(ctx, ip)
	if err != nil {
		return false, apperr.Unavailable(fmt.Errorf("load registration record: %w", err))
	}
	if rec == nil || rec.RegistrationCount == 0 {
		return true, nil
	}
	if l.now().Sub(rec.FirstRegistrationAt) >= l.window {
		return true, nil
	}
	return rec.RegistrationCount < l.max, nil
}

func (l *Limiter) Record(ctx context.Context, ip string) error {
	if ip == "" {
		return apperr.Invalid("empty ip")
	}
	if err := l.store.Record(ctx, ip, l.now(), l.window); err != nil {
		return apperr.Unavailable(fmt.Errorf("record registration: %w", err))
	}
	return nil
}
