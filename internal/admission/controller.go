// Package admission caps concurrent generation jobs per user in process
// memory. Slots are lost on restart and are not shared between instances.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixelmint-ledger/lib/sl"
)

type Slot struct {
	ID        string
	UserID    uint
	StartTime time.Time
}

type Controller struct {
	mu      sync.Mutex
	slots   map[string]Slot
	perUser map[uint]int
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewController evicts slots older than timeout on every Reap.
func NewController(timeout time.Duration, log *slog.Logger) *Controller {
	return &Controller{
		slots:   make(map[string]Slot),
		perUser: make(map[uint]int),
		timeout: timeout,
		log:     log.With(sl.Module("admission")),
		now:     time.Now,
	}
}

func (c *Controller) CanStart(userID uint, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perUser[userID] < limit
}

func (c *Controller) Start(userID uint) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(userID)
}

// TryStart is CanStart and Start under one lock.
func (c *Controller) TryStart(userID uint, limit int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perUser[userID] >= limit {
		return "", false
	}
	return c.startLocked(userID), true
}

func (c *Controller) startLocked(userID uint) string {
	slot := Slot{ID: uuid.NewString(), UserID: userID, StartTime: c.now()}
	c.slots[slot.ID] = slot
	c.perUser[userID]++
	return slot.ID
}

// End releases a slot. Ending an unknown or already ended slot is a no-op.
func (c *Controller) End(slotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(slotID)
}

func (c *Controller) removeLocked(slotID string) bool {
	slot, ok := c.slots[slotID]
	if !ok {
		return false
	}
	delete(c.slots, slotID)
	if c.perUser[slot.UserID] <= 1 {
		delete(c.perUser, slot.UserID)
	} else {
		c.perUser[slot.UserID]--
	}
	return true
}

func (c *Controller) Active(userID uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perUser[userID]
}

// Reap removes slots older than the timeout and returns how many it removed.
func (c *Controller) Reap() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.timeout)
	removed := 0
	for id, slot := range c.slots {
		if slot.StartTime.Before(cutoff) {
			c.removeLocked(id)
			removed++
		}
	}
	return removed
}

// Run reaps every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.log.Info("admission reaper started", slog.Duration("interval", interval), slog.Duration("timeout", c.timeout))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Reap(); n > 0 {
				c.log.Warn("reaped orphaned job slots", slog.Int("count", n))
			}
		}
	}
}
