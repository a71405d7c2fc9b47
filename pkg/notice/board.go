package notice

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	// DefaultVisibleFor is how long a notice stays up unless dismissed.
	DefaultVisibleFor = 10 * time.Second

	DefaultCapacity = 16

	// ExpiredMessage is shown when a session could not be recovered.
	ExpiredMessage = "Your session has expired. Reload the page to continue."

	ReloadLabel = "Reload page"
)

// Notice is a dismissible, self-expiring message offering a reload.
type Notice struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	ActionLabel string    `json:"action_label"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Config controls the board.
type Config struct {
	VisibleFor time.Duration
	Capacity   int
}

// Hooks let a renderer follow the board. OnHide fires on dismissal, reload
// and expiry; it runs under the board's lock and must not call back into it.
type Hooks struct {
	OnShow   func(Notice)
	OnHide   func(Notice)
	OnReload func()
}

// Board keeps the notices currently visible to the user.
type Board struct {
	cache      *expirable.LRU[string, Notice]
	visibleFor time.Duration
	hooks      Hooks
	logger     *zap.Logger
}

// NewBoard creates a board.
func NewBoard(cfg Config, hooks Hooks, logger *zap.Logger) *Board {
	if cfg.VisibleFor <= 0 {
		cfg.VisibleFor = DefaultVisibleFor
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Board{
		visibleFor: cfg.VisibleFor,
		hooks:      hooks,
		logger:     logger,
	}
	b.cache = expirable.NewLRU[string, Notice](cfg.Capacity, b.onEvict, cfg.VisibleFor)
	return b
}

func (b *Board) onEvict(_ string, n Notice) {
	if b.hooks.OnHide != nil {
		b.hooks.OnHide(n)
	}
}

// Post shows a new notice. It never blocks on the renderer beyond OnShow.
func (b *Board) Post(message string) Notice {
	now := time.Now()
	n := Notice{
		ID:          uuid.NewString(),
		Message:     message,
		ActionLabel: ReloadLabel,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.visibleFor),
	}

	b.cache.Add(n.ID, n)

	if b.hooks.OnShow != nil {
		b.hooks.OnShow(n)
	}
	b.logger.Info("notice posted", zap.String("id", n.ID), zap.Time("expires_at", n.ExpiresAt))
	return n
}

// Active returns the visible notices, oldest first.
func (b *Board) Active() []Notice {
	now := time.Now()
	var out []Notice
	for _, n := range b.cache.Values() {
		if now.Before(n.ExpiresAt) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Dismiss hides the notice. It reports whether the notice was still visible.
func (b *Board) Dismiss(id string) bool {
	return b.cache.Remove(id)
}

// Reload runs the reload action for a visible notice and hides it.
func (b *Board) Reload(id string) bool {
	if !b.Dismiss(id) {
		return false
	}
	b.logger.Info("reload requested", zap.String("id", id))
	if b.hooks.OnReload != nil {
		b.hooks.OnReload()
	}
	return true
}

// NotifyExpired posts the session-expired notice.
func (b *Board) NotifyExpired(_ context.Context) {
	b.Post(ExpiredMessage)
}
