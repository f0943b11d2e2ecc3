package resilience

import (
	"sync"
	"time"

	"github.com/agentgrid/agentgrid/core"
)

// RateLimiterOptions configures a RateLimiter.
type RateLimiterOptions struct {
	// MaxRequests is the allowance per identifier and class inside one window.
	MaxRequests int

	// Window is the fixed window length; the counter resets when it elapses.
	Window time.Duration

	// BlockThreshold is the number of over-limit strikes after which an
	// identifier is flagged as blocked.
	BlockThreshold int
}

// WithMaxRequests sets the per-window allowance.
func WithMaxRequests(n int) func(o *RateLimiterOptions) {
	return func(o *RateLimiterOptions) { o.MaxRequests = n }
}

// WithWindow sets the fixed window length.
func WithWindow(d time.Duration) func(o *RateLimiterOptions) {
	return func(o *RateLimiterOptions) { o.Window = d }
}

// WithBlockThreshold sets the strike count that flags an identifier blocked.
func WithBlockThreshold(n int) func(o *RateLimiterOptions) {
	return func(o *RateLimiterOptions) { o.BlockThreshold = n }
}

// SuspiciousActivity records an identifier that exceeded its allowance.
type SuspiciousActivity struct {
	Identifier string    `json:"identifier"`
	Class      string    `json:"class"`
	Strikes    int       `json:"strikes"`
	LastSeen   time.Time `json:"last_seen"`
}

type window struct {
	count int
	start time.Time
}

// RateLimiter enforces a fixed-window allowance per (identifier, class) pair.
// Over-limit requests are rejected with a rate_limited error and recorded as
// suspicious activity; identifiers that keep offending are flagged blocked.
type RateLimiter struct {
	mu sync.Mutex

	maxRequests    int
	windowLen      time.Duration
	blockThreshold int

	windows map[string]*window
	strikes map[string]*SuspiciousActivity

	now func() time.Time
}

// NewRateLimiter creates a limiter with the given options.
func NewRateLimiter(optFns ...func(o *RateLimiterOptions)) *RateLimiter {
	opts := RateLimiterOptions{
		MaxRequests:    100,
		Window:         time.Minute,
		BlockThreshold: 5,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RateLimiter{
		maxRequests:    opts.MaxRequests,
		windowLen:      opts.Window,
		blockThreshold: opts.BlockThreshold,
		windows:        make(map[string]*window),
		strikes:        make(map[string]*SuspiciousActivity),
		now:            time.Now,
	}
}

// Allow admits or rejects one request for the identifier in the given limit
// class. A nil return admits the request.
func (rl *RateLimiter) Allow(identifier, class string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := identifier + "|" + class
	now := rl.now()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.windowLen {
		w = &window{start: now}
		rl.windows[key] = w
	}

	if w.count >= rl.maxRequests {
		rl.recordStrikeLocked(identifier, class, now)
		return core.NewRateLimitError(identifier, class)
	}

	w.count++
	return nil
}

// Blocked reports whether the identifier accumulated enough strikes to be
// flagged as blocked.
func (rl *RateLimiter) Blocked(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s, ok := rl.strikes[identifier]
	return ok && s.Strikes >= rl.blockThreshold
}

// Suspicious returns a snapshot of all recorded over-limit activity.
func (rl *RateLimiter) Suspicious() []SuspiciousActivity {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	out := make([]SuspiciousActivity, 0, len(rl.strikes))
	for _, s := range rl.strikes {
		out = append(out, *s)
	}
	return out
}

func (rl *RateLimiter) recordStrikeLocked(identifier, class string, now time.Time) {
	s, ok := rl.strikes[identifier]
	if !ok {
		s = &SuspiciousActivity{Identifier: identifier, Class: class}
		rl.strikes[identifier] = s
	}
	s.Strikes++
	s.Class = class
	s.LastSeen = now
}
