package proxy

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/pkg/metrics"
	"go.uber.org/zap"
)

// Policy selects the next identity among the healthy ones.
type Policy string

const (
	RoundRobin     Policy = "round_robin"
	WeightedRandom Policy = "weighted_random"
)

// DefaultUserAgents is used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

type Options struct {
	Policy Policy
	// FailureThreshold is the number of consecutive failures that evicts an identity.
	FailureThreshold int
	// Cooldown is how long an evicted identity stays out of rotation.
	Cooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.Policy == "" {
		o.Policy = RoundRobin
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Minute
	}
	return o
}

type health struct {
	consecutive int
	successes   int
	failures    int
	unhealthy   bool
	since       time.Time
}

// IdentityStats is a point-in-time view of one identity's health.
type IdentityStats struct {
	Key                 string `json:"key"`
	Healthy             bool   `json:"healthy"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Successes           int    `json:"successes"`
	Failures            int    `json:"failures"`
}

// Rotator hands out identities and tracks their health. It is safe for
// concurrent use; one Rotator is shared by every fetch in a process.
type Rotator struct {
	identities []entity.Identity
	userAgents []string
	opts       Options
	logger     *zap.Logger

	mu     sync.Mutex
	health map[string]*health
	next   int
	now    func() time.Time
	rnd    *rand.Rand
}

// NewRotator creates a rotator over the given proxy endpoints.
func NewRotator(endpoints []entity.Identity, userAgents []string, opts Options, logger *zap.Logger) *Rotator {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	r := &Rotator{
		identities: endpoints,
		userAgents: userAgents,
		opts:       opts.withDefaults(),
		logger:     logger.With(zap.String("component", "rotator")),
		health:     make(map[string]*health, len(endpoints)),
		now:        time.Now,
		rnd:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, id := range endpoints {
		r.health[id.Key()] = &health{}
	}
	metrics.HealthyIdentities.Set(float64(len(endpoints)))
	return r
}

// Size returns the number of configured endpoints.
func (r *Rotator) Size() int {
	return len(r.identities)
}

// Acquire returns the next healthy identity. It never blocks: when the pool
// is empty or every identity is evicted it returns entity.ErrPoolExhausted
// and the caller decides whether to go direct.
func (r *Rotator) Acquire() (entity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.identities) == 0 {
		return entity.Identity{}, entity.ErrPoolExhausted
	}

	var (
		id entity.Identity
		ok bool
	)
	switch r.opts.Policy {
	case WeightedRandom:
		id, ok = r.pickWeighted()
	default:
		id, ok = r.pickRoundRobin()
	}
	if !ok {
		return entity.Identity{}, entity.ErrPoolExhausted
	}
	return id.WithUserAgent(r.userAgent()), nil
}

// Direct returns an identity without a proxy, still with a rotated user agent.
func (r *Rotator) Direct() entity.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return entity.Identity{UserAgent: r.userAgent()}
}

// Report updates the identity's health with the outcome of an attempt.
// A blocked outcome evicts the identity at once; other identity faults evict
// it after FailureThreshold consecutive occurrences.
func (r *Rotator) Report(id entity.Identity, outcome entity.Outcome) {
	if id.Direct() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[id.Key()]
	if !ok {
		return
	}
	if !outcome.IdentityFault() {
		h.consecutive = 0
		h.successes++
		return
	}

	h.failures++
	h.consecutive++
	if h.unhealthy {
		return
	}
	if outcome == entity.OutcomeBlocked || h.consecutive >= r.opts.FailureThreshold {
		h.unhealthy = true
		h.since = r.now()
		r.logger.Warn("identity evicted from rotation",
			zap.String("identity", id.Key()),
			zap.String("outcome", string(outcome)),
			zap.Int("consecutive_failures", h.consecutive),
			zap.Duration("cooldown", r.opts.Cooldown),
		)
		metrics.HealthyIdentities.Set(float64(r.healthyCountLocked()))
	}
}

// Healthy reports whether the identity is currently in rotation.
func (r *Rotator) Healthy(id entity.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[id.Key()]
	if !ok {
		return false
	}
	return r.availableLocked(id.Key(), h)
}

// Stats returns the health of every configured identity.
func (r *Rotator) Stats() []IdentityStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]IdentityStats, 0, len(r.identities))
	for _, id := range r.identities {
		h := r.health[id.Key()]
		out = append(out, IdentityStats{
			Key:                 id.Key(),
			Healthy:             r.availableLocked(id.Key(), h),
			ConsecutiveFailures: h.consecutive,
			Successes:           h.successes,
			Failures:            h.failures,
		})
	}
	return out
}

func (r *Rotator) pickRoundRobin() (entity.Identity, bool) {
	n := len(r.identities)
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		id := r.identities[idx]
		if r.availableLocked(id.Key(), r.health[id.Key()]) {
			r.next = (idx + 1) % n
			return id, true
		}
	}
	return entity.Identity{}, false
}

// pickWeighted favours identities with a better success ratio (Laplace smoothed).
func (r *Rotator) pickWeighted() (entity.Identity, bool) {
	var (
		candidates []entity.Identity
		weights    []float64
		total      float64
	)
	for _, id := range r.identities {
		h := r.health[id.Key()]
		if !r.availableLocked(id.Key(), h) {
			continue
		}
		w := float64(h.successes+1) / float64(h.successes+h.failures+2)
		candidates = append(candidates, id)
		weights = append(weights, w)
		total += w
	}
	if len(candidates) == 0 {
		return entity.Identity{}, false
	}
	pick := r.rnd.Float64() * total
	for i, w := range weights {
		if pick < w {
			return candidates[i], true
		}
		pick -= w
	}
	return candidates[len(candidates)-1], true
}

// availableLocked reports whether an identity may be handed out, moving it
// back into rotation on probation once its cooldown has elapsed.
func (r *Rotator) availableLocked(key string, h *health) bool {
	if !h.unhealthy {
		return true
	}
	if r.now().Sub(h.since) < r.opts.Cooldown {
		return false
	}
	h.unhealthy = false
	h.consecutive = r.opts.FailureThreshold - 1
	r.logger.Info("identity re-entering rotation on probation", zap.String("identity", key))
	metrics.HealthyIdentities.Set(float64(r.healthyCountLocked()))
	return true
}

func (r *Rotator) healthyCountLocked() int {
	n := 0
	for _, h := range r.health {
		if !h.unhealthy {
			n++
		}
	}
	return n
}

func (r *Rotator) userAgent() string {
	return r.userAgents[r.rnd.IntN(len(r.userAgents))]
}
