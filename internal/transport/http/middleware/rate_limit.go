package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

const (
	rateLimitProblemType  = "about:blank#rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"

	maxLocalLimiters = 10000
)

// IdentifierFunc extracts the subject a rate limit is scoped to.
type IdentifierFunc func(*gin.Context) (domain.RateLimitSubject, bool)

// RateLimitRule configures a sliding-window limit for a particular subject.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter enforces sliding-window limits backed by the shared store. When the
// store is absent or failing, a per-process token bucket takes over so limits
// still hold on this instance.
type RateLimiter struct {
	store  port.RateLimitStore
	local  *localLimiters
	logger *zap.Logger
	now    func() time.Time
}

type ruleResult struct {
	rule       RateLimitRule
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
	subject    domain.RateLimitSubject
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		local:  newLocalLimiters(),
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (domain.RateLimitSubject, bool) {
		subject := domain.AddressSubject(c.ClientIP())
		return subject, subject.Valid()
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 {
			c.Next()
			return
		}

		now := rl.now()
		var bestResult *ruleResult

		for _, rule := range filtered {
			subject, ok := rule.Identifier(c)
			if !ok || !subject.Valid() {
				continue
			}

			res, err := rl.evaluate(c, rule, subject, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed", zap.String("rule", rule.Name), zap.String("subject", subject.String()), zap.Error(err))
				continue
			}

			if bestResult == nil || rl.shouldReplaceHeaderResult(*bestResult, res) {
				snapshot := res
				bestResult = &snapshot
			}

			if !res.allowed {
				rl.applyHeaders(c, res)
				rl.respondRateLimited(c, res)
				return
			}
		}

		if bestResult != nil {
			rl.applyHeaders(c, *bestResult)
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluate(c *gin.Context, rule RateLimitRule, subject domain.RateLimitSubject, now time.Time) (ruleResult, error) {
	if rl.store != nil {
		res, err := rl.evaluateRule(c, rule, subject, now)
		if err == nil {
			return res, nil
		}
		rl.logger.Warn("rate limit store unavailable, using local limiter", zap.String("rule", rule.Name), zap.Error(err))
	}
	if rl.local == nil {
		return ruleResult{}, fmt.Errorf("no rate limit backend")
	}
	return rl.local.evaluate(rule, subject, now), nil
}

func (rl *RateLimiter) evaluateRule(c *gin.Context, rule RateLimitRule, subject domain.RateLimitSubject, now time.Time) (ruleResult, error) {
	ctx := c.Request.Context()

	window, err := rl.store.Window(ctx, rule.Name, subject, rule.Window, now)
	if err != nil {
		return ruleResult{}, err
	}
	count := window.Count
	hasAttempts := !window.Oldest.IsZero()

	result := ruleResult{
		rule:    rule,
		limit:   rule.Limit,
		subject: subject,
		reset:   now.Add(rule.Window),
		allowed: true,
	}

	if hasAttempts {
		result.reset = window.Oldest.Add(rule.Window)
	}

	if count >= rule.Limit {
		result.allowed = false
		result.remaining = 0
		result.retryAfter = result.reset.Sub(now)
		if result.retryAfter < 0 {
			result.retryAfter = 0
		}
		return result, nil
	}

	if err := rl.store.Record(ctx, rule.Name, subject, now); err != nil {
		return ruleResult{}, err
	}

	count++
	result.remaining = rule.Limit - count
	if result.remaining < 0 {
		result.remaining = 0
	}

	result.retryAfter = result.reset.Sub(now)
	if result.retryAfter < 0 {
		result.retryAfter = 0
	}

	if !hasAttempts {
		result.reset = now.Add(rule.Window)
	}

	return result, nil
}

func (rl *RateLimiter) shouldReplaceHeaderResult(current, candidate ruleResult) bool {
	if !candidate.allowed && current.allowed {
		return true
	}

	if candidate.allowed == current.allowed {
		if candidate.remaining < current.remaining {
			return true
		}
		if candidate.remaining == current.remaining && candidate.reset.Before(current.reset) {
			return true
		}
	}

	return false
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(res.remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))

	if !res.allowed {
		seconds := int(math.Ceil(res.retryAfter.Seconds()))
		if seconds < 0 {
			seconds = 0
		}
		headers.Set("Retry-After", strconv.Itoa(seconds))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, res ruleResult) {
	retrySeconds := int(math.Ceil(res.retryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}

	rl.logger.Info("rate limit exceeded",
		zap.String("rule", res.rule.Name),
		zap.String("scope", string(res.subject.Scope)),
		zap.Int("retry_after_seconds", retrySeconds),
	)

	detail := fmt.Sprintf("Too many requests. Try again in %d seconds.", retrySeconds)
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, problem)
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localLimiters holds one token bucket per rule and subject.
type localLimiters struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func newLocalLimiters() *localLimiters {
	return &localLimiters{entries: make(map[string]*localEntry)}
}

func (l *localLimiters) evaluate(rule RateLimitRule, subject domain.RateLimitSubject, now time.Time) ruleResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rule.Name + ":" + subject.String()

	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxLocalLimiters {
			l.prune(now, rule.Window)
		}
		entry = &localEntry{limiter: rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	result := ruleResult{
		rule:    rule,
		limit:   rule.Limit,
		subject: subject,
		reset:   now.Add(rule.Window),
		allowed: true,
	}

	reservation := entry.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if !reservation.OK() {
		delay = rule.Window
	}
	if delay > 0 {
		reservation.CancelAt(now)
		result.allowed = false
		result.retryAfter = delay
		result.reset = now.Add(delay)
		return result
	}

	result.remaining = max(int(entry.limiter.TokensAt(now)), 0)
	return result
}

// prune drops buckets idle for longer than window.
func (l *localLimiters) prune(now time.Time, window time.Duration) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > window {
			delete(l.entries, key)
		}
	}
}
