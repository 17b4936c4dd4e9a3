package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin   AuthAbuseScope = "login"
	AuthAbuseScopeRefresh AuthAbuseScope = "refresh"
)

// AuthAbusePolicy shapes the exponential cooldown applied to repeated
// authentication failures. The first FreeAttempts failures cost nothing;
// afterwards the cooldown grows BaseDelay * Multiplier^n capped at MaxDelay,
// and the failure count resets once ResetWindow passes without a failure.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = time.Hour
	}
	return p
}

// AuthAbuseGuard throttles repeated authentication failures per identity and
// per source IP independently.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type RedisAuthAbuseGuard struct {
	client *redis.Client
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client *redis.Client, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy.normalized()}
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, value)
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, g.stateKey(scope, "id", id))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

// Check returns the longest active cooldown across the identity and IP keys.
func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now()
	var max time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		state, err := g.readState(ctx, key)
		if err != nil {
			return 0, err
		}
		if state == nil {
			continue
		}
		if until := state.cooldownUntil; until.After(now) {
			if d := until.Sub(now); d > max {
				max = d
			}
		}
	}
	return max, nil
}

// RegisterFailure bumps both keys and returns the cooldown now in force.
func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now()
	var max time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		state, err := g.readState(ctx, key)
		if err != nil {
			return 0, err
		}
		failures := 1
		if state != nil && now.Sub(state.lastFailure) <= g.policy.ResetWindow {
			failures = state.failures + 1
		}
		cooldown := g.cooldownFor(failures)
		until := now.Add(cooldown)
		if err := g.client.HSet(ctx, key,
			"failures", failures,
			"last_failure_ms", now.UnixMilli(),
			"cooldown_until_ms", until.UnixMilli(),
		).Err(); err != nil {
			return 0, err
		}
		if err := g.client.Expire(ctx, key, g.policy.ResetWindow+g.policy.MaxDelay).Err(); err != nil {
			return 0, err
		}
		if cooldown > max {
			max = cooldown
		}
	}
	return max, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

func (g *RedisAuthAbuseGuard) cooldownFor(failures int) time.Duration {
	over := failures - g.policy.FreeAttempts
	if over <= 0 {
		return 0
	}
	d := g.policy.BaseDelay
	for i := 1; i < over; i++ {
		d = time.Duration(float64(d) * g.policy.Multiplier)
		if d >= g.policy.MaxDelay {
			return g.policy.MaxDelay
		}
	}
	if d > g.policy.MaxDelay {
		return g.policy.MaxDelay
	}
	return d
}

type abuseState struct {
	failures      int
	lastFailure   time.Time
	cooldownUntil time.Time
}

func (g *RedisAuthAbuseGuard) readState(ctx context.Context, key string) (*abuseState, error) {
	vals, err := g.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	state := &abuseState{}
	if raw, ok := vals["failures"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed abuse state %q field failures: %w", key, err)
		}
		state.failures = n
	}
	last, err := parseMillisField(key, vals, "last_failure_ms")
	if err != nil {
		return nil, err
	}
	state.lastFailure = last
	until, err := parseMillisField(key, vals, "cooldown_until_ms")
	if err != nil {
		return nil, err
	}
	state.cooldownUntil = until
	return state, nil
}

func parseMillisField(key string, vals map[string]string, field string) (time.Time, error) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed abuse state %q field %s: %w", key, field, err)
	}
	return time.UnixMilli(ms), nil
}
