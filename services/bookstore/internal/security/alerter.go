package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Event names observed by the alerter.
const (
	EventLogin     = "auth.login"
	EventRegister  = "auth.register"
	EventAuthorize = "auth.authorize"

	OutcomeFail        = "fail"
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Rule is a per-(event, outcome) threshold.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts security events per client IP and reports when a
// threshold is reached inside its window.
type AuditAlerter struct {
	client redis.Scripter
	prefix string
	rules  map[string]Rule
}

// DefaultRules returns the built-in thresholds.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ruleKey(EventLogin, OutcomeFail):     {Threshold: 10, Window: 5 * time.Minute},
		ruleKey(EventRegister, OutcomeFail):  {Threshold: 10, Window: 5 * time.Minute},
		ruleKey(EventAuthorize, OutcomeFail): {Threshold: 25, Window: 5 * time.Minute},
		ruleKey("*", OutcomeRateLimited):     {Threshold: 20, Window: time.Minute},
	}
}

// NewAuditAlerter returns nil when client is nil; a nil alerter observes nothing.
func NewAuditAlerter(client redis.Scripter, prefix string, rules map[string]Rule) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookhaven:auth:alerts"
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &AuditAlerter{client: client, prefix: prefix, rules: rules}
}

// Observe records a security event and returns whether the alert threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.client == nil {
		return result, nil
	}
	rule, ok := a.rule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := rule.Window.Milliseconds()
	if windowMs <= 0 {
		return result, nil
	}
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = rule.Threshold
	result.Window = rule.Window
	result.Triggered = count >= rule.Threshold
	return result, nil
}

func (a *AuditAlerter) rule(event, outcome string) (Rule, bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if r, ok := a.rules[ruleKey(event, outcome)]; ok {
		return r, true
	}
	r, ok := a.rules[ruleKey("*", outcome)]
	return r, ok
}

func ruleKey(event, outcome string) string {
	return event + "|" + outcome
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
