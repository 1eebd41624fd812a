// Package secrets redacts credential material from tool-call arguments and
// error messages before they reach the durable audit trail.
//
// The gateway proxies arbitrary tool arguments — SQL queries, HTTP bodies,
// connection strings — and any of them can carry a password or token. The
// audit pipeline scrubs every entry, so a secret pasted into a tool call is
// never persisted.
package secrets

import (
	"regexp"
	"sort"
)

// RedactionString replaces each detected secret.
const RedactionString = "[REDACTED]"

// Rule is one detection pattern. When the pattern has a capture group, only
// the group is redacted (keeping the surrounding structure readable);
// otherwise the whole match is replaced.
type Rule struct {
	ID      string
	Pattern string
}

// DefaultRules covers the secret shapes that show up in proxied tool
// arguments. Arguments are JSON, so the key-value rule matches JSON string
// fields; the remaining rules are self-identifying token formats that can
// appear inside any string value.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:      "credential-field",
			Pattern: `(?i)"(?:password|passwd|pwd|secret|token|api[_-]?key|apikey|access[_-]?key|private[_-]?key|auth|authorization|credentials?)"\s*:\s*"([^"]*)"`,
		},
		{
			ID:      "bearer-token",
			Pattern: `(?i)bearer\s+([A-Za-z0-9._~+/\-]+=*)`,
		},
		{
			// Only the userinfo password: the rest of the URL stays
			// readable for operators querying the audit log.
			ID:      "database-url-password",
			Pattern: `(?i)(?:postgres(?:ql)?|mysql|mongodb|redis|amqp)://[^:/\s"@]+:([^@\s"]+)@`,
		},
		{
			ID:      "aws-access-key-id",
			Pattern: `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
		},
		{
			ID:      "github-token",
			Pattern: `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`,
		},
		{
			ID:      "github-fine-grained",
			Pattern: `github_pat_[A-Za-z0-9_]{22,}`,
		},
		{
			ID:      "gitlab-token",
			Pattern: `glpat-[A-Za-z0-9\-]{20,}`,
		},
		{
			ID:      "slack-token",
			Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		},
		{
			ID:      "stripe-key",
			Pattern: `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`,
		},
		{
			ID:      "google-api-key",
			Pattern: `AIza[A-Za-z0-9_\-]{35}`,
		},
		{
			ID:      "jwt",
			Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
		},
		{
			ID:      "private-key",
			Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
		},
	}
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
}

// Scrubber applies the detection rules to content. Safe for concurrent use:
// the compiled rules are immutable after construction.
type Scrubber struct {
	rules []compiledRule
}

// NewScrubber compiles the default rule set.
func NewScrubber() *Scrubber {
	rules := DefaultRules()
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, compiledRule{
			id:      r.ID,
			pattern: regexp.MustCompile(r.Pattern),
		})
	}
	return &Scrubber{rules: compiled}
}

// span is a half-open byte range to redact.
type span struct {
	start, end int
}

// Scrub replaces every detected secret in content with RedactionString.
// Redaction targets capture group 1 where a rule defines one, so a scrubbed
// JSON document stays valid JSON.
func (s *Scrubber) Scrub(content string) string {
	var spans []span
	for _, rule := range s.rules {
		for _, m := range rule.pattern.FindAllStringSubmatchIndex(content, -1) {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			if start < end {
				spans = append(spans, span{start: start, end: end})
			}
		}
	}
	if len(spans) == 0 {
		return content
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := mergeSpans(spans)

	// Apply in reverse so earlier offsets stay valid.
	scrubbed := content
	for i := len(merged) - 1; i >= 0; i-- {
		r := merged[i]
		scrubbed = scrubbed[:r.start] + RedactionString + scrubbed[r.end:]
	}
	return scrubbed
}

// ScrubBytes is Scrub for raw JSON payloads.
func (s *Scrubber) ScrubBytes(content []byte) []byte {
	if len(content) == 0 {
		return content
	}
	return []byte(s.Scrub(string(content)))
}

// mergeSpans collapses overlapping or adjacent redactions. Input must be
// sorted by start ascending.
func mergeSpans(spans []span) []span {
	merged := spans[:1]
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}
