package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/robertof1lho/archestra-sub001/internal/cache"
	"github.com/robertof1lho/archestra-sub001/internal/model"
)

// DefaultTTL bounds how long a classification is reused for the same
// conversation fingerprint.
const DefaultTTL = 5 * time.Minute

// Caching wraps an Evaluator with a TTL byte cache keyed by a
// fingerprint of the conversation. The quarantine analysis is the
// expensive part of a tool call; repeated calls on an unchanged
// conversation reuse the prior classification.
type Caching struct {
	inner Evaluator
	cache cache.Cache
	ttl   time.Duration
}

// NewCaching wraps inner with the given cache backend. ttl <= 0 uses
// DefaultTTL.
func NewCaching(inner Evaluator, c cache.Cache, ttl time.Duration) *Caching {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Caching{inner: inner, cache: c, ttl: ttl}
}

func (c *Caching) EvaluateTrustedData(ctx context.Context, messages []model.Message, agentID string) (Report, error) {
	key := fingerprint(messages, agentID)

	if data, err := c.cache.Get(ctx, key); err == nil && data != nil {
		var report Report
		if err := json.Unmarshal(data, &report); err == nil {
			return report, nil
		}
	}

	report, err := c.inner.EvaluateTrustedData(ctx, messages, agentID)
	if err != nil {
		return Report{}, err
	}

	if data, err := json.Marshal(report); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			log.Printf("WARN: caching trust report: %v", err)
		}
	}
	return report, nil
}

func fingerprint(messages []model.Message, agentID string) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.ID))
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return "trust:" + hex.EncodeToString(h.Sum(nil))
}
