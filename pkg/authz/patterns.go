package authz

import (
	"time"
)

// trackAccess updates the rolling access record for (user, resource, action).
// This is pure observability data; it never influences the decision.
func (g *Guard) trackAccess(userID, resource, action string) {
	if userID == "" {
		return
	}
	now := g.now()
	key := userID + "\x1f" + resource + "\x1f" + action

	g.pmu.Lock()
	p, ok := g.patterns[key]
	if !ok {
		p = &AccessPattern{UserID: userID, Resource: resource, Action: action}
		g.patterns[key] = p
	}
	p.Count++
	if !p.LastAccess.IsZero() {
		interval := now.Sub(p.LastAccess)
		if interval < 0 {
			interval = 0
		}
		// Rolling average over all observed intervals.
		observed := int64(p.Count - 1)
		p.AvgInterval = time.Duration((int64(p.AvgInterval)*(observed-1) + int64(interval)) / observed)
	}
	p.LastAccess = now

	if !p.Suspicious && p.Count > suspiciousCount && p.AvgInterval < suspiciousInterval {
		p.Suspicious = true
		g.pmu.Unlock()
		g.metrics.SuspiciousPatternsTotal.Inc()
		g.log.WithFields(map[string]interface{}{
			"user_id":  userID,
			"resource": resource,
			"action":   action,
			"count":    p.Count,
		}).Warn("suspicious access pattern detected")
		return
	}
	g.pmu.Unlock()
}

// GetSuspiciousPatterns returns copies of all patterns currently flagged
// suspicious.
func (g *Guard) GetSuspiciousPatterns() []*AccessPattern {
	g.pmu.Lock()
	defer g.pmu.Unlock()

	out := make([]*AccessPattern, 0)
	for _, p := range g.patterns {
		if p.Suspicious {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// PrunePatterns drops access records idle longer than maxAge and returns the
// number removed. The janitor calls this periodically.
func (g *Guard) PrunePatterns(maxAge time.Duration) int {
	cutoff := g.now().Add(-maxAge)

	g.pmu.Lock()
	defer g.pmu.Unlock()

	removed := 0
	for key, p := range g.patterns {
		if p.LastAccess.Before(cutoff) {
			delete(g.patterns, key)
			removed++
		}
	}
	return removed
}
