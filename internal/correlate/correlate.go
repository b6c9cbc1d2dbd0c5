// Package correlate implements the Correlation Engine (component F) and
// Reconciliation Service (component G) of spec.md §2: matching optimistic
// entities to their later-arriving canonical twins, and producing
// upsert/remove plans from the match set.
package correlate

import (
	"fmt"

	"github.com/opencode-ai/opencode-core/pkg/types"
)

// DefaultWindowMs is the correlation eligibility window (§4.6.2).
const DefaultWindowMs = 30_000

// Strategy names the matching rule that produced a match.
type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategyCorrelation Strategy = "correlation"
)

// MessageKey derives the correlation key for a Message (§4.6.1).
func MessageKey(m *types.Message) string {
	return fmt.Sprintf("msg:%s:%s:%d", m.Role, m.ParentIDOrDefault(), m.Time.Created)
}

// PartKey derives the correlation key for a Part (§4.6.1).
func PartKey(p *types.Part) string {
	ref := "default"
	switch {
	case p.CallID != "":
		ref = p.CallID
	case p.ReasoningID != "":
		ref = p.ReasoningID
	}
	return fmt.Sprintf("part:%s:%s:%s", p.MessageID, p.Type, ref)
}

// MessageMatch pairs a canonical Message with the optimistic Message it
// was matched against, if any.
type MessageMatch struct {
	Canonical  *types.Message
	Optimistic *types.Message // nil if unmatched
	Strategy   Strategy
}

// MatchMessage finds the best optimistic match for a canonical message
// among a session's current optimistic messages, in the priority order of
// §4.6.2: exact-id first, then correlation-window match.
func MatchMessage(canonical *types.Message, optimistics []*types.Message, windowMs int64) MessageMatch {
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}

	for _, opt := range optimistics {
		if opt.ID == canonical.ID {
			return MessageMatch{Canonical: canonical, Optimistic: opt, Strategy: StrategyExact}
		}
	}

	for _, opt := range optimistics {
		if !opt.IsOptimistic() {
			continue
		}
		if opt.Role != canonical.Role {
			continue
		}
		optParentID := ""
		if opt.ParentID != nil {
			optParentID = *opt.ParentID
		}
		canonParentID := ""
		if canonical.ParentID != nil {
			canonParentID = *canonical.ParentID
		}
		if optParentID != canonParentID {
			continue
		}
		delta := canonical.Time.Created - opt.Optimistic.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta <= windowMs {
			return MessageMatch{Canonical: canonical, Optimistic: opt, Strategy: StrategyCorrelation}
		}
	}

	return MessageMatch{Canonical: canonical}
}

// PartMatch pairs a canonical Part with the optimistic Part it matched, if any.
type PartMatch struct {
	Canonical  *types.Part
	Optimistic *types.Part
	Strategy   Strategy
}

// MatchPart finds the best optimistic match for a canonical part, in the
// priority order of §4.6.3: exact-id, tool-call correlation by callID,
// text-type correlation, reasoning-type correlation.
func MatchPart(canonical *types.Part, optimistics []*types.Part) PartMatch {
	for _, opt := range optimistics {
		if opt.ID == canonical.ID {
			return PartMatch{Canonical: canonical, Optimistic: opt, Strategy: StrategyExact}
		}
	}

	isTool := canonical.Type == types.PartTool || canonical.Type == types.PartToolCall
	for _, opt := range optimistics {
		if !opt.IsOptimistic() || opt.MessageID != canonical.MessageID {
			continue
		}
		switch {
		case isTool && (opt.Type == types.PartTool || opt.Type == types.PartToolCall) && opt.CallID != "" && opt.CallID == canonical.CallID:
			return PartMatch{Canonical: canonical, Optimistic: opt, Strategy: StrategyCorrelation}
		case canonical.Type == types.PartText && opt.Type == types.PartText:
			return PartMatch{Canonical: canonical, Optimistic: opt, Strategy: StrategyCorrelation}
		case canonical.Type == types.PartReasoning && opt.Type == types.PartReasoning:
			if canonical.ReasoningID != "" && canonical.ReasoningID != opt.ReasoningID {
				continue
			}
			return PartMatch{Canonical: canonical, Optimistic: opt, Strategy: StrategyCorrelation}
		}
	}

	return PartMatch{Canonical: canonical}
}

// StrategyCounts tallies matches by strategy name.
type StrategyCounts map[Strategy]int

// MessageReconciliation is the output of reconciling one canonical Message
// against a session's optimistic Messages (§4.6.4).
type MessageReconciliation struct {
	ToUpsert []*types.Message // canonical, stripped of optimistic metadata
	ToRemove []string         // optimistic IDs to remove (excludes exact-id matches)
	Stats    Stats
}

// Stats mirrors the reconcile() stats object of §4.6.4.
type Stats struct {
	TotalCanonical  int
	TotalOptimistic int
	Matched         int
	Unmatched       int
	Stale           int
	Strategy        StrategyCounts
}

// ReconcileMessages matches a set of canonical messages against a
// session's current optimistic messages and returns the upsert/remove
// plan plus match stats. windowMs <= 0 uses DefaultWindowMs.
func ReconcileMessages(canonicals []*types.Message, optimistics []*types.Message, windowMs int64, nowMs int64) MessageReconciliation {
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}

	result := MessageReconciliation{
		Stats: Stats{
			TotalCanonical:  len(canonicals),
			TotalOptimistic: len(optimistics),
			Strategy:        StrategyCounts{},
		},
	}

	matchedOptimisticIDs := make(map[string]bool)

	for _, c := range canonicals {
		m := MatchMessage(c, optimistics, windowMs)
		stripped := c.Clone()
		stripped.Optimistic = nil
		result.ToUpsert = append(result.ToUpsert, stripped)

		if m.Optimistic != nil {
			result.Stats.Matched++
			result.Stats.Strategy[m.Strategy]++
			matchedOptimisticIDs[m.Optimistic.ID] = true
			if m.Strategy != StrategyExact {
				result.ToRemove = append(result.ToRemove, m.Optimistic.ID)
			}
		} else {
			result.Stats.Unmatched++
		}
	}

	for _, opt := range optimistics {
		if matchedOptimisticIDs[opt.ID] || opt.Optimistic == nil {
			continue
		}
		age := nowMs - opt.Optimistic.Timestamp
		if age > windowMs {
			result.Stats.Stale++
		}
	}

	return result
}

// PartReconciliation is the output of reconciling one canonical Part
// against a message's optimistic Parts.
type PartReconciliation struct {
	ToUpsert *types.Part // canonical, stripped of optimistic metadata
	ToRemove []string    // optimistic part IDs to remove (excludes exact-id matches)
	Strategy Strategy
	Matched  bool
}

// ReconcilePart matches one canonical Part against a message's current
// optimistic Parts (§4.6.3, §4.6.4).
func ReconcilePart(canonical *types.Part, optimistics []*types.Part) PartReconciliation {
	m := MatchPart(canonical, optimistics)
	stripped := canonical.Clone()
	stripped.Optimistic = nil

	out := PartReconciliation{ToUpsert: stripped}
	if m.Optimistic != nil {
		out.Matched = true
		out.Strategy = m.Strategy
		if m.Strategy != StrategyExact {
			out.ToRemove = append(out.ToRemove, m.Optimistic.ID)
		}
	}
	return out
}
