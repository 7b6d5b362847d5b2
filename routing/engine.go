// Package routing implements the subscription matching engine: scoring
// events against per-user subscriptions and firing tenant-scoped rules.
package routing

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pulsekit/pulse/signal"
	"github.com/pulsekit/pulse/subscription"
)

// Scoring constants. A type match seeds the score; each satisfied filter
// and the event's priority ordinal raise it.
const (
	baseScore      = 10
	filterScore    = 5
	priorityWeight = 2
)

// Event is the unit routed by the engine: a type, a payload, and scope.
type Event struct {
	// Type is the event type name (e.g. "invoice.paid").
	Type string `json:"type"`

	// Data is the event payload that filters and rule conditions evaluate.
	Data map[string]any `json:"data"`

	// Priority is the event's declared urgency. Defaults to normal.
	Priority subscription.Priority `json:"priority,omitempty"`

	// UserID selects whose subscriptions are matched.
	UserID string `json:"user_id"`

	// AgencyID selects the rule scope (agency rules, then global).
	AgencyID string `json:"agency_id,omitempty"`
}

// MatchResult is one subscription's outcome for a processed event.
type MatchResult struct {
	// Matches is always true for returned results; rejected subscriptions
	// are omitted entirely.
	Matches bool `json:"matches"`

	// Subscription is the matched subscription.
	Subscription *subscription.Subscription `json:"subscription"`

	// MatchedFilters lists the filter fields that passed.
	MatchedFilters []string `json:"matched_filters"`

	// Score ranks the match. Higher is more specific.
	Score int `json:"score"`
}

// Engine matches events against cached subscriptions and rules.
type Engine struct {
	subs       *subscription.Service
	dispatcher *Dispatcher
	bus        *signal.Bus
	logger     *slog.Logger
}

// NewEngine creates a matching engine.
func NewEngine(subs *subscription.Service, dispatcher *Dispatcher, bus *signal.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		subs:       subs,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
	}
}

// ProcessEvent matches an event against the user's subscriptions and,
// independently, evaluates every rule in scope. Matched subscriptions are
// returned sorted by descending score; firing rules have their actions
// dispatched as a side effect and are not part of the result.
//
// The subscription gate is strict AND: the event type must be covered,
// every filter must pass, and the event priority must meet the
// subscription's threshold.
func (e *Engine) ProcessEvent(ctx context.Context, evt Event) []MatchResult {
	priority := evt.Priority
	if priority == "" {
		priority = subscription.PriorityNormal
	}

	results := make([]MatchResult, 0)

	for _, sub := range e.subs.ForUser(ctx, evt.UserID) {
		if !sub.Enabled || !sub.WantsType(evt.Type) {
			continue
		}

		score := baseScore
		matched := make([]string, 0, len(sub.Filters))

		rejected := false
		for _, filter := range sub.Filters {
			if !filter.Evaluate(evt.Data) {
				rejected = true
				break
			}
			score += filterScore
			matched = append(matched, filter.Field)
		}
		if rejected {
			continue
		}

		// Priority gate: the event must meet the subscription's threshold.
		if priority.Ordinal() < sub.PriorityThreshold.Ordinal() {
			continue
		}
		score += priority.Ordinal() * priorityWeight

		results = append(results, MatchResult{
			Matches:        true,
			Subscription:   sub,
			MatchedFilters: matched,
			Score:          score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	e.fireRules(ctx, evt)

	if e.bus != nil {
		e.bus.Publish(signal.EventProcessed, map[string]any{
			"event_type": evt.Type,
			"user_id":    evt.UserID,
			"matches":    len(results),
		})
	}

	e.logger.DebugContext(ctx, "event processed",
		"event_type", evt.Type, "user_id", evt.UserID, "matches", len(results))

	return results
}

// fireRules evaluates the rules visible to the event's agency scope and
// dispatches the actions of every rule that fires.
func (e *Engine) fireRules(ctx context.Context, evt Event) {
	rules := e.subs.RulesInScope(ctx, evt.AgencyID)

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	for _, rule := range rules {
		if !rule.Enabled || !rule.Fires(evt.Type, evt.Data) {
			continue
		}

		e.logger.DebugContext(ctx, "rule fired",
			"rule_id", rule.ID, "rule_name", rule.Name, "event_type", evt.Type)

		for _, action := range rule.Actions {
			e.dispatcher.Dispatch(ctx, rule, action, evt)
		}
	}
}
