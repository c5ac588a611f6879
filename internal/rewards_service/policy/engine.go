package policy

import (
	"strings"
	"sync/atomic"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
)

// Matched rule identifiers recorded in decisions and audit records.
const (
	RuleUPCMatch           = "upc_match"
	RuleSKUMatch           = "sku_match"
	RuleCategoryAllowed    = "category_allowed"
	RuleCategoryDisallowed = "category_disallowed"
	RuleNamePattern        = "name_pattern"
	RuleDefaultDeny        = "default_deny"
)

// CategoryUnknown is assigned when no classification source matches.
const CategoryUnknown = "unknown"

// CategoryTable is an immutable classification snapshot: category
// eligibility sets, exact UPC/SKU mappings, and name patterns. The engine
// swaps whole tables on refresh; individual tables never mutate.
type CategoryTable struct {
	allowed      map[string]struct{}
	disallowed   map[string]struct{}
	codeCategory map[string]string // UPC or SKU -> category
	namePatterns map[string][]string
}

// NewCategoryTable builds a table from the catalog collaborator's data.
func NewCategoryTable(allowed, disallowed []string, codeCategory map[string]string, namePatterns map[string][]string) *CategoryTable {
	t := &CategoryTable{
		allowed:      make(map[string]struct{}, len(allowed)),
		disallowed:   make(map[string]struct{}, len(disallowed)),
		codeCategory: make(map[string]string, len(codeCategory)),
		namePatterns: make(map[string][]string, len(namePatterns)),
	}
	for _, c := range allowed {
		t.allowed[c] = struct{}{}
	}
	for _, c := range disallowed {
		t.disallowed[c] = struct{}{}
	}
	for code, cat := range codeCategory {
		t.codeCategory[code] = cat
	}
	for cat, patterns := range namePatterns {
		t.namePatterns[cat] = append([]string(nil), patterns...)
	}
	return t
}

// known reports whether the category appears in either eligibility set.
func (t *CategoryTable) known(category string) bool {
	if _, ok := t.allowed[category]; ok {
		return true
	}
	_, ok := t.disallowed[category]
	return ok
}

// eligible reports eligibility for a category. Unknown is never eligible.
func (t *CategoryTable) eligible(category string) bool {
	_, ok := t.allowed[category]
	return ok
}

// Decision is the transient result of classifying one item. It is never
// persisted directly; the coordinator summarizes it into the audit record.
type Decision struct {
	Category    string
	Allowed     bool
	MatchedRule string
}

// CategoryDecision converts the decision to its redacted audit form.
func (d Decision) CategoryDecision() domain.CategoryDecision {
	return domain.CategoryDecision{Category: d.Category, Allowed: d.Allowed, MatchedRule: d.MatchedRule}
}

// Engine classifies items against the current category table. Classification
// is pure: no I/O, no side effects beyond reading the swapped-in table, so it
// may run outside the coordinator's per-user critical section.
type Engine struct {
	table atomic.Pointer[CategoryTable]
}

// NewEngine creates an engine over an initial table.
func NewEngine(table *CategoryTable) *Engine {
	e := &Engine{}
	if table == nil {
		table = DefaultTable()
	}
	e.table.Store(table)
	return e
}

// Refresh atomically replaces the category table. In-flight classifications
// finish against the table they started with.
func (e *Engine) Refresh(table *CategoryTable) {
	if table != nil {
		e.table.Store(table)
	}
}

// Classify determines eligibility for a single item.
// Lookup order: exact UPC match, exact SKU match, caller-supplied category,
// product-name pattern, then default deny.
func (e *Engine) Classify(item domain.Item) Decision {
	t := e.table.Load()

	if item.UPC != "" {
		if cat, ok := t.codeCategory[item.UPC]; ok {
			return Decision{Category: cat, Allowed: t.eligible(cat), MatchedRule: RuleUPCMatch}
		}
	}
	if item.SKU != "" {
		if cat, ok := t.codeCategory[item.SKU]; ok {
			return Decision{Category: cat, Allowed: t.eligible(cat), MatchedRule: RuleSKUMatch}
		}
	}

	if item.Category != "" && t.known(item.Category) {
		rule := RuleCategoryDisallowed
		allowed := t.eligible(item.Category)
		if allowed {
			rule = RuleCategoryAllowed
		}
		return Decision{Category: item.Category, Allowed: allowed, MatchedRule: rule}
	}

	// Name patterns only classify into disallowed categories; they exist to
	// catch mislabelled alcohol/tobacco/hot food, never to approve.
	if item.ProductName != "" {
		nameLower := strings.ToLower(item.ProductName)
		for cat, patterns := range t.namePatterns {
			for _, pattern := range patterns {
				if strings.Contains(nameLower, pattern) {
					return Decision{Category: cat, Allowed: false, MatchedRule: RuleNamePattern}
				}
			}
		}
	}

	return Decision{Category: CategoryUnknown, Allowed: false, MatchedRule: RuleDefaultDeny}
}

// ClassifyBasket classifies every item and aggregates with a logical AND:
// the basket is allowed only if every item is allowed. There is no partial
// approval.
func (e *Engine) ClassifyBasket(items []domain.Item) (bool, []Decision) {
	decisions := make([]Decision, 0, len(items))
	allowed := len(items) > 0
	for _, item := range items {
		d := e.Classify(item)
		if !d.Allowed {
			allowed = false
		}
		decisions = append(decisions, d)
	}
	return allowed, decisions
}
