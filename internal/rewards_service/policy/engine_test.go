package policy

import (
	"testing"

	"github.com/Saint-Daniels/Rewards/internal/rewards_service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_DefaultTable(t *testing.T) {
	engine := NewEngine(nil)

	testCases := []struct {
		name         string
		item         domain.Item
		wantAllowed  bool
		wantCategory string
		wantRule     string
	}{
		{
			name:         "allowed category",
			item:         domain.Item{ProductName: "Whole Milk", Category: "dairy"},
			wantAllowed:  true,
			wantCategory: "dairy",
			wantRule:     RuleCategoryAllowed,
		},
		{
			name:         "disallowed category",
			item:         domain.Item{ProductName: "Craft IPA", Category: "alcohol"},
			wantAllowed:  false,
			wantCategory: "alcohol",
			wantRule:     RuleCategoryDisallowed,
		},
		{
			name:         "pharmacy allowed",
			item:         domain.Item{Category: "prescription"},
			wantAllowed:  true,
			wantCategory: "prescription",
			wantRule:     RuleCategoryAllowed,
		},
		{
			name:         "hot prepared food disallowed",
			item:         domain.Item{Category: "hot_food"},
			wantAllowed:  false,
			wantCategory: "hot_food",
			wantRule:     RuleCategoryDisallowed,
		},
		{
			name:         "unknown category denied by default",
			item:         domain.Item{Category: "garden_supplies"},
			wantAllowed:  false,
			wantCategory: CategoryUnknown,
			wantRule:     RuleDefaultDeny,
		},
		{
			name:         "no classification data denied by default",
			item:         domain.Item{ProductName: "Mystery Box"},
			wantAllowed:  false,
			wantCategory: CategoryUnknown,
			wantRule:     RuleDefaultDeny,
		},
		{
			name:         "name pattern catches mislabelled alcohol",
			item:         domain.Item{ProductName: "Red Wine 750ml"},
			wantAllowed:  false,
			wantCategory: "alcohol",
			wantRule:     RuleNamePattern,
		},
		{
			name:         "name pattern catches tobacco",
			item:         domain.Item{ProductName: "Cigarette carton"},
			wantAllowed:  false,
			wantCategory: "tobacco",
			wantRule:     RuleNamePattern,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Classify(tc.item)
			assert.Equal(t, tc.wantAllowed, d.Allowed)
			assert.Equal(t, tc.wantCategory, d.Category)
			assert.Equal(t, tc.wantRule, d.MatchedRule)
		})
	}
}

func TestClassify_UPCAndSKUPrecedence(t *testing.T) {
	table := DefaultTableWithCodes(map[string]string{
		"012345678905": "alcohol",
		"SKU-BREAD-01": "bakery",
	})
	engine := NewEngine(table)

	// The UPC mapping wins over a caller-supplied eligible category.
	d := engine.Classify(domain.Item{UPC: "012345678905", Category: "groceries"})
	assert.False(t, d.Allowed)
	assert.Equal(t, "alcohol", d.Category)
	assert.Equal(t, RuleUPCMatch, d.MatchedRule)

	d = engine.Classify(domain.Item{SKU: "SKU-BREAD-01", Category: "alcohol"})
	assert.True(t, d.Allowed)
	assert.Equal(t, "bakery", d.Category)
	assert.Equal(t, RuleSKUMatch, d.MatchedRule)

	// Unmapped codes fall through to the category lookup.
	d = engine.Classify(domain.Item{UPC: "999999999999", Category: "dairy"})
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleCategoryAllowed, d.MatchedRule)
}

func TestClassifyBasket_WholeBasketAND(t *testing.T) {
	engine := NewEngine(nil)

	allowed, decisions := engine.ClassifyBasket([]domain.Item{
		{Category: "dairy"},
		{Category: "bakery"},
		{Category: "alcohol"},
	})
	require.Len(t, decisions, 3)
	assert.False(t, allowed, "one denied item must deny the whole basket")
	assert.True(t, decisions[0].Allowed)
	assert.True(t, decisions[1].Allowed)
	assert.False(t, decisions[2].Allowed)
}

func TestClassifyBasket_AllEligible(t *testing.T) {
	engine := NewEngine(nil)

	allowed, decisions := engine.ClassifyBasket([]domain.Item{
		{Category: "groceries"},
		{Category: "pharmacy"},
	})
	assert.True(t, allowed)
	assert.Len(t, decisions, 2)
}

func TestClassifyBasket_EmptyBasketNotAllowed(t *testing.T) {
	engine := NewEngine(nil)

	allowed, decisions := engine.ClassifyBasket(nil)
	assert.False(t, allowed)
	assert.Empty(t, decisions)
}

func TestRefresh_SwapsTableAtomically(t *testing.T) {
	engine := NewEngine(nil)

	d := engine.Classify(domain.Item{Category: "dairy"})
	require.True(t, d.Allowed)

	// A refreshed table that no longer lists dairy makes it unknown, and
	// unknown is denied.
	engine.Refresh(NewCategoryTable([]string{"bakery"}, nil, nil, nil))
	d = engine.Classify(domain.Item{Category: "dairy"})
	assert.False(t, d.Allowed)
	assert.Equal(t, RuleDefaultDeny, d.MatchedRule)

	// A nil refresh keeps the current table.
	engine.Refresh(nil)
	d = engine.Classify(domain.Item{Category: "bakery"})
	assert.True(t, d.Allowed)
}
