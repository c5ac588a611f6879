package policy

// Default category sets for the eligibility policy. Mirrors the catalog
// collaborator's baseline classification; a live deployment refreshes the
// table out-of-band through a catalog source.

// defaultAllowedCategories are eligible for spend (food and pharmacy).
var defaultAllowedCategories = []string{
	// Food & groceries
	"groceries",
	"food",
	"fresh_produce",
	"produce",
	"meat",
	"dairy",
	"bakery",
	"frozen_food",
	"canned_goods",
	"beverages_non_alcoholic",
	"snacks",
	"cereal",
	"pasta",
	"rice",
	"bread",
	"seafood",

	// Pharmacy & health
	"pharmacy",
	"prescription",
	"prescriptions",
	"over_the_counter",
	"vitamins",
	"health_supplements",
	"medical_supplies",
	"baby_formula",
	"baby_food",
}

// defaultDisallowedCategories are explicitly ineligible. Anything not in
// either set is unknown and denied by default.
var defaultDisallowedCategories = []string{
	// Alcohol & tobacco
	"alcohol",
	"beer",
	"wine",
	"liquor",
	"tobacco",
	"cigarettes",
	"cigars",
	"vaping",
	"smoking_products",

	// Hot prepared foods
	"hot_food",
	"hot_prepared_food",
	"prepared_food",
	"deli_hot",
	"restaurant",
	"fast_food",

	// General merchandise
	"general_merchandise",
	"non_food",
	"household",
	"cleaning_supplies",
	"paper_products",
	"pet_food", // some states allow; default deny
	"cosmetics",
	"clothing",
	"electronics",
	"appliances",
}

// defaultNamePatterns classify unlabelled items by product-name substring.
// Only disallowed categories are pattern-matched; a pattern never makes an
// item eligible.
var defaultNamePatterns = map[string][]string{
	"alcohol":  {"beer", "wine", "liquor", "spirits", "alcohol"},
	"tobacco":  {"cigarette", "cigar", "tobacco", "smoking"},
	"hot_food": {"hot ", "prepared", "ready_to_eat"},
}

// DefaultTable builds the baseline category table with no UPC/SKU mappings.
func DefaultTable() *CategoryTable {
	return NewCategoryTable(defaultAllowedCategories, defaultDisallowedCategories, nil, defaultNamePatterns)
}

// DefaultTableWithCodes builds the baseline table plus a UPC/SKU mapping
// supplied by the catalog collaborator.
func DefaultTableWithCodes(codeCategory map[string]string) *CategoryTable {
	return NewCategoryTable(defaultAllowedCategories, defaultDisallowedCategories, codeCategory, defaultNamePatterns)
}
