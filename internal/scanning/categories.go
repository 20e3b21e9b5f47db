package scanning

import "strings"

// CategoryGeneral is assigned when no keyword rule matches a product name.
const CategoryGeneral = "General"

type categoryRule struct {
	keywords []string
	category string
}

// categoryRules is the ordered fallback table used when the extraction
// service returns no category or a generic placeholder. Order matters: the
// first matching rule wins.
var categoryRules = []categoryRule{
	{[]string{"rice", "flour", "atta", "dal", "lentil", "besan", "poha", "wheat"}, "Grains & Pulses"},
	{[]string{"oil", "ghee", "butter"}, "Oils & Fats"},
	{[]string{"milk", "paneer", "curd", "yogurt", "cheese", "cream"}, "Dairy"},
	{[]string{"masala", "spice", "turmeric", "chilli", "chili powder", "coriander", "cumin", "cardamom"}, "Spices"},
	{[]string{"biscuit", "namkeen", "chips", "snack", "chocolate", "cookie"}, "Snacks"},
	{[]string{"tea", "coffee", "juice", "soda", "drink", "water bottle"}, "Beverages"},
	{[]string{"soap", "detergent", "shampoo", "cleaner", "toothpaste", "tissue"}, "Household"},
}

// genericCategories are placeholder values the extraction service emits when
// it cannot classify an item; they are treated the same as no category.
var genericCategories = map[string]bool{
	"":              true,
	"other":         true,
	"unknown":       true,
	"uncategorized": true,
}

// Categories returns the closed category vocabulary, in rule order, ending
// with the default. The extraction prompt constrains the service to this
// list.
func Categories() []string {
	out := make([]string, 0, len(categoryRules)+1)
	for _, rule := range categoryRules {
		out = append(out, rule.category)
	}
	return append(out, CategoryGeneral)
}

// InferCategory assigns a category from the product name by case-insensitive
// keyword matching against the rule table.
func InferCategory(productName string) string {
	name := strings.ToLower(productName)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

// isGenericCategory reports whether a category value should be replaced by
// the keyword fallback.
func isGenericCategory(category *string) bool {
	if category == nil {
		return true
	}
	return genericCategories[strings.ToLower(strings.TrimSpace(*category))]
}
