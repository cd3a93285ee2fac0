package domain

import (
	"strconv"
	"strings"
)

// PageCategory is the semantic bucket a clicked link belongs to.
type PageCategory string

const (
	CategoryOrganic     PageCategory = "organic"
	CategorySitelink    PageCategory = "sitelink"
	CategoryOverviewRef PageCategory = "overview_ref"
	CategoryAIModeRef   PageCategory = "aimode_ref"
	CategoryTab         PageCategory = "tab"
	CategoryRelated     PageCategory = "related"
	CategoryOther       PageCategory = "other"
)

var componentCategories = map[string]PageCategory{
	"SearchResults":           CategoryOrganic,
	"SearchResults-Sitelinks": CategorySitelink,
	"AiOverview-References":   CategoryOverviewRef,
	"AIMode":                  CategoryAIModeRef,
	"AiMode-Sidebar":          CategoryAIModeRef,
	"AiMode-References":       CategoryAIModeRef,
	"SearchTabs":              CategoryTab,
	"PeopleAlsoSearch":        CategoryRelated,
	"RelatedSearches":         CategoryRelated,
}

// Classification is the result of classifying a UI component name.
type Classification struct {
	Category PageCategory
	IsAd     bool
}

// Classify maps a component name to its page category. Sponsored components
// ("Sponsored*" or "*-Ad") count as organic results flagged as ads.
func Classify(componentName string) Classification {
	if strings.HasPrefix(componentName, "Sponsored") || strings.HasSuffix(componentName, "-Ad") {
		return Classification{Category: CategoryOrganic, IsAd: true}
	}
	if c, ok := componentCategories[componentName]; ok {
		return Classification{Category: c}
	}
	return Classification{Category: CategoryOther}
}

// PageID returns the category-scoped id for a zero-based link index, e.g. organic_1.
func (c Classification) PageID(linkIndex int) string {
	return string(c.Category) + "_" + strconv.Itoa(linkIndex+1)
}

// FromOverview reports whether the link is an AI overview reference.
func (c Classification) FromOverview() bool {
	return c.Category == CategoryOverviewRef
}

// FromAIMode reports whether the link is an AI mode reference.
func (c Classification) FromAIMode() bool {
	return c.Category == CategoryAIModeRef
}
