package recipe

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Filter names accepted from callers.
const (
	FilterDiet     = "diet"
	FilterHealth   = "health"
	FilterCuisine  = "cuisine"
	FilterMealType = "mealType"
)

// FilterSet is the fixed-schema set of optional search refinements. An empty
// value means the filter is not applied. Two sets are equal iff all four
// values match, so FilterSet is comparable with ==.
type FilterSet struct {
	Diet     string `json:"diet,omitempty"`
	Health   string `json:"health,omitempty"`
	Cuisine  string `json:"cuisine,omitempty"`
	MealType string `json:"mealType,omitempty"`
}

// FilterSetFromMap builds a FilterSet from loosely keyed input such as query
// strings. "cuisineType" is accepted as an alias of "cuisine".
func FilterSetFromMap(in map[string]string) (FilterSet, error) {
	var fs FilterSet
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := strings.TrimSpace(in[name])
		switch name {
		case FilterDiet:
			fs.Diet = value
		case FilterHealth:
			fs.Health = value
		case FilterCuisine, "cuisineType":
			fs.Cuisine = value
		case FilterMealType:
			fs.MealType = value
		default:
			return FilterSet{}, fmt.Errorf("recipe: unknown filter %q", name)
		}
	}
	return fs, nil
}

// Normalize trims every value.
func (f FilterSet) Normalize() FilterSet {
	return FilterSet{
		Diet:     strings.TrimSpace(f.Diet),
		Health:   strings.TrimSpace(f.Health),
		Cuisine:  strings.TrimSpace(f.Cuisine),
		MealType: strings.TrimSpace(f.MealType),
	}
}

// IsZero reports whether no filter is applied.
func (f FilterSet) IsZero() bool {
	return f.Normalize() == FilterSet{}
}

// Active lists applied filters in a fixed order as name/value pairs.
func (f FilterSet) Active() [][2]string {
	n := f.Normalize()
	var out [][2]string
	for _, pair := range [][2]string{
		{FilterDiet, n.Diet},
		{FilterHealth, n.Health},
		{FilterCuisine, n.Cuisine},
		{FilterMealType, n.MealType},
	} {
		if pair[1] != "" {
			out = append(out, pair)
		}
	}
	return out
}

// Encode adds the applied filters to upstream query parameters. Cuisine is
// sent as cuisineType; empty values are omitted.
func (f FilterSet) Encode(values url.Values) {
	n := f.Normalize()
	if n.Diet != "" {
		values.Set("diet", n.Diet)
	}
	if n.Health != "" {
		values.Set("health", n.Health)
	}
	if n.Cuisine != "" {
		values.Set("cuisineType", n.Cuisine)
	}
	if n.MealType != "" {
		values.Set("mealType", n.MealType)
	}
}

// NormalizeQuery trims, collapses inner whitespace, and lower-cases a search
// term so equivalent searches share a cache entry.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
