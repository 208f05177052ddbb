package recipe

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHit = `{"recipe":{"uri":"http://www.edamam.com/ontologies/edamam.owl#recipe_1","label":"Pasta","image":"https://img/pasta.jpg","source":"Kitchen","calories":1234.6,"yield":4,"ingredientLines":["pasta","salt"]},"_links":{"self":{"href":"https://api/1"}}}`

func TestHitPreservesUpstreamPayload(t *testing.T) {
	var hit Hit
	require.NoError(t, json.Unmarshal([]byte(sampleHit), &hit))
	require.Equal(t, "Pasta", hit.Recipe.Label)
	require.Equal(t, "http://www.edamam.com/ontologies/edamam.owl#recipe_1", hit.Recipe.URI)

	out, err := json.Marshal(hit)
	require.NoError(t, err)
	require.Equal(t, sampleHit, string(out))

	recipeOut, err := json.Marshal(hit.Recipe)
	require.NoError(t, err)
	require.Contains(t, string(recipeOut), "ingredientLines")
}

func TestHitWithoutRecipeKeepsPayload(t *testing.T) {
	var hit Hit
	require.NoError(t, json.Unmarshal([]byte(`{"_links":{}}`), &hit))
	require.Empty(t, hit.Recipe.URI)

	out, err := json.Marshal(hit)
	require.NoError(t, err)
	require.Equal(t, `{"_links":{}}`, string(out))
}

func TestRecipeFieldTypeMismatchStaysZero(t *testing.T) {
	payload := `{"uri":"u1","label":{"en":"Soup"},"yield":"4 servings","calories":120.4,"image":7}`
	var r Recipe
	require.NoError(t, json.Unmarshal([]byte(payload), &r))
	require.Equal(t, "u1", r.URI)
	require.Empty(t, r.Label)
	require.Empty(t, r.Image)
	require.Zero(t, r.Yield)
	require.InDelta(t, 120.4, r.Calories, 0.001)
	require.Zero(t, r.CaloriesPerServing())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	require.Equal(t, payload, string(out))
}

func TestRecipeFieldsAreReadOnlyView(t *testing.T) {
	var r Recipe
	require.NoError(t, json.Unmarshal([]byte(`{"uri":"u1","label":"Soup"}`), &r))
	r.Label = "Stew"

	out, err := json.Marshal(r)
	require.NoError(t, err)
	require.JSONEq(t, `{"uri":"u1","label":"Soup"}`, string(out))
}

func TestRecipeRejectsNonObject(t *testing.T) {
	var r Recipe
	require.Error(t, json.Unmarshal([]byte(`"nope"`), &r))
}

func TestRecipeMarshalWithoutRaw(t *testing.T) {
	out, err := json.Marshal(Recipe{URI: "u1", Label: "Soup"})
	require.NoError(t, err)
	require.JSONEq(t, `{"uri":"u1","label":"Soup"}`, string(out))
}

func TestCaloriesPerServing(t *testing.T) {
	require.Equal(t, 309, Recipe{Calories: 1234.6, Yield: 4}.CaloriesPerServing())
	require.Equal(t, 0, Recipe{Calories: 100}.CaloriesPerServing())
}

func TestFilterSetFromMap(t *testing.T) {
	fs, err := FilterSetFromMap(map[string]string{"health": " vegan ", "diet": "low-fat", "cuisineType": "Italian"})
	require.NoError(t, err)
	require.Equal(t, FilterSet{Diet: "low-fat", Health: "vegan", Cuisine: "Italian"}, fs)

	_, err = FilterSetFromMap(map[string]string{"color": "red"})
	require.Error(t, err)
}

func TestFilterSetEncode(t *testing.T) {
	values := url.Values{}
	FilterSet{Diet: "balanced", Cuisine: "South East Asian", MealType: ""}.Encode(values)
	require.Equal(t, "balanced", values.Get("diet"))
	require.Equal(t, "South East Asian", values.Get("cuisineType"))
	require.False(t, values.Has("mealType"))
	require.False(t, values.Has("health"))
}

func TestFilterSetActive(t *testing.T) {
	require.Empty(t, FilterSet{}.Active())
	require.True(t, FilterSet{Diet: "  "}.IsZero())
	require.Equal(t, [][2]string{{"health", "vegan"}, {"mealType", "Dinner"}}, FilterSet{MealType: "Dinner", Health: "vegan"}.Active())
}

func TestNormalizeQuery(t *testing.T) {
	require.Equal(t, "chicken curry", NormalizeQuery("  Chicken \t  CURRY "))
	require.Equal(t, "", NormalizeQuery("   "))
}
