// Package recipe holds the payload types exchanged with the upstream recipe
// API. Payloads are treated as opaque: decoding keeps the original JSON and
// marshaling re-emits it unchanged.
package recipe

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/tidwall/gjson"
)

// Recipe is a single upstream recipe object. The exported fields are a
// read-only view decoded from the upstream JSON: a Recipe decoded from JSON
// marshals back to that JSON byte-for-byte, so edits to the fields are not
// persisted. Only recipes built in code marshal from their fields.
type Recipe struct {
	URI      string  `json:"uri"`
	Label    string  `json:"label"`
	Image    string  `json:"image,omitempty"`
	Source   string  `json:"source,omitempty"`
	URL      string  `json:"url,omitempty"`
	Calories float64 `json:"calories,omitempty"`
	Yield    float64 `json:"yield,omitempty"`

	raw json.RawMessage
}

type recipeFields struct {
	URI      string  `json:"uri"`
	Label    string  `json:"label"`
	Image    string  `json:"image,omitempty"`
	Source   string  `json:"source,omitempty"`
	URL      string  `json:"url,omitempty"`
	Calories float64 `json:"calories,omitempty"`
	Yield    float64 `json:"yield,omitempty"`
}

// UnmarshalJSON accepts any JSON object. Convenience fields whose upstream
// type does not match stay zero.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !gjson.ValidBytes(trimmed) {
		return errors.New("recipe: payload must be a JSON object")
	}
	*r = decodeRecipe(trimmed)
	return nil
}

func decodeRecipe(object []byte) Recipe {
	raw := cloneRaw(object)
	doc := gjson.ParseBytes(raw)
	return Recipe{
		URI:      stringField(doc, "uri"),
		Label:    stringField(doc, "label"),
		Image:    stringField(doc, "image"),
		Source:   stringField(doc, "source"),
		URL:      stringField(doc, "url"),
		Calories: numberField(doc, "calories"),
		Yield:    numberField(doc, "yield"),
		raw:      raw,
	}
}

func stringField(doc gjson.Result, name string) string {
	if v := doc.Get(name); v.Type == gjson.String {
		return v.Str
	}
	return ""
}

func numberField(doc gjson.Result, name string) float64 {
	if v := doc.Get(name); v.Type == gjson.Number {
		return v.Num
	}
	return 0
}

func cloneRaw(in []byte) json.RawMessage {
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}

func (r Recipe) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	return json.Marshal(recipeFields{
		URI:      r.URI,
		Label:    r.Label,
		Image:    r.Image,
		Source:   r.Source,
		URL:      r.URL,
		Calories: r.Calories,
		Yield:    r.Yield,
	})
}

// Raw returns the upstream JSON for the recipe, or nil for recipes built in
// code.
func (r Recipe) Raw() json.RawMessage { return r.raw }

// CaloriesPerServing rounds total calories before dividing by the yield.
func (r Recipe) CaloriesPerServing() int {
	if r.Yield <= 0 {
		return 0
	}
	return int(math.Round(math.Round(r.Calories) / r.Yield))
}

// Hit is one element of the upstream "hits" array. The element is kept
// verbatim whatever its shape; Recipe is filled only when the element
// carries a "recipe" object.
type Hit struct {
	Recipe Recipe

	raw json.RawMessage
}

func (h *Hit) UnmarshalJSON(data []byte) error {
	raw := cloneRaw(bytes.TrimSpace(data))
	hit := Hit{raw: raw}
	if inner := gjson.GetBytes(raw, "recipe"); inner.IsObject() {
		hit.Recipe = decodeRecipe([]byte(inner.Raw))
	}
	*h = hit
	return nil
}

func (h Hit) MarshalJSON() ([]byte, error) {
	if len(h.raw) > 0 {
		return h.raw, nil
	}
	return json.Marshal(struct {
		Recipe Recipe `json:"recipe"`
	}{Recipe: h.Recipe})
}

// Recipes projects hits onto their recipe payloads.
func Recipes(hits []Hit) []Recipe {
	out := make([]Recipe, 0, len(hits))
	for _, hit := range hits {
		out = append(out, hit.Recipe)
	}
	return out
}
