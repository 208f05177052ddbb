package upstream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/l0p7/recipectl/internal/recipe"
)

// ErrMalformedPayload reports a 2xx body without a usable hits array.
var ErrMalformedPayload = errors.New("upstream: malformed payload")

// DecodeHits extracts the "hits" array. Only a missing or non-array "hits" is
// malformed; each element is kept verbatim whatever its shape and the rest
// of the payload is ignored.
func DecodeHits(body []byte) ([]recipe.Hit, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPayload)
	}
	result := gjson.GetBytes(body, "hits")
	if !result.Exists() {
		return nil, fmt.Errorf("%w: hits missing", ErrMalformedPayload)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: hits is not an array", ErrMalformedPayload)
	}

	elements := result.Array()
	hits := make([]recipe.Hit, 0, len(elements))
	for i, element := range elements {
		var hit recipe.Hit
		if err := json.Unmarshal([]byte(element.Raw), &hit); err != nil {
			return nil, fmt.Errorf("%w: hit %d: %v", ErrMalformedPayload, i, err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
