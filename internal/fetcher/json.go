package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

// DecodeJSON decodes a response body already held in memory.
func DecodeJSON[T any](body []byte) (*T, error) {
	var obj T
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, eris.Wrap(err, "json: decode body")
	}
	return &obj, nil
}
