package claims

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/copystructure"
	"github.com/openbao/openbao/sdk/v2/helper/jsonutil"
)

// ErrNotObject is returned when a claims document is valid JSON but not an
// object.
var ErrNotObject = errors.New("must be a JSON object")

// Document is a claims document as supplied by a client. The raw text is
// kept verbatim so that it reads back exactly as written.
type Document struct {
	raw    string
	parsed map[string]interface{}
}

// ParseDocument parses raw as a JSON object. Blank input yields an empty
// document.
func ParseDocument(raw string) (Document, error) {
	if strings.TrimSpace(raw) == "" {
		return Document{raw: raw}, nil
	}

	var v interface{}
	if err := jsonutil.DecodeJSON([]byte(raw), &v); err != nil {
		return Document{}, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return Document{}, ErrNotObject
	}
	return Document{raw: raw, parsed: obj}, nil
}

// MustParseDocument is like ParseDocument but panics on error.
func MustParseDocument(raw string) Document {
	d, err := ParseDocument(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the raw text.
func (d Document) String() string {
	return d.raw
}

// IsEmpty reports whether the document holds no claims.
func (d Document) IsEmpty() bool {
	return len(d.parsed) == 0
}

// IsBlank reports whether the raw text is blank.
func (d Document) IsBlank() bool {
	return strings.TrimSpace(d.raw) == ""
}

// Claims returns a deep copy of the parsed claims. The result is never nil.
func (d Document) Claims() map[string]interface{} {
	if len(d.parsed) == 0 {
		return map[string]interface{}{}
	}
	return deepCopy(d.parsed)
}

// MarshalJSON encodes the document as a JSON string holding the raw text.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON.
func (d *Document) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseDocument(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	out, err := copystructure.Copy(m)
	if err != nil {
		// Decoded JSON only holds copyable values.
		panic(fmt.Sprintf("claims: copy failed: %v", err))
	}
	return out.(map[string]interface{})
}
