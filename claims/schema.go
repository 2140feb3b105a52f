package claims

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/qri-io/jsonschema"
	"github.com/xeipuuv/gojsonpointer"
)

//go:embed draft07.json
var draft07 string

// metaSchema checks that role schemas are well formed draft-07 documents.
var metaSchema = jsonschema.Must(draft07)

// absoluteURIKeyword is a schema keyword asserting that a string is an
// absolute URI without whitespace. It is registered before any schema of
// this package is parsed.
var absoluteURIKeyword = registerKeyword("absoluteURI", func() jsonschema.Validator {
	return new(absoluteURI)
})

func registerKeyword(name string, mk jsonschema.ValMaker) string {
	jsonschema.RegisterValidator(name, mk)
	return name
}

type absoluteURI bool

func (a absoluteURI) Validate(propPath string, data interface{}, errs *[]jsonschema.ValError) {
	s, ok := data.(string)
	if !ok || !bool(a) {
		return
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		jsonschema.AddError(errs, propPath, data, "invalid absolute uri")
	}
}

// compileSchema parses a role schema. Only local "$ref"s that resolve
// inside the document are accepted.
func compileSchema(raw string) (*jsonschema.RootSchema, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := checkRefs(doc, doc); err != nil {
		return nil, err
	}
	rs := &jsonschema.RootSchema{}
	if err := json.Unmarshal([]byte(raw), rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func checkRefs(root, node interface{}) error {
	switch n := node.(type) {
	case map[string]interface{}:
		if ref, ok := n["$ref"].(string); ok {
			if err := resolveRef(root, ref); err != nil {
				return err
			}
		}
		for _, v := range n {
			if err := checkRefs(root, v); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, v := range n {
			if err := checkRefs(root, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveRef(root interface{}, ref string) error {
	if !strings.HasPrefix(ref, "#") {
		return fmt.Errorf("unsupported $ref %q: only local references are allowed", ref)
	}
	ptr := strings.TrimPrefix(ref, "#")
	if ptr == "" {
		return nil
	}
	p, err := gojsonpointer.NewJsonPointer(ptr)
	if err != nil {
		return fmt.Errorf("invalid $ref %q: %w", ref, err)
	}
	target, _, err := p.Get(root)
	if err != nil {
		return fmt.Errorf("unresolvable $ref %q: %w", ref, err)
	}
	switch target.(type) {
	case map[string]interface{}, bool:
		return nil
	}
	return fmt.Errorf("$ref %q does not point to a schema", ref)
}

// validate runs rs over doc and returns the rendered violations sorted.
// doc is round-tripped through encoding/json so numbers reach the
// validator as float64.
func validate(rs *jsonschema.RootSchema, doc interface{}) ([]string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	errs, err := rs.ValidateBytes(raw)
	if err != nil {
		return nil, err
	}
	return errorStrings(errs), nil
}

func errorStrings(errs []jsonschema.ValError) []string {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	sort.Strings(msgs)
	return msgs
}

// validateMeta checks raw against the draft-07 meta-schema.
func validateMeta(raw string) ([]string, error) {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return nil, nil
	}
	errs, err := metaSchema.ValidateBytes([]byte(raw))
	if err != nil {
		return nil, err
	}
	return errorStrings(errs), nil
}
