package claims

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qri-io/jsonschema"
)

// Source identifies where a claims document comes from. Each source has its
// own set of reserved claims.
type Source int

const (
	SourceDefaults Source = iota
	SourceOverrides
	SourceCaller
)

func (s Source) String() string {
	switch s {
	case SourceDefaults:
		return "defaults"
	case SourceOverrides:
		return "overrides"
	case SourceCaller:
		return "claims"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Registered claims set by the issuer on every token.
var issuerClaims = []string{"iat", "exp", "nbf"}

// reserved lists the claims each source may not set.
var reserved = map[Source][]string{
	SourceDefaults:  {"exp", "iat", "iss", "nbf"},
	SourceOverrides: {"exp", "iat", "nbf"},
	SourceCaller:    {"aud", "exp", "iat", "iss", "jti", "nbf"},
}

// Reserved returns the claim names source may not set.
func Reserved(source Source) []string {
	return append([]string(nil), reserved[source]...)
}

// stringOrURI is the RFC 7519 StringOrURI type: any string without a colon,
// or an absolute URI.
var stringOrURI = fmt.Sprintf(`{
	"oneOf": [
		{ "type": "string", "pattern": "^[^:]*$" },
		{ "type": "string", "format": "uri", %q: true }
	]
}`, absoluteURIKeyword)

func policySchema(source Source) *jsonschema.RootSchema {
	props := map[string]string{
		"sub": `{ "$ref": "#/definitions/stringOrURI" }`,
	}
	if source != SourceCaller {
		props["aud"] = `{ "anyOf": [
			{ "$ref": "#/definitions/stringOrURI" },
			{ "type": "array", "items": { "$ref": "#/definitions/stringOrURI" } }
		] }`
	}
	if source == SourceOverrides {
		props["iss"] = `{ "$ref": "#/definitions/stringOrURI" }`
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]string, 0, len(names))
	for _, name := range names {
		entries = append(entries, fmt.Sprintf("%q: %s", name, props[name]))
	}

	forbidden := make([]string, 0, len(reserved[source]))
	for _, name := range reserved[source] {
		forbidden = append(forbidden, fmt.Sprintf("%q", name))
	}

	return jsonschema.Must(fmt.Sprintf(`{
		"type": "object",
		"properties": { %s },
		"propertyNames": { "not": { "enum": [%s] } },
		"definitions": { "stringOrURI": %s }
	}`, strings.Join(entries, ", "), strings.Join(forbidden, ", "), stringOrURI))
}

var policies = map[Source]*jsonschema.RootSchema{
	SourceDefaults:  policySchema(SourceDefaults),
	SourceOverrides: policySchema(SourceOverrides),
	SourceCaller:    policySchema(SourceCaller),
}

// CheckReserved validates doc against the policy of source and returns the
// violations sorted, or nil.
func CheckReserved(doc map[string]interface{}, source Source) []string {
	policy, ok := policies[source]
	if !ok {
		return []string{fmt.Sprintf("unknown claims source %s", source)}
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	msgs, err := validate(policy, doc)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", source, err)}
	}
	return msgs
}

// CheckSchema validates a role schema document against the draft-07
// meta-schema and makes sure it compiles.
func CheckSchema(schema Document) []string {
	if schema.IsBlank() {
		return nil
	}
	msgs, err := validateMeta(schema.String())
	if err != nil {
		return []string{fmt.Sprintf("schema: invalid JSON: %v", err)}
	}
	if len(msgs) > 0 {
		return msgs
	}
	if _, err := compileSchema(schema.String()); err != nil {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	return nil
}

// CheckRole runs the defaults and overrides policies and the schema checks
// and returns every violation sorted.
func CheckRole(defaults, overrides, schema Document) []string {
	var msgs []string
	msgs = append(msgs, CheckReserved(defaults.Claims(), SourceDefaults)...)
	msgs = append(msgs, CheckReserved(overrides.Claims(), SourceOverrides)...)
	msgs = append(msgs, CheckSchema(schema)...)
	sort.Strings(msgs)
	return msgs
}
