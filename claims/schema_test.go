package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		want   []string
	}{
		{"blank", ``, nil},
		{"valid", `{"type":"object","required":["team"],"properties":{"team":{"type":"string","minLength":1}}}`, nil},
		{"bad type", `{"type":"xyz"}`, []string{`/type: "xyz" did Not match any specified AnyOf schemas`}},
		{"negative minLength", `{"minLength":-1}`, []string{`/minLength: -1 must be greater than or equal to 0.000000`}},
		{"remote ref", `{"$ref":"other.json#/a"}`, []string{`schema: unsupported $ref "other.json#/a": only local references are allowed`}},
		{"missing definition", `{"$ref":"#/definitions/team"}`, []string{`schema: unresolvable $ref "#/definitions/team": Object has no key 'definitions'`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckSchema(MustParseDocument(tt.schema)))
		})
	}
}

func TestCompileSchema_LocalRefs(t *testing.T) {
	rs, err := compileSchema(`{
		"definitions": {"team": {"type": "string", "enum": ["core", "ops"]}},
		"properties": {"team": {"$ref": "#/definitions/team"}}
	}`)
	require.NoError(t, err)

	msgs, err := validate(rs, map[string]interface{}{"team": "core"})
	require.NoError(t, err)
	assert.Nil(t, msgs)

	msgs, err = validate(rs, map[string]interface{}{"team": "qa"})
	require.NoError(t, err)
	assert.Equal(t, []string{`/team: "qa" should be one of ["core", "ops"]`}, msgs)

	_, err = compileSchema(`{`)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestValidate_Numbers(t *testing.T) {
	rs, err := compileSchema(`{"properties":{"level":{"type":"integer","minimum":1}}}`)
	require.NoError(t, err)

	msgs, err := validate(rs, MustParseDocument(`{"level": 3}`).Claims())
	require.NoError(t, err)
	assert.Nil(t, msgs)

	msgs, err = validate(rs, MustParseDocument(`{"level": 0}`).Claims())
	require.NoError(t, err)
	assert.Equal(t, []string{`/level: 0 must be greater than or equal to 1.000000`}, msgs)
}

func TestAbsoluteURI(t *testing.T) {
	rs, err := compileSchema(`{"properties":{"u":{"absoluteURI":true}}}`)
	require.NoError(t, err)

	for _, ok := range []string{"https://example.com/a", "urn:example:a", "mailto:a@example.com"} {
		msgs, err := validate(rs, map[string]interface{}{"u": ok})
		require.NoError(t, err)
		assert.Nil(t, msgs, ok)
	}
	for _, bad := range []string{"a:b c", "/relative/path", "%zz:x"} {
		msgs, err := validate(rs, map[string]interface{}{"u": bad})
		require.NoError(t, err)
		assert.Len(t, msgs, 1, bad)
	}

	msgs, err := validate(rs, map[string]interface{}{"u": 7})
	require.NoError(t, err)
	assert.Nil(t, msgs)
}
