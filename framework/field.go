package framework

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
)

// FieldType is the type a path parameter is decoded to.
type FieldType uint

const (
	TypeInvalid FieldType = iota
	TypeString
	// TypeNameString is a URI safe name: alphanumeric at both ends, with
	// '.', '-' or '_' allowed in between.
	TypeNameString
	TypeInt
	TypeBool
	// TypeDurationSecond accepts seconds or a duration string such as
	// "24h" and decodes to whole seconds as an int.
	TypeDurationSecond
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNameString:
		return "name string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeDurationSecond:
		return "duration (sec)"
	default:
		return "unknown type"
	}
}

func (t FieldType) zero() interface{} {
	switch t {
	case TypeString, TypeNameString:
		return ""
	case TypeInt, TypeDurationSecond:
		return 0
	case TypeBool:
		return false
	default:
		panic("framework: unknown field type " + t.String())
	}
}

var nameRe = regexp.MustCompile(`^\w(([\w-.]+)?\w)?$`)

// decode converts raw to the Go value of t.
func (t FieldType) decode(raw interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		var s string
		err := mapstructure.WeakDecode(raw, &s)
		return s, err
	case TypeNameString:
		var s string
		if err := mapstructure.WeakDecode(raw, &s); err != nil {
			return nil, err
		}
		if !nameRe.MatchString(s) {
			return nil, errors.New("field does not match the formatting rules")
		}
		return s, nil
	case TypeInt:
		var n int
		err := mapstructure.WeakDecode(raw, &n)
		return n, err
	case TypeBool:
		var b bool
		err := mapstructure.WeakDecode(raw, &b)
		return b, err
	case TypeDurationSecond:
		d, err := parseutil.ParseDurationSecond(raw)
		if err != nil {
			return nil, err
		}
		secs := int(d.Seconds())
		if secs < 0 {
			return nil, fmt.Errorf("cannot provide negative value '%d'", secs)
		}
		return secs, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}

// FieldSchema describes one parameter of a path.
type FieldSchema struct {
	Type        FieldType
	Default     interface{}
	Description string
	Required    bool
}

// DefaultOrZero returns the decoded default, or the zero value of the type.
func (s *FieldSchema) DefaultOrZero() interface{} {
	if s.Default != nil {
		if v, err := s.Type.decode(s.Default); err == nil {
			return v
		}
	}
	return s.Type.zero()
}

// FieldData gives typed access to the parameters of a request.
type FieldData struct {
	Raw    map[string]interface{}
	Schema map[string]*FieldSchema
}

// Validate checks that every known parameter decodes to its type. Unknown
// parameters are left alone.
func (d *FieldData) Validate() error {
	names := make([]string, 0, len(d.Raw))
	for name := range d.Raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, _, err := d.GetOkErr(name); err != nil {
			if _, known := d.Schema[name]; !known {
				continue
			}
			return fmt.Errorf("error converting input for field %q: %w", name, err)
		}
	}
	return nil
}

// GetOkErr returns the decoded value of name and whether it was set.
func (d *FieldData) GetOkErr(name string) (interface{}, bool, error) {
	s, ok := d.Schema[name]
	if !ok {
		return nil, false, fmt.Errorf("unknown field: %q", name)
	}
	raw, set := d.Raw[name]
	if !set {
		return nil, false, nil
	}
	if raw == nil {
		return s.DefaultOrZero(), true, nil
	}
	v, err := s.Type.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetOk is GetOkErr for values already checked by Validate. It panics on
// a decoding error.
func (d *FieldData) GetOk(name string) (interface{}, bool) {
	if _, ok := d.Schema[name]; !ok {
		return nil, false
	}
	v, ok, err := d.GetOkErr(name)
	if err != nil {
		panic(fmt.Sprintf("error reading %s: %s", name, err))
	}
	return v, ok
}

// Get returns the value of name, its default, or the zero value. It panics
// when name is not in the schema.
func (d *FieldData) Get(name string) interface{} {
	s, ok := d.Schema[name]
	if !ok {
		panic(fmt.Sprintf("field %s not in the schema", name))
	}
	if v, ok := d.GetOk(name); ok {
		return v
	}
	return s.DefaultOrZero()
}
