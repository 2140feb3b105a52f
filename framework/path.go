package framework

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stephnangue/jwtsecrets/logical"
)

// GenericNameRegex returns a named capture matching a URI safe name.
func GenericNameRegex(name string) string {
	return fmt.Sprintf(`(?P<%s>\w(([\w-.]+)?\w)?)`, name)
}

// PathAppend flattens groups of paths into one list.
func PathAppend(groups ...[]*Path) []*Path {
	var out []*Path
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Path is one route of a backend. Pattern is a regular expression that is
// anchored on both ends; its named captures are exposed as fields.
type Path struct {
	Pattern    string
	Fields     map[string]*FieldSchema
	Operations map[logical.Operation]OperationHandler

	HelpSynopsis    string
	HelpDescription string

	// TakesArbitraryInput disables the unknown parameter warning.
	TakesArbitraryInput bool
}

// OperationHandler is the handler registered for one operation.
type OperationHandler interface {
	Handler() OperationFunc
}

// PathOperation is the usual OperationHandler.
type PathOperation struct {
	Callback OperationFunc
	Summary  string
}

func (p *PathOperation) Handler() OperationFunc {
	return p.Callback
}

// handler returns the callback for op. Help falls back to the generated
// path help.
func (p *Path) handler(op logical.Operation) OperationFunc {
	if h, ok := p.Operations[op]; ok {
		if fn := h.Handler(); fn != nil {
			return fn
		}
	}
	if op == logical.HelpOperation {
		return p.help
	}
	return nil
}

// collect merges the request body with the captures of the path. It
// reports the body keys unknown to the schema and the keys overwritten
// by a capture.
func (p *Path) collect(data map[string]interface{}, captures map[string]string) (map[string]interface{}, []string, []string) {
	raw := make(map[string]interface{}, len(data)+len(captures))
	var ignored, replaced []string
	for k, v := range data {
		raw[k] = v
		if _, known := p.Fields[k]; !known && !p.TakesArbitraryInput {
			ignored = append(ignored, k)
		}
	}
	for k, v := range captures {
		if raw[k] != nil {
			replaced = append(replaced, k)
		}
		raw[k] = v
	}
	sort.Strings(ignored)
	sort.Strings(replaced)
	return raw, ignored, replaced
}

func (p *Path) help(_ context.Context, req *logical.Request, _ *FieldData) (*logical.Response, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Request:        %s\n", req.Path)
	fmt.Fprintf(&sb, "Matching Route: %s\n\n", p.Pattern)
	sb.WriteString(orPlaceholder(p.HelpSynopsis, "<no synopsis>"))
	sb.WriteString("\n\n")

	if len(p.Fields) > 0 {
		names := make([]string, 0, len(p.Fields))
		for name := range p.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		sb.WriteString("## PARAMETERS\n\n")
		for _, name := range names {
			f := p.Fields[name]
			writeIndented(&sb, 4, fmt.Sprintf("%s (%s)", name, f.Type))
			writeIndented(&sb, 8, orPlaceholder(f.Description, "<no description>"))
			sb.WriteString("\n")
		}
	}

	if len(p.Operations) > 0 {
		ops := make([]string, 0, len(p.Operations))
		for op := range p.Operations {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)

		sb.WriteString("## OPERATIONS\n\n")
		for _, op := range ops {
			line := op
			if po, ok := p.Operations[logical.Operation(op)].(*PathOperation); ok && po.Summary != "" {
				line = fmt.Sprintf("%-8s %s", op, po.Summary)
			}
			writeIndented(&sb, 4, line)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## DESCRIPTION\n\n")
	sb.WriteString(orPlaceholder(p.HelpDescription, "<no description>"))
	sb.WriteString("\n")
	return helpResponse(sb.String()), nil
}

func orPlaceholder(s, placeholder string) string {
	if s = strings.TrimSpace(s); s == "" {
		return placeholder
	}
	return s
}

// writeIndented writes s with every non-empty line indented.
func writeIndented(sb *strings.Builder, spaces int, s string) {
	prefix := strings.Repeat(" ", spaces)
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			sb.WriteString(prefix)
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}
}

func helpResponse(text string) *logical.Response {
	return &logical.Response{Data: map[string]interface{}{"help": text}}
}
