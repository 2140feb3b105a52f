// Package framework routes logical requests of a mount to path handlers
// with typed, schema-checked parameters.
package framework

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
)

// OperationFunc handles one operation on a matched path.
type OperationFunc func(context.Context, *logical.Request, *FieldData) (*logical.Response, error)

// CleanupFunc runs when the backend is unmounted.
type CleanupFunc func(context.Context)

// InitializeFunc runs once the backend is mounted.
type InitializeFunc func(context.Context) error

// Backend implements logical.Backend on top of a list of Paths.
type Backend struct {
	Help           string
	Paths          []*Path
	InitializeFunc InitializeFunc
	Clean          CleanupFunc
	BackendType    string

	config map[string]string
	logger *logger.GatedLogger

	compileOnce sync.Once
	routes      []route
}

var _ logical.Backend = (*Backend)(nil)

// route is a Path with its anchored, compiled pattern.
type route struct {
	path *Path
	re   *regexp.Regexp
}

// match returns the named captures of p when the route matches it.
func (r route) match(p string) (map[string]string, bool) {
	m := r.re.FindStringSubmatch(p)
	if m == nil {
		return nil, false
	}
	captures := map[string]string{}
	for i, name := range r.re.SubexpNames() {
		if i > 0 && name != "" {
			captures[name] = m[i]
		}
	}
	return captures, true
}

// patterns shared between mounts of the same backend type compile once.
var compiled sync.Map

func anchored(pattern string) string {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern += "$"
	}
	return pattern
}

func (b *Backend) compile() {
	b.routes = make([]route, 0, len(b.Paths))
	for _, p := range b.Paths {
		if p.Pattern == "" {
			panic("framework: empty path pattern")
		}
		p.Pattern = anchored(p.Pattern)
		re, ok := compiled.Load(p.Pattern)
		if !ok {
			re, _ = compiled.LoadOrStore(p.Pattern, regexp.MustCompile(p.Pattern))
		}
		b.routes = append(b.routes, route{path: p, re: re.(*regexp.Regexp)})
	}
}

func (b *Backend) lookup(p string) (*Path, map[string]string) {
	b.compileOnce.Do(b.compile)
	for _, r := range b.routes {
		if captures, ok := r.match(p); ok {
			return r.path, captures
		}
	}
	return nil, nil
}

// Route returns the path that serves p, or nil.
func (b *Backend) Route(p string) *Path {
	path, _ := b.lookup(p)
	return path
}

// HandleRequest dispatches req to the handler of the matching path.
func (b *Backend) HandleRequest(ctx context.Context, req *logical.Request) (*logical.Response, error) {
	if req.Path == "" && req.Operation == logical.HelpOperation {
		return b.rootHelp()
	}

	path, captures := b.lookup(req.Path)
	if path == nil {
		return nil, logical.ErrUnsupportedPath
	}

	handler := path.handler(req.Operation)
	if handler == nil {
		return nil, logical.ErrUnsupportedOperation
	}

	raw, ignored, replaced := path.collect(req.Data, captures)
	fd := &FieldData{Raw: raw, Schema: path.Fields}
	if req.Operation != logical.HelpOperation {
		if err := fd.Validate(); err != nil {
			return logical.ErrorResponse(logical.ErrBadRequestf("field validation failed: %s", err)), nil
		}
	}

	resp, err := handler(ctx, req, fd)
	if err != nil || resp == nil {
		return resp, err
	}
	if len(ignored) > 0 {
		resp.AddWarning(fmt.Sprintf("Endpoint ignored these unrecognized parameters: %v", ignored))
	}
	if len(replaced) > 0 {
		resp.AddWarning(fmt.Sprintf("Endpoint replaced the value of these parameters with the values captured from the endpoint's path: %v", replaced))
	}
	return resp, nil
}

func (b *Backend) rootHelp() (*logical.Response, error) {
	b.compileOnce.Do(b.compile)

	routes := make([]route, len(b.routes))
	copy(routes, b.routes)
	sort.Slice(routes, func(i, j int) bool { return routes[i].path.Pattern < routes[j].path.Pattern })

	var sb strings.Builder
	sb.WriteString("## DESCRIPTION\n\n")
	sb.WriteString(strings.TrimSpace(b.Help))
	sb.WriteString("\n\n## PATHS\n\n")
	sb.WriteString("Request help on any path matching one of these patterns for details.\n\n")
	for _, r := range routes {
		writeIndented(&sb, 4, r.path.Pattern)
		writeIndented(&sb, 8, strings.TrimSpace(r.path.HelpSynopsis))
		sb.WriteString("\n")
	}
	return helpResponse(sb.String()), nil
}

// Initialize implements logical.Backend.
func (b *Backend) Initialize(ctx context.Context) error {
	if b.InitializeFunc == nil {
		return nil
	}
	return b.InitializeFunc(ctx)
}

// Cleanup implements logical.Backend.
func (b *Backend) Cleanup(ctx context.Context) {
	if b.Clean != nil {
		b.Clean(ctx)
	}
}

// Setup stores the mount configuration and logger.
func (b *Backend) Setup(_ context.Context, conf *logical.BackendConfig) error {
	b.config = conf.Config
	b.logger = conf.Logger
	return nil
}

func (b *Backend) Config() map[string]string { return b.config }

func (b *Backend) Logger() *logger.GatedLogger { return b.logger }

func (b *Backend) Type() string { return b.BackendType }
