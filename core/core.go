package core

import (
	"context"
	"errors"
	"strings"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical"
)

// CoreConfig is used to build a Core.
type CoreConfig struct {
	// Physical is the storage every mount is carved out of.
	Physical physical.Storage

	// CacheSize bounds the read cache in front of Physical. Zero uses the
	// default size; DisableCache turns the cache off.
	CacheSize    int
	DisableCache bool

	// LogicalBackends maps backend types to their factories.
	LogicalBackends map[string]logical.Factory

	Logger      *logger.GatedLogger
	MetricsSink metrics.MetricSink
}

// Core owns the mounts of a server and dispatches requests to them.
type Core struct {
	physical  physical.Storage
	cache     physical.Cache
	router    *Router
	factories map[string]logical.Factory
	logger    *logger.GatedLogger
	sink      metrics.MetricSink
}

// NewCore builds a Core with no mounts.
func NewCore(conf *CoreConfig) (*Core, error) {
	if conf == nil || conf.Physical == nil {
		return nil, errors.New("core requires a physical storage")
	}

	log := conf.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithSystem("core")

	sink := conf.MetricsSink
	if sink == nil {
		sink = &metrics.BlackholeSink{}
	}

	c := &Core{
		physical:  conf.Physical,
		router:    NewRouter(log),
		factories: make(map[string]logical.Factory, len(conf.LogicalBackends)),
		logger:    log,
		sink:      sink,
	}
	for name, f := range conf.LogicalBackends {
		c.factories[name] = f
	}

	if !conf.DisableCache {
		c.cache = physical.NewCache(conf.Physical, conf.CacheSize, log.WithSubsystem("cache"), sink)
		c.cache.SetEnabled(true)
		c.physical = c.cache
	}

	return c, nil
}

// HandleRequest routes req to the mount its path falls under. req.Path
// is the path below /v1/, mount prefix included.
func (c *Core) HandleRequest(ctx context.Context, req *logical.Request) (*logical.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	re, relative, ok := c.router.Match(req.Path)
	if !ok {
		return nil, logical.ErrUnsupportedPath
	}

	req.MountPoint = re.mountEntry.Path
	req.MountType = re.mountEntry.Type
	req.Path = relative
	req.Storage = re.storage

	start := time.Now()
	resp, err := re.backend.HandleRequest(ctx, req)

	labels := []metrics.Label{
		{Name: "mount", Value: strings.TrimSuffix(re.mountEntry.Path, "/")},
		{Name: "operation", Value: string(req.Operation)},
	}
	c.sink.IncrCounterWithLabels([]string{"core", "handle_request"}, 1, labels)
	c.sink.AddSampleWithLabels([]string{"core", "handle_request", "duration_ms"},
		float32(time.Since(start).Milliseconds()), labels)

	if err != nil {
		c.logger.Error("request failed",
			logger.String("request_id", req.RequestID),
			logger.String("mount_path", re.mountEntry.Path),
			logger.String("path", relative),
			logger.String("operation", string(req.Operation)),
			logger.Err(err),
		)
	}
	return resp, err
}

// Shutdown unmounts every backend.
func (c *Core) Shutdown(ctx context.Context) {
	for _, entry := range c.router.Entries() {
		if re := c.router.Unmount(entry.Path); re != nil {
			re.backend.Cleanup(ctx)
		}
	}
	if c.cache != nil {
		c.cache.Purge(ctx)
	}
	c.logger.Info("core shut down")
}
