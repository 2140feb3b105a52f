package logical

import (
	"context"

	metrics "github.com/hashicorp/go-metrics/compat"
	sdklogical "github.com/openbao/openbao/sdk/v2/logical"

	"github.com/stephnangue/jwtsecrets/logger"
)

// Backend is the interface served by a mount.
type Backend interface {
	// HandleRequest processes a request routed to the mount. Client errors
	// are carried in the response; a non-nil error is an internal failure.
	HandleRequest(ctx context.Context, req *Request) (*Response, error)

	// Type returns the backend type string (e.g. "jwt").
	Type() string

	// Cleanup releases resources held by the backend.
	Cleanup(ctx context.Context)
}

// BackendConfig is provided to the factory to initialize the backend.
type BackendConfig struct {
	// StorageView is the storage scoped to the mount.
	StorageView sdklogical.Storage

	// Logger is the logger the backend should use, already scoped.
	Logger *logger.GatedLogger

	// Config is the mount configuration.
	Config map[string]string

	// MetricsSink receives the backend's metrics. May be nil.
	MetricsSink metrics.MetricSink
}

// Factory is the factory function to create a logical backend.
type Factory func(context.Context, *BackendConfig) (Backend, error)
