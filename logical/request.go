package logical

import (
	"net/http"

	sdklogical "github.com/openbao/openbao/sdk/v2/logical"
)

// Operation is an enum that is used to specify the type
// of request being made
type Operation string

const (
	CreateOperation Operation = "create"
	ReadOperation   Operation = "read"
	UpdateOperation Operation = "update"
	DeleteOperation Operation = "delete"
	ListOperation   Operation = "list"
	HelpOperation   Operation = "help"
)

// Request is a struct that stores the some parameters and context of a request
// being made to a mount. It is used to abstract the details of the higher level
// request protocol from the handlers.
type Request struct {
	// Operation is the requested operation type
	Operation Operation `json:"operation" structs:"operation" mapstructure:"operation"`

	// Request data is an opaque map that must have string keys.
	Data map[string]any `json:"map" structs:"data" mapstructure:"data"`

	// Path is the path of the request relative to the mount point
	Path string `json:"path" structs:"path" mapstructure:"path"`

	// MountPoint is provided so that a logical backend can generate
	// paths relative to itself. The `Path` is effectively the client
	// request path with the MountPoint trimmed off.
	MountPoint string `json:"mount_point" structs:"mount_point" mapstructure:"mount_point"`

	// MountType is the type of the backend serving the mount.
	MountType string `json:"mount_type" structs:"mount_type" mapstructure:"mount_type"`

	// Storage is the storage view of the mount. Handlers should prefer it
	// over any storage captured at construction time.
	Storage sdklogical.Storage `json:"-"`

	// HTTPRequest, if set, can be used to access fields from the HTTP request
	// that generated this logical.Request object, such as the request body.
	HTTPRequest *http.Request `json:"-"`

	// Request metadata
	ClientIP  string
	RequestID string
}

// Get returns a data field and guards for nil Data
func (r *Request) Get(key string) any {
	if r.Data == nil {
		return nil
	}
	return r.Data[key]
}

// GetString returns a data field as a string
func (r *Request) GetString(key string) string {
	raw := r.Get(key)
	s, _ := raw.(string)
	return s
}
