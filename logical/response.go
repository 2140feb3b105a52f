package logical

import (
	"net/http"
)

// Response is what a backend returns for a request. The transport renders
// Data in the {"data": ...} envelope unless Body is set, in which case
// Body is written as is.
type Response struct {
	// StatusCode overrides the status picked by the transport when non-zero.
	StatusCode int
	Headers    http.Header
	Body       []byte
	Data       map[string]any

	// Err marks an error response; its messages go to "errors".
	Err      error
	Warnings []string
}

// ListResponse returns the response of a list operation. An empty key
// list leaves "keys" unset.
func ListResponse(keys []string) *Response {
	data := map[string]any{}
	if len(keys) > 0 {
		data["keys"] = keys
	}
	return &Response{Data: data}
}

// RawResponse returns a response written verbatim with the given content
// type, such as the JWK set served to relying parties.
func RawResponse(contentType string, body []byte) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{contentType}},
		Body:       body,
	}
}

func (r *Response) IsError() bool {
	return r.Err != nil || r.StatusCode >= http.StatusBadRequest
}

func (r *Response) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = http.Header{}
	}
	r.Headers.Set(key, value)
}

func (r *Response) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}
