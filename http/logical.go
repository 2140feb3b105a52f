package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/openbao/openbao/sdk/v2/helper/jsonutil"

	"github.com/stephnangue/jwtsecrets/core"
	"github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
)

// logicalEnvelope is the body of a successful JSON response.
type logicalEnvelope struct {
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// handleLogical returns an HTTP handler for mounted backend operations.
//
// The handler:
//  1. Builds a logical request from the HTTP request
//  2. Sends the logical request to core.HandleRequest for processing
//  3. Writes the logical.Response back to the HTTP response
func handleLogical(c *core.Core, log *logger.GatedLogger, maxRequestSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := buildLogicalRequest(w, r, maxRequestSize)
		if err != nil {
			respondError(w, logical.GetErrorCode(err), err.Error())
			return
		}

		resp, err := c.HandleRequest(r.Context(), req)
		if err != nil {
			status := logical.GetErrorCode(err)
			if status >= http.StatusInternalServerError {
				log.Error("internal error",
					logger.String("request_id", req.RequestID),
					logger.String("path", r.URL.Path),
					logger.Err(err),
				)
			}
			respondError(w, status, logical.ErrorMessages(err)...)
			return
		}

		writeLogicalResponse(w, req, resp)
	})
}

// buildLogicalRequest creates a logical.Request from an HTTP request.
// JSON bodies of write requests and the query of read requests become
// the request data.
func buildLogicalRequest(w http.ResponseWriter, r *http.Request, maxRequestSize int64) (*logical.Request, error) {
	op := operationFromHTTPMethod(r)

	var data map[string]any
	switch op {
	case logical.CreateOperation, logical.UpdateOperation:
		parsed, err := parseJSONRequest(w, r, maxRequestSize)
		if err != nil {
			return nil, err
		}
		data = parsed
	case logical.ReadOperation, logical.ListOperation:
		data = parseQuery(r)
	}

	return &logical.Request{
		Operation:   op,
		Path:        strings.TrimPrefix(r.URL.Path, "/v1/"),
		Data:        data,
		HTTPRequest: r,
		ClientIP:    extractClientIP(r),
		RequestID:   middleware.GetReqID(r.Context()),
	}, nil
}

// parseJSONRequest decodes the request body into a map. An empty body
// yields nil data.
func parseJSONRequest(w http.ResponseWriter, r *http.Request, maxRequestSize int64) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	body := http.MaxBytesReader(w, r.Body, maxRequestSize)

	var out map[string]any
	err := jsonutil.DecodeJSONFromReader(body, &out)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &logical.CodedError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body larger than %d bytes", maxErr.Limit),
			}
		}
		return nil, logical.ErrBadRequestf("failed to parse JSON input: %v", err)
	}
	return out, nil
}

// parseQuery turns query parameters into request data, skipping the ones
// that select the operation.
func parseQuery(r *http.Request) map[string]any {
	query := r.URL.Query()
	var data map[string]any
	for k, v := range query {
		if k == "list" || k == "help" || len(v) == 0 {
			continue
		}
		if data == nil {
			data = make(map[string]any, len(query))
		}
		data[k] = v[0]
	}
	return data
}

// operationFromHTTPMethod maps HTTP methods to logical operations.
func operationFromHTTPMethod(r *http.Request) logical.Operation {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		if v := query.Get("help"); v == "1" || v == "true" {
			return logical.HelpOperation
		}
		if query.Get("list") == "true" {
			return logical.ListOperation
		}
		return logical.ReadOperation
	case http.MethodPost:
		return logical.CreateOperation
	case http.MethodPut:
		return logical.UpdateOperation
	case http.MethodDelete:
		return logical.DeleteOperation
	case "LIST":
		return logical.ListOperation
	default:
		return logical.ReadOperation
	}
}

// extractClientIP returns the remote host. The listener's RealIP
// middleware has already applied X-Real-IP and X-Forwarded-For.
func extractClientIP(r *http.Request) string {
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}
	return clientIP
}

// writeLogicalResponse writes the logical.Response to the HTTP response.
func writeLogicalResponse(w http.ResponseWriter, req *logical.Request, resp *logical.Response) {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	for key, values := range resp.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if resp.Err != nil {
		status := resp.StatusCode
		if status == 0 || status < http.StatusBadRequest {
			status = logical.GetErrorCode(resp.Err)
		}
		respondError(w, status, logical.ErrorMessages(resp.Err)...)
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	if resp.Body != nil {
		w.WriteHeader(status)
		w.Write(resp.Body)
		return
	}

	body, err := json.Marshal(&logicalEnvelope{
		RequestID: req.RequestID,
		Data:      resp.Data,
		Warnings:  resp.Warnings,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
