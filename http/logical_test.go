package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/logical"
)

// =============================================================================
// operationFromHTTPMethod Tests
// =============================================================================

func TestOperationFromHTTPMethod(t *testing.T) {
	tests := []struct {
		method string
		target string
		want   logical.Operation
	}{
		{http.MethodGet, "/v1/jwt/role/a", logical.ReadOperation},
		{http.MethodGet, "/v1/jwt/role?list=true", logical.ListOperation},
		{http.MethodGet, "/v1/jwt/role?list=false", logical.ReadOperation},
		{http.MethodGet, "/v1/jwt/role/a?help=1", logical.HelpOperation},
		{http.MethodPost, "/v1/jwt/role/a", logical.CreateOperation},
		{http.MethodPut, "/v1/jwt/role/a", logical.UpdateOperation},
		{http.MethodDelete, "/v1/jwt/role/a", logical.DeleteOperation},
		{"LIST", "/v1/jwt/role", logical.ListOperation},
		{"UNKNOWN", "/v1/jwt/role", logical.ReadOperation},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			assert.Equal(t, tt.want, operationFromHTTPMethod(req))
		})
	}
}

// =============================================================================
// buildLogicalRequest Tests
// =============================================================================

func TestBuildLogicalRequest_Body(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/jwt/sign/a", strings.NewReader(`{"claims":"{}","n":3}`))
	r.RemoteAddr = "10.0.0.1:5555"

	req, err := buildLogicalRequest(httptest.NewRecorder(), r, DefaultMaxRequestSize)
	require.NoError(t, err)
	assert.Equal(t, logical.CreateOperation, req.Operation)
	assert.Equal(t, "jwt/sign/a", req.Path)
	assert.Equal(t, "10.0.0.1", req.ClientIP)
	assert.Equal(t, "{}", req.Data["claims"])
	assert.Equal(t, json.Number("3"), req.Data["n"])
}

func TestBuildLogicalRequest_EmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/v1/jwt/rotate", strings.NewReader(""))
	req, err := buildLogicalRequest(httptest.NewRecorder(), r, DefaultMaxRequestSize)
	require.NoError(t, err)
	assert.Nil(t, req.Data)
}

func TestBuildLogicalRequest_Query(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/jwt/role?list=true&after=b&limit=2", nil)
	req, err := buildLogicalRequest(httptest.NewRecorder(), r, DefaultMaxRequestSize)
	require.NoError(t, err)
	assert.Equal(t, logical.ListOperation, req.Operation)
	assert.Equal(t, map[string]any{"after": "b", "limit": "2"}, req.Data)
}

func TestBuildLogicalRequest_Errors(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/jwt/role/a", strings.NewReader(`{"x":`))
	_, err := buildLogicalRequest(httptest.NewRecorder(), r, DefaultMaxRequestSize)
	assert.Equal(t, http.StatusBadRequest, logical.GetErrorCode(err))

	r = httptest.NewRequest(http.MethodPost, "/v1/jwt/role/a", strings.NewReader(`{"defaults":"`+strings.Repeat("a", 64)+`"}`))
	_, err = buildLogicalRequest(httptest.NewRecorder(), r, 16)
	assert.Equal(t, http.StatusRequestEntityTooLarge, logical.GetErrorCode(err))
}

// =============================================================================
// writeLogicalResponse Tests
// =============================================================================

func TestWriteLogicalResponse_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	writeLogicalResponse(w, &logical.Request{}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteLogicalResponse_Data(t *testing.T) {
	w := httptest.NewRecorder()
	resp := &logical.Response{Data: map[string]any{"token": "abc"}}
	resp.AddWarning("careful")
	writeLogicalResponse(w, &logical.Request{RequestID: "req-1"}, resp)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"request_id":"req-1","data":{"token":"abc"},"warnings":["careful"]}`, w.Body.String())
}

func TestWriteLogicalResponse_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	resp := logical.ErrorResponse(logical.NewValidationError("/b: bad", "/a: bad"))
	writeLogicalResponse(w, &logical.Request{}, resp)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"errors":["/a: bad","/b: bad"]}`, w.Body.String())
}

func TestWriteLogicalResponse_UncodedError(t *testing.T) {
	w := httptest.NewRecorder()
	writeLogicalResponse(w, &logical.Request{}, &logical.Response{Err: errors.New("boom")})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"errors":["boom"]}`, w.Body.String())
}

func TestWriteLogicalResponse_Raw(t *testing.T) {
	w := httptest.NewRecorder()
	writeLogicalResponse(w, &logical.Request{}, logical.RawResponse("application/json", []byte(`{"keys":[]}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"keys":[]}`, w.Body.String())
}

// =============================================================================
// wrapGenericHandler Tests
// =============================================================================

func TestWrapGenericHandler(t *testing.T) {
	var seenID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = middleware.GetReqID(r.Context())
		w.Header().Set("X-Inner-Called", "true")
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := wrapGenericHandler(inner, nil)

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jwt/jwks", nil))
	assert.Equal(t, "true", w.Header().Get("X-Inner-Called"))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Len(t, seenID, 26)
	assert.Equal(t, seenID, w.Header().Get("X-Request-Id"))

	w = httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2/jwt/jwks", nil))
	assert.Empty(t, w.Header().Get("X-Inner-Called"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
