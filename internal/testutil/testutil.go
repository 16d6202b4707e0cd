// Package testutil provides HTTP test helpers shared by BookingRelay tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertAPIResponse decodes an APIResponse body and checks its status field.
func AssertAPIResponse(t *testing.T, rr *httptest.ResponseRecorder, expected models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != string(expected) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expected, resp.Status, resp.Message)
	}
	return resp
}

// NewRawRequest creates a request carrying body verbatim and the given headers.
func NewRawRequest(t *testing.T, method, url, body string, headers map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
