package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

func TestAssertAPIResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.Write(MustMarshalJSON(t, models.Duplicate("hdr:1")))

	resp := AssertAPIResponse(t, rr, models.APIStatusDuplicate)
	if result, ok := resp.Result.(map[string]interface{}); !ok || result["dedup_key"] != "hdr:1" {
		t.Errorf("unexpected result %+v", resp.Result)
	}
}

func TestNewRawRequest(t *testing.T) {
	req := NewRawRequest(t, http.MethodPost, "/webhooks/wix", `{"a":1}`, map[string]string{"X-Test": "yes"})
	if req.Method != http.MethodPost || req.Header.Get("X-Test") != "yes" || req.ContentLength != 7 {
		t.Errorf("unexpected request %+v", req)
	}
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "same status")
}
