package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		wantBody string
	}{
		{"object", http.StatusOK, map[string]int{"residents": 3}, "{\"residents\":3}\n"},
		{"empty map", http.StatusCreated, map[string]string{}, "{}\n"},
		{"array", http.StatusOK, []string{"a", "b"}, "[\"a\",\"b\"]\n"},
		{"nil data", http.StatusNoContent, nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.status, tc.data)

			assertStatusCode(t, recorder, tc.status)
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
			if recorder.Body.String() != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "limit must be a positive integer")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["error"] != "limit must be a positive integer" {
		t.Errorf("unexpected error message '%s'", result["error"])
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"", 100, true},
		{"limit=5", 5, true},
		{"limit=5000", 1000, true},
		{"limit=0", 0, false},
		{"limit=-3", 0, false},
		{"limit=abc", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events?"+tc.query, nil)
			got, ok := queryInt(req, "limit", 100, 1000)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("queryInt(%q) = %d, %v; want %d, %v", tc.query, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("Ana\r\nfake entry"); got != "Anafake entry" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}
