package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/gate"
	"github.com/NicoCuadrado/Barrio-seguro/internal/recorder"
	"github.com/NicoCuadrado/Barrio-seguro/internal/visitor"
)

// fakeGate is a scripted Gate
type fakeGate struct {
	lastFrame   gate.Frame
	frameResult gate.FrameResult
	frameErr    error
	sweepReport recorder.SweepReport
	sweepErr    error
	reloadN     int
	reloadErr   error
	visitors    []visitor.Visitor
	residents   []database.Resident
	stats       gate.Stats
}

func (g *fakeGate) Process(ctx context.Context, frame gate.Frame) (gate.FrameResult, error) {
	g.lastFrame = frame
	return g.frameResult, g.frameErr
}

func (g *fakeGate) Sweep(ctx context.Context) (recorder.SweepReport, error) {
	return g.sweepReport, g.sweepErr
}

func (g *fakeGate) ReloadResidents(ctx context.Context) (int, error) {
	return g.reloadN, g.reloadErr
}

func (g *fakeGate) Visitors() []visitor.Visitor { return g.visitors }
func (g *fakeGate) Residents() []database.Resident { return g.residents }
func (g *fakeGate) Stats() gate.Stats { return g.stats }

var _ Gate = (*fakeGate)(nil)

// jsonRequest builds a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseJSONResponse decodes the recorder body into v
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response: %v (body: %s)", err, recorder.Body.String())
	}
}

// assertStatusCode fails the test when the status code differs
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d (body: %s)", expected, recorder.Code, recorder.Body.String())
	}
}

var testTime = time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
