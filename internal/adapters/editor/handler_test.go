package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"scenariocore/internal/core"
	"scenariocore/pkg/domain"
)

type fakeBackend struct {
	doc      domain.ScenarioDocument
	saveErr  error
	fetchErr error
}

func (f *fakeBackend) FetchInputs(context.Context, string, string) (domain.ScenarioDocument, error) {
	if f.fetchErr != nil {
		return domain.ScenarioDocument{}, f.fetchErr
	}
	return f.doc.Clone(), nil
}

func (f *fakeBackend) SaveInputs(context.Context, string, string, domain.ScenarioDocument) error {
	return f.saveErr
}

func (f *fakeBackend) FetchSchedule(context.Context, string, string, string) (domain.Schedule, error) {
	return domain.Schedule{
		Monthly:  []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		Profiles: map[string][]float64{domain.DayWeekday: make([]float64, domain.HoursPerDay)},
	}, nil
}

func testDocument() domain.ScenarioDocument {
	doc := domain.NewScenarioDocument()
	doc.Tables[domain.TableZone] = domain.Table{
		"B1": {"Name": "B1", "height_ag": float64(10)},
		"B2": {"Name": "B2", "height_ag": float64(20)},
	}
	doc.Tables[domain.TableTrees] = domain.Table{
		"T1": {"Name": "T1", "height_tc": float64(6)},
	}
	zone := geojson.NewFeatureCollection()
	for _, id := range []string{"B1", "B2"} {
		f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
		f.Properties = geojson.Properties{"Name": id}
		zone.Append(f)
	}
	doc.Layers[domain.TableZone] = zone
	trees := geojson.NewFeatureCollection()
	tf := geojson.NewFeature(orb.Point{2, 2})
	tf.Properties = geojson.Properties{"Name": "T1"}
	trees.Append(tf)
	doc.Layers[domain.TableTrees] = trees
	doc.CRS = "EPSG:32633"
	return doc
}

func newTestHandler(t *testing.T, backend *fakeBackend) *Handler {
	t.Helper()
	service := core.NewService(backend)
	return NewHandler(service)
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func openSession(t *testing.T, h *Handler) {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions", map[string]string{
		"project": "demo", "scenario": "baseline",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("open: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestOpenRequiresIdentity(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{doc: testDocument()})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions", map[string]string{"project": "demo"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateAndChanges(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{doc: testDocument()})
	openSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/update", map[string]any{
		"table":   "zone",
		"ids":     []string{"B1"},
		"updates": []map[string]any{{"field": "height_ag", "value": "12"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/sessions/demo/baseline/changes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("changes: status %d", rec.Code)
	}
	var payload struct {
		Grouped domain.GroupedChanges `json:"grouped"`
		Records []domain.ChangeRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode changes: %v", err)
	}
	delta, ok := payload.Grouped.Update[domain.TableZone]["B1"]["height_ag"]
	if !ok {
		t.Fatalf("expected grouped entry, got %+v", payload.Grouped)
	}
	if delta.New != float64(12) {
		t.Fatalf("expected coerced 12, got %v", delta.New)
	}
	if len(payload.Records) != 1 {
		t.Fatalf("expected 1 flat record, got %d", len(payload.Records))
	}
}

func TestDeleteMixedBatchRejected(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{doc: testDocument()})
	openSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/delete", map[string]any{
		"ids": []string{"B1", "T1"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mixed batch, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSaveFailureSurfacesError(t *testing.T) {
	backend := &fakeBackend{doc: testDocument()}
	h := newTestHandler(t, backend)
	openSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/save", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ledger, got %d", rec.Code)
	}

	doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/update", map[string]any{
		"table":   "zone",
		"ids":     []string{"B1"},
		"updates": []map[string]any{{"field": "height_ag", "value": 12}},
	})
	backend.saveErr = fmt.Errorf("connection refused")
	rec = doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/save", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for transport failure, got %d", rec.Code)
	}

	// Ledger survives the failed save.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/sessions/demo/baseline", nil)
	var state struct {
		Dirty bool `json:"dirty"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.Dirty {
		t.Fatal("expected session to stay dirty after failed save")
	}

	backend.saveErr = nil
	rec = doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected save to succeed, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestReleaseGuardsDirtySession(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{doc: testDocument()})
	openSession(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/update", map[string]any{
		"table":   "zone",
		"ids":     []string{"B1"},
		"updates": []map[string]any{{"field": "height_ag", "value": 12}},
	})

	rec := doRequest(t, h, http.MethodDelete, "/api/v1/sessions/demo/baseline", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for dirty release, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/v1/sessions/demo/baseline?force=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected forced release to succeed, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/v1/sessions/demo/baseline", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after release, got %d", rec.Code)
	}
}

func TestScheduleFetchAndEdit(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{doc: testDocument()})
	openSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/schedule", map[string]any{
		"id": "B1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule fetch: status %d body %s", rec.Code, rec.Body.String())
	}

	month := 6
	value := 0.5
	rec = doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/schedule", map[string]any{
		"id": "B1", "month": month, "value": value,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule edit: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/sessions/demo/baseline/changes", nil)
	var payload struct {
		Records []domain.ChangeRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode changes: %v", err)
	}
	if len(payload.Records) != 1 || payload.Records[0].Table != domain.TableSchedules {
		t.Fatalf("expected schedule record, got %+v", payload.Records)
	}
}

func TestCreateAndDuplicate(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{doc: testDocument()})
	openSession(t, h)

	geom := geojson.NewGeometry(orb.Polygon{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/create", map[string]any{
		"table":      "zone",
		"properties": map[string]any{"height_ag": 9},
		"geometry":   geom,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/sessions/demo/baseline/duplicate", map[string]any{
		"ids": []string{"B1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate: status %d body %s", rec.Code, rec.Body.String())
	}
	var dup struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dup); err != nil {
		t.Fatalf("decode duplicate: %v", err)
	}
	if len(dup.IDs) != 1 {
		t.Fatalf("expected one duplicated id, got %v", dup.IDs)
	}
}
