package core

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"scenariocore/pkg/domain"
)

func testSchema() domain.Schema {
	min := 0.0
	return domain.Schema{
		domain.TableZone: {
			"height_ag": {Type: domain.ColumnNumber, Min: &min},
			"floors_ag": {Type: domain.ColumnNumber, Min: &min},
		},
		domain.TableSupply: {
			"type_cs": {Type: domain.ColumnString, Choices: []string{"SUPPLY_COOLING_AS1", "SUPPLY_COOLING_AS2"}},
		},
	}
}

func polygonFeature(id string) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	f.Properties = geojson.Properties{domain.FeatureIDProperty: id}
	return f
}

func pointFeature(id string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{2, 2})
	f.Properties = geojson.Properties{domain.FeatureIDProperty: id}
	return f
}

// testDocument builds a baseline with two zone buildings, one tree, and one
// surroundings building, layers kept in lockstep with the tables.
func testDocument() domain.ScenarioDocument {
	doc := domain.NewScenarioDocument()
	doc.Tables[domain.TableZone] = domain.Table{
		"B1": {"Name": "B1", "height_ag": float64(10), domain.ReferenceField: "CH-arch"},
		"B2": {"Name": "B2", "height_ag": float64(20)},
	}
	doc.Tables[domain.TableTypology] = domain.Table{
		"B1": {"year": float64(1980)},
		"B2": {"year": float64(2005)},
	}
	doc.Tables[domain.TableSupply] = domain.Table{
		"B1": {"type_cs": "SUPPLY_COOLING_AS1"},
		"B2": {"type_cs": "SUPPLY_COOLING_AS1"},
	}
	doc.Tables[domain.TableTrees] = domain.Table{
		"T1": {"Name": "T1", "height_tc": float64(6)},
	}
	doc.Tables[domain.TableSurroundings] = domain.Table{
		"S1": {"Name": "S1", "height_ag": float64(30)},
	}

	zone := geojson.NewFeatureCollection()
	zone.Append(polygonFeature("B1"))
	zone.Append(polygonFeature("B2"))
	zone.Features[0].Properties[domain.ReferenceField] = "CH-arch"
	doc.Layers[domain.TableZone] = zone

	trees := geojson.NewFeatureCollection()
	trees.Append(pointFeature("T1"))
	doc.Layers[domain.TableTrees] = trees

	surroundings := geojson.NewFeatureCollection()
	surroundings.Append(polygonFeature("S1"))
	doc.Layers[domain.TableSurroundings] = surroundings

	doc.CRS = "EPSG:32633"
	return doc
}

func testSchedule() domain.Schedule {
	return domain.Schedule{
		Monthly:  []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		Profiles: map[string][]float64{domain.DayWeekday: make([]float64, domain.HoursPerDay)},
	}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	key := domain.SessionKey{Kind: domain.KindInputs, Project: "demo", Scenario: "baseline"}
	return NewSession(key, testDocument(), testSchema(), NewDefaultRulesEngine(testSchema()))
}

func mustUpdate(t *testing.T, sess *Session, table domain.TableName, ids []string, updates []FieldUpdate) {
	t.Helper()
	if _, err := sess.UpdateBuildings(context.Background(), table, ids, updates); err != nil {
		t.Fatalf("update %s %v: %v", table, ids, err)
	}
}

func TestSessionDocumentIsACopy(t *testing.T) {
	sess := newTestSession(t)
	doc := sess.Document()
	doc.Tables[domain.TableZone]["B1"]["height_ag"] = float64(999)
	doc.Layers[domain.TableZone].Features[0].Properties["height_ag"] = float64(999)

	fresh := sess.Document()
	if fresh.Tables[domain.TableZone]["B1"]["height_ag"] == float64(999) {
		t.Fatal("mutating a returned document leaked into the session")
	}
	if fresh.Layers[domain.TableZone].Features[0].Properties["height_ag"] == float64(999) {
		t.Fatal("mutating a returned layer leaked into the session")
	}
}

func TestSavePayloadRestrictsSchedules(t *testing.T) {
	sess := newTestSession(t)
	sess.attachSchedule("B1", testSchedule())

	payload := sess.savePayload()
	if _, ok := payload.Schedules["B1"]; !ok {
		t.Fatal("expected fetched schedule in save payload")
	}
	if len(payload.Schedules) != 1 {
		t.Fatalf("expected only fetched schedules, got %v", payload.Schedules)
	}
}

func TestResetClearsLedgerAndSchedules(t *testing.T) {
	sess := newTestSession(t)
	sess.attachSchedule("B1", testSchedule())
	mustUpdate(t, sess, domain.TableZone, []string{"B1"}, []FieldUpdate{{Field: "height_ag", Value: 12}})
	if !sess.Dirty() {
		t.Fatal("expected dirty session")
	}

	sess.resetTo(testDocument())
	if sess.Dirty() {
		t.Fatal("expected clean session after reset")
	}
	if sess.ScheduleFetched("B1") {
		t.Fatal("expected fetched-schedule set cleared on reset")
	}
}

func TestBeginExclusiveRejectsConcurrentOperation(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.beginExclusive(); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := sess.beginExclusive(); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	sess.endExclusive()
	if err := sess.beginExclusive(); err != nil {
		t.Fatalf("begin after end: %v", err)
	}
}

func TestClosedSessionRejectsEdits(t *testing.T) {
	sess := newTestSession(t)
	sess.close()
	_, err := sess.UpdateBuildings(context.Background(), domain.TableZone, []string{"B1"}, []FieldUpdate{{Field: "height_ag", Value: 1}})
	if err != ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
