package domain

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func zoneFeature(id string, height float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	f.Properties[FeatureIDProperty] = id
	f.Properties["height_ag"] = height
	return f
}

func testDocument() ScenarioDocument {
	doc := NewScenarioDocument()
	doc.CRS = "EPSG:32648"
	doc.Tables[TableZone] = Table{
		"B1": {"height_ag": 10.0, "floors_ag": 3.0, ReferenceField: "OSM"},
		"B2": {"height_ag": 8.0, "floors_ag": 2.0, ReferenceField: "OSM"},
	}
	doc.Tables[TableTypology] = Table{
		"B1": {"year": 1980.0, "use_type1": "OFFICE"},
		"B2": {"year": 1995.0, "use_type1": "RESIDENTIAL"},
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(zoneFeature("B1", 10.0))
	fc.Append(zoneFeature("B2", 8.0))
	doc.Layers[TableZone] = fc
	return doc
}

func TestCloneIsIndependent(t *testing.T) {
	doc := testDocument()
	cp := doc.Clone()

	cp.Tables[TableZone]["B1"]["height_ag"] = 99.0
	cp.Layers[TableZone].Features[0].Properties["height_ag"] = 99.0
	cp.Schedules["B1"] = Schedule{Monthly: []float64{1}}

	if got := doc.Tables[TableZone]["B1"]["height_ag"]; got != 10.0 {
		t.Fatalf("clone must not alias tables, baseline now %v", got)
	}
	if got := doc.Layers[TableZone].Features[0].Properties["height_ag"]; got != 10.0 {
		t.Fatalf("clone must not alias layer properties, baseline now %v", got)
	}
	if len(doc.Schedules) != 0 {
		t.Fatalf("clone must not alias schedules")
	}
}

func TestDocumentWireShape(t *testing.T) {
	doc := testDocument()
	doc.Schedules["B1"] = Schedule{
		Monthly:  []float64{1, 1, 1, 1, 1, 0.8, 0.8, 1, 1, 1, 1, 1},
		Profiles: map[string][]float64{DayWeekday: make([]float64, HoursPerDay)},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	for _, key := range []string{"tables", "geojsons", "crs", "schedules"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("wire document missing %q: %s", key, raw)
		}
	}

	var back ScenarioDocument
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.CRS != doc.CRS {
		t.Fatalf("crs lost in round trip")
	}
	if FeatureID(back.Layers[TableZone].Features[0]) == "" {
		t.Fatalf("feature id property lost in round trip")
	}
	if len(back.Schedules["B1"].Monthly) != 12 {
		t.Fatalf("schedule multipliers lost in round trip")
	}
}

func TestFeatureID(t *testing.T) {
	if got := FeatureID(zoneFeature("B7", 1)); got != "B7" {
		t.Fatalf("expected B7, got %q", got)
	}
	anon := geojson.NewFeature(orb.Point{0, 0})
	if got := FeatureID(anon); got != "" {
		t.Fatalf("feature without id property must yield empty, got %q", got)
	}
}

func TestDatabaseDocumentLookupAndClone(t *testing.T) {
	db := DatabaseDocument{
		"assemblies": {
			"envelope": Table{"WALL_AS1": {"u_value": 0.3}},
		},
	}
	cp := db.Clone()
	cp["assemblies"]["envelope"]["WALL_AS1"]["u_value"] = 0.9
	if got := db["assemblies"]["envelope"]["WALL_AS1"]["u_value"]; got != 0.3 {
		t.Fatalf("clone must not alias, baseline now %v", got)
	}
	if _, ok := db.Lookup("assemblies", "envelope"); !ok {
		t.Fatalf("expected lookup hit")
	}
	if _, ok := db.Lookup("assemblies", "hvac"); ok {
		t.Fatalf("expected lookup miss")
	}
}

func TestScheduleFieldNames(t *testing.T) {
	if got := MonthField(5); got != "MONTHLY_MULTIPLIER_Jun" {
		t.Fatalf("unexpected month field %q", got)
	}
	if got := HourField(DayWeekday, 14); got != "WEEKDAY_14" {
		t.Fatalf("unexpected hour field %q", got)
	}
	if !ValidDayType(DaySaturday) || ValidDayType("HOLIDAY") {
		t.Fatalf("day type validation broken")
	}
}
