// Package domain defines the scenario documents, change ledger, and rule
// evaluation primitives used by scenariocore.
package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TableName identifies one of the per-building input tables of a scenario.
type TableName string

// Canonical input tables. Geometry-backed tables carry a GeoJSON layer of the
// same name alongside the property table.
const (
	// TableZone holds the main zone-building geometry properties.
	TableZone TableName = "zone"
	// TableTypology holds construction year and use-type assignments.
	TableTypology TableName = "typology"
	// TableArchitecture holds envelope/architecture parameters.
	TableArchitecture TableName = "architecture"
	// TableInternalLoads holds internal load densities.
	TableInternalLoads TableName = "internal-loads"
	// TableIndoorComfort holds set-point and comfort parameters.
	TableIndoorComfort TableName = "indoor-comfort"
	// TableSupply holds supply-system assignments.
	TableSupply TableName = "supply"
	// TableSurroundings holds shading-only surrounding buildings.
	TableSurroundings TableName = "surroundings"
	// TableTrees holds tree point features.
	TableTrees TableName = "trees"
	// TableSchedules is the pseudo-table under which schedule edits are
	// recorded in the change ledger.
	TableSchedules TableName = "schedules"
)

// ZoneTables lists the tables that describe a zone building. Deleting a zone
// building removes its row from every one of these.
var ZoneTables = []TableName{
	TableZone,
	TableTypology,
	TableArchitecture,
	TableInternalLoads,
	TableIndoorComfort,
	TableSupply,
}

// GeometryBacked reports whether a table has a paired GeoJSON layer.
func GeometryBacked(table TableName) bool {
	switch table {
	case TableZone, TableSurroundings, TableTrees:
		return true
	}
	return false
}

// Record is a single entity row: field name to JSON scalar value.
type Record map[string]any

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Table maps entity id to its record.
type Table map[string]Record

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	cp := make(Table, len(t))
	for id, rec := range t {
		cp[id] = rec.Clone()
	}
	return cp
}

// IDs returns the entity ids present in the table, unordered.
func (t Table) IDs() []string {
	out := make([]string, 0, len(t))
	for id := range t {
		out = append(out, id)
	}
	return out
}

// FeatureIDProperty names the GeoJSON property that carries the entity id.
const FeatureIDProperty = "Name"

// ScenarioDocument is the last-fetched server-authoritative snapshot of all
// editable inputs for one (project, scenario) identity. It is replaced
// wholesale on fetch and never mutated in place: every editing operation
// produces a structurally new document.
type ScenarioDocument struct {
	Tables    map[TableName]Table                     `json:"tables"`
	Layers    map[TableName]*geojson.FeatureCollection `json:"geojsons"`
	CRS       string                                  `json:"crs,omitempty"`
	Schedules map[string]Schedule                     `json:"schedules,omitempty"`
}

// NewScenarioDocument returns an empty document with initialized containers.
func NewScenarioDocument() ScenarioDocument {
	return ScenarioDocument{
		Tables:    make(map[TableName]Table),
		Layers:    make(map[TableName]*geojson.FeatureCollection),
		Schedules: make(map[string]Schedule),
	}
}

// Clone returns a deep copy of the document. Feature geometries are cloned so
// callers can mutate the result without aliasing the original.
func (d ScenarioDocument) Clone() ScenarioDocument {
	cp := ScenarioDocument{CRS: d.CRS}
	if d.Tables != nil {
		cp.Tables = make(map[TableName]Table, len(d.Tables))
		for name, table := range d.Tables {
			cp.Tables[name] = table.Clone()
		}
	}
	if d.Layers != nil {
		cp.Layers = make(map[TableName]*geojson.FeatureCollection, len(d.Layers))
		for name, fc := range d.Layers {
			cp.Layers[name] = CloneFeatureCollection(fc)
		}
	}
	if d.Schedules != nil {
		cp.Schedules = make(map[string]Schedule, len(d.Schedules))
		for id, sched := range d.Schedules {
			cp.Schedules[id] = sched.Clone()
		}
	}
	return cp
}

// Table returns the named table, which may be nil when absent.
func (d ScenarioDocument) Table(name TableName) (Table, bool) {
	t, ok := d.Tables[name]
	return t, ok
}

// Layer returns the GeoJSON layer paired with a geometry-backed table.
func (d ScenarioDocument) Layer(name TableName) (*geojson.FeatureCollection, bool) {
	fc, ok := d.Layers[name]
	return fc, ok
}

// Schedule returns the lazily fetched schedule for a building, if present.
func (d ScenarioDocument) Schedule(id string) (Schedule, bool) {
	s, ok := d.Schedules[id]
	return s, ok
}

// CloneFeature copies a GeoJSON feature including its geometry and properties.
func CloneFeature(f *geojson.Feature) *geojson.Feature {
	if f == nil {
		return nil
	}
	cp := geojson.NewFeature(orb.Clone(f.Geometry))
	cp.ID = f.ID
	if f.Properties != nil {
		cp.Properties = make(geojson.Properties, len(f.Properties))
		for k, v := range f.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

// CloneFeatureCollection deep-copies a feature collection.
func CloneFeatureCollection(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	if fc == nil {
		return nil
	}
	cp := geojson.NewFeatureCollection()
	cp.Type = fc.Type
	cp.BBox = append(geojson.BBox(nil), fc.BBox...)
	for _, f := range fc.Features {
		cp.Features = append(cp.Features, CloneFeature(f))
	}
	return cp
}

// FeatureID extracts the entity id carried in a feature's properties.
func FeatureID(f *geojson.Feature) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	if id, ok := f.Properties[FeatureIDProperty].(string); ok {
		return id
	}
	return ""
}

// DatabaseDocument is the nested reference-database document edited by the
// database tracker: category -> section -> rows.
type DatabaseDocument map[string]map[string]Table

// Clone returns a deep copy of the database document.
func (d DatabaseDocument) Clone() DatabaseDocument {
	if d == nil {
		return nil
	}
	cp := make(DatabaseDocument, len(d))
	for category, sections := range d {
		cs := make(map[string]Table, len(sections))
		for section, table := range sections {
			cs[section] = table.Clone()
		}
		cp[category] = cs
	}
	return cp
}

// Lookup resolves a dataKey path of the form "category/section".
func (d DatabaseDocument) Lookup(category, section string) (Table, bool) {
	sections, ok := d[category]
	if !ok {
		return nil, false
	}
	table, ok := sections[section]
	return table, ok
}
