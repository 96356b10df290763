package core

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"scenariocore/pkg/domain"
)

// FieldUpdate is one raw field edit as received from the editing surface.
type FieldUpdate struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// UpdateBuildings applies a batch of field updates to a set of entity ids in
// one table, keeping the property table, the ledger, and the paired geometry
// layer consistent within a single commit.
//
// Raw values are coerced through the declared column type (numbers parse
// numeric strings). Ids absent from the table are skipped silently; this is
// the documented application policy, not an error. An empty batch returns the
// session untouched.
func (s *Session) UpdateBuildings(ctx context.Context, table domain.TableName, ids []string, updates []FieldUpdate) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Result{}, ErrSessionClosed
	}
	if len(ids) == 0 || len(updates) == 0 {
		return domain.Result{}, nil
	}

	current, ok := s.doc.Tables[table]
	if !ok {
		return domain.Result{}, ErrNotFound{Table: table, ID: ids[0]}
	}

	next := current.Clone()
	ledger := s.ledger
	var layer *geojson.FeatureCollection
	if domain.GeometryBacked(table) {
		layer = domain.CloneFeatureCollection(s.doc.Layers[table])
	}

	touched := false
	for _, id := range ids {
		row, ok := next[id]
		if !ok {
			continue
		}
		for _, upd := range updates {
			value := s.schema.Coerce(table, upd.Field, upd.Value)
			ledger = ledger.RecordFieldChange(table, id, upd.Field, row[upd.Field], value)
			row[upd.Field] = value
		}
		markUserEdited(row)
		touched = true

		if layer != nil {
			for _, f := range layer.Features {
				if domain.FeatureID(f) != id {
					continue
				}
				for _, upd := range updates {
					f.Properties[upd.Field] = s.schema.Coerce(table, upd.Field, upd.Value)
				}
				if _, ok := f.Properties[domain.ReferenceField]; ok {
					f.Properties[domain.ReferenceField] = domain.UserEditMarker
				}
			}
		}
	}
	if !touched {
		return domain.Result{}, nil
	}

	doc := s.doc
	doc.Tables = replaceTable(s.doc.Tables, table, next)
	if layer != nil {
		doc.Layers = replaceLayer(s.doc.Layers, table, layer)
	}
	return s.commit(ctx, doc, ledger)
}

// markUserEdited rewrites the provenance column after a manual edit so the
// row is no longer attributed to its source dataset.
func markUserEdited(row domain.Record) {
	if _, ok := row[domain.ReferenceField]; ok {
		row[domain.ReferenceField] = domain.UserEditMarker
	}
}

func replaceTable(tables map[domain.TableName]domain.Table, name domain.TableName, next domain.Table) map[domain.TableName]domain.Table {
	out := make(map[domain.TableName]domain.Table, len(tables))
	for k, v := range tables {
		out[k] = v
	}
	out[name] = next
	return out
}

func replaceLayer(layers map[domain.TableName]*geojson.FeatureCollection, name domain.TableName, next *geojson.FeatureCollection) map[domain.TableName]*geojson.FeatureCollection {
	out := make(map[domain.TableName]*geojson.FeatureCollection, len(layers))
	for k, v := range layers {
		out[k] = v
	}
	out[name] = next
	return out
}
