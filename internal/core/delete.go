package core

import (
	"context"
	"sort"

	"github.com/paulmach/orb/geojson"

	"scenariocore/pkg/domain"
)

// classify resolves the entity kind of an id by table membership. Zone-family
// membership is checked first: a zone building owns rows in several tables,
// but its identity table is zone.
func (s *Session) classify(id string) (domain.TableName, bool) {
	for _, table := range []domain.TableName{domain.TableZone, domain.TableTrees, domain.TableSurroundings} {
		if t, ok := s.doc.Tables[table]; ok {
			if _, ok := t[id]; ok {
				return table, true
			}
		}
	}
	return "", false
}

// DeleteBuildings removes a homogeneous batch of entities from every table
// that references them and records the deletions. Zone buildings disappear
// from the whole zone-family table set, their geometry layer, and any cached
// schedules; trees and surroundings only from their own table and layer.
//
// A batch mixing entity kinds is rejected with MixedEntityTypeError before
// any state changes; unknown ids fail with ErrNotFound.
func (s *Session) DeleteBuildings(ctx context.Context, ids []string) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Result{}, ErrSessionClosed
	}
	if len(ids) == 0 {
		return domain.Result{}, nil
	}

	kind, err := s.classifyBatch(ids)
	if err != nil {
		return domain.Result{}, err
	}

	tables := []domain.TableName{kind}
	if kind == domain.TableZone {
		tables = domain.ZoneTables
	}

	doc := s.doc
	doc.Tables = cloneTableMap(s.doc.Tables)
	for _, table := range tables {
		current, ok := doc.Tables[table]
		if !ok {
			continue
		}
		next := current.Clone()
		for _, id := range ids {
			delete(next, id)
		}
		doc.Tables[table] = next
	}

	doc.Layers = cloneLayerMap(s.doc.Layers)
	if layer, ok := doc.Layers[kind]; ok && layer != nil {
		doc.Layers[kind] = dropFeatures(layer, ids)
	}

	if kind == domain.TableZone && len(s.doc.Schedules) > 0 {
		schedules := make(map[string]domain.Schedule, len(s.doc.Schedules))
		for id, sched := range s.doc.Schedules {
			schedules[id] = sched
		}
		for _, id := range ids {
			delete(schedules, id)
		}
		doc.Schedules = schedules
	}

	ledger := s.ledger
	for _, table := range tables {
		if table == kind {
			continue
		}
		ledger = ledger.PurgeUpdates(table, ids...)
	}
	if kind == domain.TableZone {
		ledger = ledger.PurgeUpdates(domain.TableSchedules, ids...)
	}
	ledger = ledger.RecordDeletion(kind, ids...)

	res, err := s.commit(ctx, doc, ledger)
	if err != nil {
		return res, err
	}
	if kind == domain.TableZone {
		for _, id := range ids {
			delete(s.fetched, id)
		}
	}
	return res, nil
}

func (s *Session) classifyBatch(ids []string) (domain.TableName, error) {
	var kind domain.TableName
	seen := make(map[domain.TableName]struct{})
	for _, id := range ids {
		k, ok := s.classify(id)
		if !ok {
			return "", ErrNotFound{ID: id}
		}
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			kind = k
		}
	}
	if len(seen) > 1 {
		kinds := make([]domain.TableName, 0, len(seen))
		for k := range seen {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		return "", MixedEntityTypeError{Kinds: kinds}
	}
	return kind, nil
}

func dropFeatures(fc *geojson.FeatureCollection, ids []string) *geojson.FeatureCollection {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := geojson.NewFeatureCollection()
	out.Type = fc.Type
	out.BBox = append(geojson.BBox(nil), fc.BBox...)
	for _, f := range fc.Features {
		if _, gone := drop[domain.FeatureID(f)]; gone {
			continue
		}
		out.Features = append(out.Features, f)
	}
	return out
}

func cloneTableMap(tables map[domain.TableName]domain.Table) map[domain.TableName]domain.Table {
	out := make(map[domain.TableName]domain.Table, len(tables))
	for k, v := range tables {
		out[k] = v
	}
	return out
}

func cloneLayerMap(layers map[domain.TableName]*geojson.FeatureCollection) map[domain.TableName]*geojson.FeatureCollection {
	out := make(map[domain.TableName]*geojson.FeatureCollection, len(layers))
	for k, v := range layers {
		out[k] = v
	}
	return out
}
