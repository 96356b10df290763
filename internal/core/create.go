package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"scenariocore/pkg/domain"
)

// newEntityID generates an id for a created or duplicated entity.
func newEntityID() string {
	return "B" + strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
}

// CreateBuilding inserts a new entity into a geometry-backed table together
// with its feature. An empty id is generated. Zone buildings additionally get
// empty rows in the rest of the zone-family tables so later field edits and
// deletions see a consistent row set.
func (s *Session) CreateBuilding(ctx context.Context, table domain.TableName, id string, properties domain.Record, geometry orb.Geometry) (string, domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", domain.Result{}, ErrSessionClosed
	}
	if !domain.GeometryBacked(table) {
		return "", domain.Result{}, fmt.Errorf("table %s does not accept created entities", table)
	}
	if geometry == nil {
		return "", domain.Result{}, fmt.Errorf("create %s: geometry required", table)
	}
	if id == "" {
		id = newEntityID()
	}
	if _, taken := s.classify(id); taken {
		return "", domain.Result{}, fmt.Errorf("entity %s already exists", id)
	}

	doc := s.doc
	doc.Tables = cloneTableMap(s.doc.Tables)

	row := properties.Clone()
	if row == nil {
		row = domain.Record{}
	}
	next := doc.Tables[table].Clone()
	if next == nil {
		next = domain.Table{}
	}
	next[id] = row
	doc.Tables[table] = next

	if table == domain.TableZone {
		for _, sibling := range domain.ZoneTables {
			if sibling == domain.TableZone {
				continue
			}
			st := doc.Tables[sibling].Clone()
			if st == nil {
				st = domain.Table{}
			}
			st[id] = domain.Record{}
			doc.Tables[sibling] = st
		}
	}

	doc.Layers = cloneLayerMap(s.doc.Layers)
	layer := domain.CloneFeatureCollection(doc.Layers[table])
	if layer == nil {
		layer = geojson.NewFeatureCollection()
	}
	f := geojson.NewFeature(orb.Clone(geometry))
	f.Properties[domain.FeatureIDProperty] = id
	for k, v := range row {
		f.Properties[k] = v
	}
	layer.Append(f)
	doc.Layers[table] = layer

	ledger := s.ledger.RecordCreation(table, id)
	res, err := s.commit(ctx, doc, ledger)
	if err != nil {
		return "", res, err
	}
	return id, res, nil
}

// DuplicateBuildings copies existing entities, rows and features both, under
// freshly generated ids. Each id is classified independently; zone buildings
// are copied across the whole zone-family table set, and a fetched schedule
// is carried over to the copy.
func (s *Session) DuplicateBuildings(ctx context.Context, ids []string) ([]string, domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.Result{}, ErrSessionClosed
	}
	if len(ids) == 0 {
		return nil, domain.Result{}, nil
	}

	doc := s.doc
	doc.Tables = cloneTableMap(s.doc.Tables)
	doc.Layers = cloneLayerMap(s.doc.Layers)
	ledger := s.ledger

	cloned := make([]string, 0, len(ids))
	copiedSchedules := make(map[string]string) // new id -> source id
	for _, src := range ids {
		kind, ok := s.classify(src)
		if !ok {
			return nil, domain.Result{}, ErrNotFound{ID: src}
		}
		id := newEntityID()

		tables := []domain.TableName{kind}
		if kind == domain.TableZone {
			tables = domain.ZoneTables
		}
		for _, table := range tables {
			current, ok := doc.Tables[table]
			if !ok {
				continue
			}
			row, ok := current[src]
			if !ok {
				continue
			}
			next := current.Clone()
			next[id] = row.Clone()
			doc.Tables[table] = next
		}

		if layer := doc.Layers[kind]; layer != nil {
			next := domain.CloneFeatureCollection(layer)
			for _, f := range layer.Features {
				if domain.FeatureID(f) != src {
					continue
				}
				cp := domain.CloneFeature(f)
				cp.Properties[domain.FeatureIDProperty] = id
				next.Append(cp)
				break
			}
			doc.Layers[kind] = next
		}

		if kind == domain.TableZone {
			if _, ok := s.doc.Schedules[src]; ok {
				copiedSchedules[id] = src
			}
		}

		ledger = ledger.RecordDuplication(kind, id, src)
		cloned = append(cloned, id)
	}

	if len(copiedSchedules) > 0 {
		schedules := make(map[string]domain.Schedule, len(s.doc.Schedules)+len(copiedSchedules))
		for k, v := range s.doc.Schedules {
			schedules[k] = v
		}
		for id, src := range copiedSchedules {
			schedules[id] = s.doc.Schedules[src].Clone()
		}
		doc.Schedules = schedules
	}

	res, err := s.commit(ctx, doc, ledger)
	if err != nil {
		return nil, res, err
	}
	for id := range copiedSchedules {
		s.fetched[id] = struct{}{}
	}
	return cloned, res, nil
}
