package core

import (
	"context"
	"fmt"

	"scenariocore/pkg/domain"
)

// NewColumnSchemaRule returns the rule enforcing declared column constraints
// (type, range, choices) over the fields touched by pending changes. Edits
// that fail validation block the commit so the ledger never stores an invalid
// uncommitted change.
func NewColumnSchemaRule(schema domain.Schema) domain.Rule {
	return columnSchemaRule{schema: schema}
}

type columnSchemaRule struct {
	schema domain.Schema
}

func (columnSchemaRule) Name() string { return "column_schema" }

func (r columnSchemaRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.ChangeRecord) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Kind != domain.KindUpdate || change.Table == domain.TableSchedules {
			continue
		}
		spec, declared := r.schema.Column(change.Table, change.Field)
		if !declared {
			continue
		}
		if err := spec.Validate(change.Field, change.New); err != nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "column_schema",
				Severity: domain.SeverityBlock,
				Message:  err.Error(),
				Table:    change.Table,
				Entity:   change.Entity,
				Field:    change.Field,
			})
		}
	}
	return res, nil
}

// NewGeometryConsistencyRule returns the rule asserting that every geometry
// layer mirrors its property table: same entity ids on both sides. Drift is
// reported as a warning; server baselines may predate the lockstep guarantee
// and must stay editable.
func NewGeometryConsistencyRule() domain.Rule {
	return geometryConsistencyRule{}
}

type geometryConsistencyRule struct{}

func (geometryConsistencyRule) Name() string { return "geometry_consistency" }

func (geometryConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.ChangeRecord) (domain.Result, error) {
	res := domain.Result{}
	for _, table := range []domain.TableName{domain.TableZone, domain.TableSurroundings, domain.TableTrees} {
		rows, ok := view.Table(table)
		if !ok {
			continue
		}
		layer, ok := view.Layer(table)
		if !ok || layer == nil {
			continue
		}
		inLayer := make(map[string]struct{}, len(layer.Features))
		for _, f := range layer.Features {
			id := domain.FeatureID(f)
			inLayer[id] = struct{}{}
			if _, ok := rows[id]; !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "geometry_consistency",
					Severity: domain.SeverityWarn,
					Message:  fmt.Sprintf("feature %s has no %s table row", id, table),
					Table:    table,
					Entity:   id,
				})
			}
		}
		for id := range rows {
			if _, ok := inLayer[id]; !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "geometry_consistency",
					Severity: domain.SeverityWarn,
					Message:  fmt.Sprintf("%s row %s has no feature", table, id),
					Table:    table,
					Entity:   id,
				})
			}
		}
	}
	return res, nil
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine(schema domain.Schema) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewColumnSchemaRule(schema))
	engine.Register(NewGeometryConsistencyRule())
	return engine
}
