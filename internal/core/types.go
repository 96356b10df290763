package core

import "scenariocore/pkg/domain"

type (
	TableName          = domain.TableName
	Record             = domain.Record
	Table              = domain.Table
	ScenarioDocument   = domain.ScenarioDocument
	Schedule           = domain.Schedule
	ChangeRecord       = domain.ChangeRecord
	Ledger             = domain.Ledger
	Schema             = domain.Schema
	Result             = domain.Result
	Violation          = domain.Violation
	RuleViolationError = domain.RuleViolationError
	SessionKey         = domain.SessionKey
	SessionSnapshot    = domain.SessionSnapshot
)

const (
	TableZone         = domain.TableZone
	TableTypology     = domain.TableTypology
	TableSurroundings = domain.TableSurroundings
	TableTrees        = domain.TableTrees
	TableSchedules    = domain.TableSchedules
)

const (
	KindUpdate    = domain.KindUpdate
	KindCreate    = domain.KindCreate
	KindDuplicate = domain.KindDuplicate
	KindDelete    = domain.KindDelete
)
