package core

import (
	"context"
	"fmt"

	"scenariocore/pkg/domain"
)

// SetMonthlyMultiplier edits one month-level multiplier of a building's
// schedule, recording the change under a synthesized field name such as
// "MONTHLY_MULTIPLIER_Jun" so the change summary stays human readable without
// modeling the time-series shape in the ledger.
func (s *Session) SetMonthlyMultiplier(ctx context.Context, id string, month int, value float64) (domain.Result, error) {
	if month < 0 || month >= 12 {
		return domain.Result{}, fmt.Errorf("month index %d out of range", month)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Result{}, ErrSessionClosed
	}
	sched, ok := s.doc.Schedules[id]
	if !ok {
		return domain.Result{}, ErrScheduleNotFetched{ID: id}
	}
	if month >= len(sched.Monthly) {
		return domain.Result{}, fmt.Errorf("schedule for %s has no month %d", id, month)
	}

	original := sched.Monthly[month]
	next := sched.Clone()
	next.Monthly[month] = value

	ledger := s.ledger.RecordFieldChange(domain.TableSchedules, id, domain.MonthField(month), original, value)
	return s.commitSchedule(ctx, id, next, ledger)
}

// SetHourlyValue edits one hour of a day-type profile, recorded under a
// synthesized field name such as "WEEKDAY_14".
func (s *Session) SetHourlyValue(ctx context.Context, id, dayType string, hour int, value float64) (domain.Result, error) {
	if !domain.ValidDayType(dayType) {
		return domain.Result{}, fmt.Errorf("unknown day type %q", dayType)
	}
	if hour < 0 || hour >= domain.HoursPerDay {
		return domain.Result{}, fmt.Errorf("hour %d out of range", hour)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Result{}, ErrSessionClosed
	}
	sched, ok := s.doc.Schedules[id]
	if !ok {
		return domain.Result{}, ErrScheduleNotFetched{ID: id}
	}
	profile, ok := sched.Profiles[dayType]
	if !ok || hour >= len(profile) {
		return domain.Result{}, fmt.Errorf("schedule for %s has no %s profile hour %d", id, dayType, hour)
	}

	original := profile[hour]
	next := sched.Clone()
	next.Profiles[dayType][hour] = value

	ledger := s.ledger.RecordFieldChange(domain.TableSchedules, id, domain.HourField(dayType, hour), original, value)
	return s.commitSchedule(ctx, id, next, ledger)
}

func (s *Session) commitSchedule(ctx context.Context, id string, next domain.Schedule, ledger domain.Ledger) (domain.Result, error) {
	schedules := make(map[string]domain.Schedule, len(s.doc.Schedules))
	for k, v := range s.doc.Schedules {
		schedules[k] = v
	}
	schedules[id] = next
	doc := s.doc
	doc.Schedules = schedules
	return s.commit(ctx, doc, ledger)
}
