// Package timelog implements the check-in / break / check-out time
// tracking module. Events append to a per-user log; the current work state
// and the daily summary are derived from the day's events, never stored.
package timelog

import (
	"fmt"
	"time"

	"huddle/internal/models"

	"github.com/google/uuid"
)

type Store interface {
	AppendTimeEvent(event models.TimeEvent) error
	ListTimeEvents(userID string, from, to int64) ([]models.TimeEvent, error)
}

// Presence is notified when breaks flip the user's status.
type Presence interface {
	SetStatus(userID string, status models.Status)
}

type Service struct {
	store    Store
	presence Presence
	now      func() time.Time
}

func NewService(store Store, presence Presence) *Service {
	return &Service{
		store:    store,
		presence: presence,
		now:      time.Now,
	}
}

// DaySummary is the derived daily report.
type DaySummary struct {
	Date          string `json:"date"`
	CheckIn       int64  `json:"checkIn,omitempty"` // Unix timestamp (seconds)
	TotalBreakMin int    `json:"totalBreakMin"`
	TotalWorkMin  int    `json:"totalWorkMin"`
	TotalHours    string `json:"totalHours"`
}

// CheckIn starts the user's working day.
func (s *Service) CheckIn(userID string) (models.TimeEvent, error) {
	state, err := s.StateOf(userID)
	if err != nil {
		return models.TimeEvent{}, err
	}
	if state == models.WorkStateCheckedIn || state == models.WorkStateOnBreak {
		return models.TimeEvent{}, fmt.Errorf("already checked in")
	}
	return s.append(userID, models.TimeEventCheckIn, "", "")
}

// CheckOut ends the working day. An open break is closed first so the
// summary never sees an unterminated break.
func (s *Service) CheckOut(userID, note string) (models.TimeEvent, error) {
	state, err := s.StateOf(userID)
	if err != nil {
		return models.TimeEvent{}, err
	}
	switch state {
	case models.WorkStateOnBreak:
		if _, err := s.append(userID, models.TimeEventBreakEnd, "", ""); err != nil {
			return models.TimeEvent{}, err
		}
	case models.WorkStateCheckedIn:
	default:
		return models.TimeEvent{}, fmt.Errorf("not checked in")
	}
	return s.append(userID, models.TimeEventCheckOut, "", note)
}

// StartBreak pauses work and flips presence to onBreak.
func (s *Service) StartBreak(userID, breakType, note string) (models.TimeEvent, error) {
	state, err := s.StateOf(userID)
	if err != nil {
		return models.TimeEvent{}, err
	}
	if state != models.WorkStateCheckedIn {
		return models.TimeEvent{}, fmt.Errorf("cannot start a break while %s", state)
	}
	event, err := s.append(userID, models.TimeEventBreakStart, breakType, note)
	if err != nil {
		return models.TimeEvent{}, err
	}
	s.presence.SetStatus(userID, models.StatusOnBreak)
	return event, nil
}

// EndBreak resumes work and flips presence back to online.
func (s *Service) EndBreak(userID string) (models.TimeEvent, error) {
	state, err := s.StateOf(userID)
	if err != nil {
		return models.TimeEvent{}, err
	}
	if state != models.WorkStateOnBreak {
		return models.TimeEvent{}, fmt.Errorf("no break to end")
	}
	event, err := s.append(userID, models.TimeEventBreakEnd, "", "")
	if err != nil {
		return models.TimeEvent{}, err
	}
	s.presence.SetStatus(userID, models.StatusOnline)
	return event, nil
}

func (s *Service) append(userID string, typ models.TimeEventType, breakType, note string) (models.TimeEvent, error) {
	event := models.TimeEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		BreakType: breakType,
		Note:      note,
		Timestamp: s.now().Unix(),
	}
	if err := s.store.AppendTimeEvent(event); err != nil {
		return models.TimeEvent{}, fmt.Errorf("failed to append time event: %w", err)
	}
	return event, nil
}

// StateOf derives the user's work state from the last event of today.
func (s *Service) StateOf(userID string) (models.WorkState, error) {
	events, err := s.DayEvents(userID, s.now())
	if err != nil {
		return models.WorkStateOffline, err
	}
	if len(events) == 0 {
		return models.WorkStateOffline, nil
	}
	switch events[len(events)-1].Type {
	case models.TimeEventCheckIn, models.TimeEventBreakEnd:
		return models.WorkStateCheckedIn, nil
	case models.TimeEventBreakStart:
		return models.WorkStateOnBreak, nil
	case models.TimeEventCheckOut:
		return models.WorkStateCheckedOut, nil
	}
	return models.WorkStateOffline, nil
}

// DayEvents returns the user's events for the calendar day containing t,
// in log order.
func (s *Service) DayEvents(userID string, t time.Time) ([]models.TimeEvent, error) {
	from, to := dayBounds(t)
	return s.store.ListTimeEvents(userID, from, to)
}

// Summary computes the daily report: first check-in, total break minutes
// and total work minutes (work span minus breaks).
func (s *Service) Summary(userID string, t time.Time) (DaySummary, error) {
	events, err := s.DayEvents(userID, t)
	if err != nil {
		return DaySummary{}, err
	}

	summary := DaySummary{Date: t.Format("2006-01-02")}

	var workStart, breakStart time.Time
	var workMin, breakMin float64
	for _, event := range events {
		at := time.Unix(event.Timestamp, 0)
		switch event.Type {
		case models.TimeEventCheckIn:
			if summary.CheckIn == 0 {
				summary.CheckIn = event.Timestamp
			}
			workStart = at
		case models.TimeEventCheckOut:
			if !workStart.IsZero() {
				workMin += at.Sub(workStart).Minutes()
				workStart = time.Time{}
			}
		case models.TimeEventBreakStart:
			breakStart = at
		case models.TimeEventBreakEnd:
			if !breakStart.IsZero() {
				d := at.Sub(breakStart).Minutes()
				breakMin += d
				workMin -= d
				breakStart = time.Time{}
			}
		}
	}
	// Still checked in: count work up to now.
	if !workStart.IsZero() {
		workMin += s.now().Sub(workStart).Minutes()
	}
	if !breakStart.IsZero() {
		d := s.now().Sub(breakStart).Minutes()
		breakMin += d
		workMin -= d
	}

	if workMin < 0 {
		workMin = 0
	}
	summary.TotalBreakMin = int(breakMin + 0.5)
	summary.TotalWorkMin = int(workMin + 0.5)
	summary.TotalHours = fmt.Sprintf("%dh %dm", summary.TotalWorkMin/60, summary.TotalWorkMin%60)
	return summary, nil
}

func dayBounds(t time.Time) (int64, int64) {
	year, month, day := t.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	return start.Unix(), start.Add(24 * time.Hour).Unix()
}
