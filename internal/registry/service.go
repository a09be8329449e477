package registry

import (
	"context"
	"fmt"
)

// Service combines the Registry and History log the way spec §4.3's
// set_state/log_command operations need both.
type Service struct {
	Entities *Registry
	History  *History
}

// SetState writes a new (state, value) onto entity and appends a history
// row describing the transition, per spec §4.3. A non-nil checkinAt updates
// last_checkin to that unix-seconds timestamp; nil leaves it unchanged.
func (s *Service) SetState(ctx context.Context, e Entity, state State, value *string, checkinAt *float64) (Entity, error) {
	e.State = state
	e.StateValue = value
	if checkinAt != nil {
		e.LastCheckin = *checkinAt
	}
	if err := s.Entities.Save(ctx, e); err != nil {
		return Entity{}, err
	}
	if err := s.History.Append(ctx, e.UniqueID, e.Name, "State changed to "+e.DescribeState(), ActionState); err != nil {
		return Entity{}, err
	}
	return e, nil
}

// LogCommand appends a Command-kind history row without altering the
// entity's persisted state (spec §4.3).
func (s *Service) LogCommand(ctx context.Context, e Entity, actionText string) error {
	return s.History.Append(ctx, e.UniqueID, e.Name, actionText, ActionCommand)
}

// Rename updates an entity's user-editable name.
func (s *Service) Rename(ctx context.Context, uniqueID, newName string) (Entity, error) {
	e, err := s.Entities.Find(ctx, uniqueID)
	if err != nil {
		return Entity{}, fmt.Errorf("registry: rename %s: %w", uniqueID, err)
	}
	e.Name = newName
	if err := s.Entities.Save(ctx, e); err != nil {
		return Entity{}, err
	}
	return e, nil
}
