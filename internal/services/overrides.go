package services

import (
	"context"
	"fmt"

	"burnrate/internal/core"
	"burnrate/internal/log"
)

// overridesFor returns the user's override lists, cached.
func (s *BudgetService) overridesFor(ctx context.Context, userID string) (core.Overrides, error) {
	if o, ok := s.overrides.Get(userID); ok {
		return o, nil
	}
	o, err := s.store.Overrides(ctx, userID)
	if err != nil {
		return core.Overrides{}, fmt.Errorf("load overrides: %w", err)
	}
	s.overrides.Set(userID, o)
	return o, nil
}

// SetExcluded forces a transaction out of (or back into) the expense totals.
func (s *BudgetService) SetExcluded(ctx context.Context, userID, txID string, excluded bool) error {
	return s.toggle(ctx, userID, txID, func(o core.Overrides) {
		flip(o.Excluded, txID, excluded)
		if excluded {
			delete(o.Included, txID)
		}
	}, func(ctx context.Context) error {
		if err := s.store.SetExcluded(ctx, userID, txID, excluded); err != nil {
			return err
		}
		if excluded {
			return s.store.SetIncluded(ctx, userID, txID, false)
		}
		return nil
	})
}

// SetIncluded forces a heuristically excluded transaction into the totals.
func (s *BudgetService) SetIncluded(ctx context.Context, userID, txID string, included bool) error {
	return s.toggle(ctx, userID, txID, func(o core.Overrides) {
		flip(o.Included, txID, included)
		if included {
			delete(o.Excluded, txID)
		}
	}, func(ctx context.Context) error {
		if err := s.store.SetIncluded(ctx, userID, txID, included); err != nil {
			return err
		}
		if included {
			return s.store.SetExcluded(ctx, userID, txID, false)
		}
		return nil
	})
}

// toggle applies an override change in three steps: the speculative lists
// go into the cache first, then the store commit runs, and if that fails
// the lists are reloaded from the store.
func (s *BudgetService) toggle(ctx context.Context, userID, txID string, apply func(core.Overrides), commit func(context.Context) error) error {
	if err := s.requireTransaction(ctx, userID, txID); err != nil {
		return err
	}
	current, err := s.overridesFor(ctx, userID)
	if err != nil {
		return err
	}

	next := current.Clone()
	apply(next)
	s.overrides.Set(userID, next)
	s.months.DeletePrefix(userID + "|")

	if err := commit(ctx); err != nil {
		s.logger.WarnContext(ctx, "override commit failed, reloading from store",
			log.FieldUserID, userID,
			log.FieldTxID, txID,
			log.FieldError, err)
		s.overrides.Delete(userID)
		if _, rerr := s.overridesFor(ctx, userID); rerr != nil {
			s.logger.ErrorContext(ctx, "override reload failed", log.FieldUserID, userID, log.FieldError, rerr)
		}
		s.months.DeletePrefix(userID + "|")
		return fmt.Errorf("save override: %w", err)
	}
	return nil
}

func flip(set map[string]struct{}, id string, on bool) {
	if on {
		set[id] = struct{}{}
	} else {
		delete(set, id)
	}
}
