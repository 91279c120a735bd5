package core

import (
	"context"
	"strings"

	"mealcore/pkg/domain"
)

// loadOrNewDay returns the caller's day for date, or an unsaved empty day.
func (s *Service) loadOrNewDay(ctx context.Context, userID, date string) (domain.Day, error) {
	day, err := s.store.Days().GetByDateAndUserID(ctx, date, userID)
	if err == nil {
		return day, nil
	}
	if !domain.IsNotFound(err) {
		return domain.Day{}, err
	}
	now := s.now()
	return domain.Day{Base: domain.Base{ID: s.ids.NewID(), CreatedAt: now, UpdatedAt: now}, UserID: userID, Date: date}, nil
}

func validateDayKey(userID, date string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	_, err := domain.ParseDay(date)
	return err
}

// editDay applies edit to the caller's day for date, creating the day when
// create is set and none exists yet.
func (s *Service) editDay(ctx context.Context, op, userID, date string, create bool, edit func(ctx context.Context, day *domain.Day) error) (domain.Day, error) {
	var day domain.Day
	err := s.run(ctx, op, func(ctx context.Context) error {
		if err := validateDayKey(userID, date); err != nil {
			return err
		}
		return s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
			var err error
			if create {
				day, err = s.loadOrNewDay(txCtx, userID, date)
			} else {
				day, err = s.store.Days().GetByDateAndUserID(txCtx, date, userID)
			}
			if err != nil {
				return storeFailure("load day", err)
			}
			if err := edit(txCtx, &day); err != nil {
				return storeFailure("edit day", err)
			}
			day.UpdatedAt = s.now()
			return storeFailure("save day", s.store.Days().Save(txCtx, day))
		})
	})
	if err != nil {
		return domain.Day{}, err
	}
	return day, nil
}

// AddMealToDay attaches a snapshot of the caller's meal to the day, creating
// the day on first use.
func (s *Service) AddMealToDay(ctx context.Context, userID, date, mealID string) (domain.Day, error) {
	return s.editDay(ctx, "add_meal_to_day", userID, date, true, func(ctx context.Context, day *domain.Day) error {
		meal, err := s.store.Meals().GetByIDAndUserID(ctx, mealID, userID)
		if err != nil {
			return err
		}
		return day.AddMeal(meal)
	})
}

// RemoveMealFromDay detaches a meal from an existing day.
func (s *Service) RemoveMealFromDay(ctx context.Context, userID, date, mealID string) (domain.Day, error) {
	return s.editDay(ctx, "remove_meal_from_day", userID, date, false, func(_ context.Context, day *domain.Day) error {
		return day.RemoveMeal(mealID)
	})
}

// AddFakeMealToDay records a flat nutrition entry. An empty id is generated.
func (s *Service) AddFakeMealToDay(ctx context.Context, userID, date string, fake domain.FakeMeal) (domain.Day, error) {
	if fake.ID == "" {
		fake.ID = s.ids.NewID()
	}
	return s.editDay(ctx, "add_fake_meal_to_day", userID, date, true, func(_ context.Context, day *domain.Day) error {
		return day.AddFakeMeal(fake)
	})
}

// RemoveFakeMealFromDay deletes a fake meal from an existing day.
func (s *Service) RemoveFakeMealFromDay(ctx context.Context, userID, date, fakeMealID string) (domain.Day, error) {
	return s.editDay(ctx, "remove_fake_meal_from_day", userID, date, false, func(_ context.Context, day *domain.Day) error {
		return day.RemoveFakeMeal(fakeMealID)
	})
}

// GetDay returns the caller's day for date.
func (s *Service) GetDay(ctx context.Context, userID, date string) (domain.Day, error) {
	var day domain.Day
	err := s.run(ctx, "get_day", func(ctx context.Context) error {
		if err := validateDayKey(userID, date); err != nil {
			return err
		}
		var err error
		day, err = s.store.Days().GetByDateAndUserID(ctx, date, userID)
		return err
	})
	return day, err
}
