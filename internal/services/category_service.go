package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"burnrate/internal/categories"
	"burnrate/internal/core"
	"burnrate/internal/ports"
)

var (
	categoryKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,39}$`)
	colorPattern       = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

const maxCategoryName = 60

type CategoryService struct {
	store       ports.CategoryStore
	invalidator Invalidator
}

func NewCategoryService(store ports.CategoryStore, invalidator Invalidator) *CategoryService {
	return &CategoryService{store: store, invalidator: invalidator}
}

// List returns the built-in categories followed by the user's own.
func (s *CategoryService) List(ctx context.Context, userID string) ([]categories.Info, error) {
	custom, err := s.store.CustomCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	var out []categories.Info
	for _, c := range categories.Builtin() {
		out = append(out, categories.Info{Key: c.Key, Name: c.Name, Icon: c.Icon, Color: c.Color})
	}
	for _, c := range custom {
		out = append(out, categories.Info{Key: c.Key, Name: c.Name, Icon: c.Icon, Color: c.Color, IsCustom: true})
	}
	return out, nil
}

// Save creates or replaces a custom category.
func (s *CategoryService) Save(ctx context.Context, userID string, c core.CustomCategory) (core.CustomCategory, error) {
	c.Key = strings.ToLower(strings.TrimSpace(c.Key))
	c.Name = cleanText(c.Name)
	c.Icon = cleanText(c.Icon)
	c.Color = strings.TrimSpace(c.Color)

	switch {
	case !categoryKeyPattern.MatchString(c.Key):
		return c, core.NewValidationError("key", "use lowercase letters, digits, '-' or '_'")
	case categories.IsBuiltin(c.Key):
		return c, core.NewValidationError("key", "clashes with a built-in category")
	case c.Name == "" || len([]rune(c.Name)) > maxCategoryName:
		return c, core.NewValidationError("name", fmt.Sprintf("must be 1 to %d characters", maxCategoryName))
	case c.Color != "" && !colorPattern.MatchString(c.Color):
		return c, core.NewValidationError("color", "must be #rrggbb")
	case len([]rune(c.Icon)) > 8:
		return c, core.NewValidationError("icon", "too long")
	}

	if err := s.store.SaveCustomCategory(ctx, userID, c); err != nil {
		return c, err
	}
	s.invalidate(userID)
	return c, nil
}

// Delete removes a custom category and every assignment to it.
func (s *CategoryService) Delete(ctx context.Context, userID, key string) error {
	if categories.IsBuiltin(key) {
		return core.NewValidationError("key", "built-in categories cannot be deleted")
	}
	if err := s.store.DeleteCustomCategory(ctx, userID, key); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *CategoryService) invalidate(userID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}
}
