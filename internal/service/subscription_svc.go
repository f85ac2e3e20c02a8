package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"videoshop/internal/model"
	"videoshop/internal/repository"
	"videoshop/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ErrValidation bad caller input; the HTTP layer answers 400.
var ErrValidation = errors.New("validation failed")

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ==================== SubscriptionService ====================

type CreateSubscriptionInput struct {
	UserID      string
	Email       string
	Type        string
	Target      string
	DisplayName string
	Frequency   string
	Settings    model.SubscriptionSettings
}

type SubscriptionService struct {
	repo repository.SubscriptionRepository
	log  *zap.SugaredLogger
}

func NewSubscriptionService(repo repository.SubscriptionRepository) *SubscriptionService {
	return &SubscriptionService{
		repo: repo,
		log:  logger.Named("[Subscriptions]"),
	}
}

func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*model.Subscription, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, validationError("invalid email %q", in.Email)
	}
	if !model.ValidSubscriptionType(in.Type) {
		return nil, validationError("unknown subscription type %q", in.Type)
	}
	target := strings.TrimSpace(in.Target)
	if target == "" && in.Type != model.SubscriptionNewProducts {
		return nil, validationError("target is required for %s subscriptions", in.Type)
	}
	freq := in.Frequency
	switch freq {
	case "":
		freq = model.FrequencyInstant
	case model.FrequencyInstant, model.FrequencyDaily, model.FrequencyWeekly:
	default:
		return nil, validationError("unknown frequency %q", in.Frequency)
	}
	if err := validateSettings(in.Settings); err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		UserID:      in.UserID,
		Email:       email,
		Type:        in.Type,
		Target:      target,
		DisplayName: in.DisplayName,
		Frequency:   freq,
		IsActive:    true,
		Settings:    datatypes.NewJSONType(in.Settings),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.log.Infow("subscription created", "id", sub.ID, "type", sub.Type, "target", sub.Target)
	return sub, nil
}

func validateSettings(st model.SubscriptionSettings) error {
	if st.MinPrice < 0 || st.MaxPrice < 0 {
		return validationError("prices must not be negative")
	}
	if st.MaxPrice > 0 && st.MinPrice > st.MaxPrice {
		return validationError("min price %.2f above max price %.2f", st.MinPrice, st.MaxPrice)
	}
	if st.PriceDropPercentage < 0 || st.PriceDropPercentage > 100 {
		return validationError("price drop percentage must be within 0-100")
	}
	return nil
}

func (s *SubscriptionService) ListByEmail(ctx context.Context, email string) ([]model.Subscription, error) {
	if strings.TrimSpace(email) == "" {
		return nil, validationError("email is required")
	}
	return s.repo.ListByEmail(ctx, email)
}

// Toggle flips the active flag and returns the updated subscription.
func (s *SubscriptionService) Toggle(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.IsActive = !sub.IsActive
	if err := s.repo.SetActive(ctx, id, sub.IsActive); err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateSettings changes frequency and filters. Empty frequency and nil
// settings keep the current values.
func (s *SubscriptionService) UpdateSettings(ctx context.Context, id int64, frequency string, settings *model.SubscriptionSettings) (*model.Subscription, error) {
	if settings != nil {
		if err := validateSettings(*settings); err != nil {
			return nil, err
		}
	}
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch frequency {
	case "":
	case model.FrequencyInstant, model.FrequencyDaily, model.FrequencyWeekly:
		sub.Frequency = frequency
	default:
		return nil, validationError("unknown frequency %q", frequency)
	}
	if settings != nil {
		sub.Settings = datatypes.NewJSONType(*settings)
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Deactivate soft-disables a subscription; the row is kept.
func (s *SubscriptionService) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.SetActive(ctx, id, false)
}
