package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/fitreg/internal/metrics"
	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/storage"
)

// Directory creates and looks up users by their transport identifier.
type Directory interface {
	CreateUser(ctx context.Context, externalID string) (profile.Profile, error)
	GetUserByExternalID(ctx context.Context, externalID string) (profile.Profile, error)
}

// TurnLog records dialogue turns.
type TurnLog interface {
	SaveTurn(ctx context.Context, t profile.Turn) error
}

// Service runs the Engine against stored profiles. Messages of one user are
// handled one at a time; different users proceed in parallel.
type Service struct {
	engine   *Engine
	profiles profile.Store
	users    Directory
	turns    TurnLog
	locks    *keyLock
}

// NewService creates a Service. turns may be nil to disable the turn log.
func NewService(engine *Engine, profiles profile.Store, users Directory, turns TurnLog) *Service {
	return &Service{
		engine:   engine,
		profiles: profiles,
		users:    users,
		turns:    turns,
		locks:    newKeyLock(),
	}
}

// Register returns the user registered under externalID, creating it at the
// greeting step on first contact. An empty externalID always creates a new
// user. The second result reports whether the user was created.
func (s *Service) Register(ctx context.Context, externalID string) (profile.Profile, bool, error) {
	if externalID == "" {
		p, err := s.users.CreateUser(ctx, "")
		if err != nil {
			return profile.Profile{}, false, fmt.Errorf("creating user: %w", err)
		}
		return p, true, nil
	}

	release, err := s.locks.acquire(ctx, "ext:"+externalID)
	if err != nil {
		return profile.Profile{}, false, err
	}
	defer release()

	p, err := s.users.GetUserByExternalID(ctx, externalID)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, false, fmt.Errorf("looking up user %s: %w", externalID, err)
	}

	p, err = s.users.CreateUser(ctx, externalID)
	if err != nil {
		return profile.Profile{}, false, fmt.Errorf("creating user %s: %w", externalID, err)
	}
	slog.Info("user registered", "user_id", p.ID, "external_id", externalID)
	return p, true, nil
}

// HandleMessage processes one inbound message of userID and persists the
// resulting profile changes.
func (s *Service) HandleMessage(ctx context.Context, userID, text string) (Result, error) {
	return s.run(ctx, userID, text, func(p profile.Profile) (Result, error) {
		return s.engine.ProcessMessage(ctx, p, text)
	})
}

// BeginEdit moves userID back into collection after confirmation.
func (s *Service) BeginEdit(ctx context.Context, userID string) (Result, error) {
	return s.run(ctx, userID, "", func(p profile.Profile) (Result, error) {
		return s.engine.BeginEdit(p)
	})
}

func (s *Service) run(ctx context.Context, userID, text string, step func(profile.Profile) (Result, error)) (Result, error) {
	release, err := s.locks.acquire(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	metrics.UsersActive.Inc()
	defer metrics.UsersActive.Dec()

	before, err := s.profiles.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	metrics.MessagesTotal.WithLabelValues(string(before.RegistrationStep)).Inc()

	res, err := step(before)
	if err != nil {
		return Result{}, err
	}

	patch := profile.Diff(before, res.Profile)
	if !patch.IsEmpty() {
		if err := s.profiles.UpdateProfileData(ctx, userID, patch); err != nil {
			slog.Error("saving profile", "user_id", userID, "error", err)
			return Result{}, fmt.Errorf("saving profile %s: %w", userID, err)
		}
	}

	from, to := before.RegistrationStep, res.Profile.RegistrationStep
	if from != to {
		metrics.StepTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		slog.Info("registration step changed", "user_id", userID, "from", from, "to", to)
		if to == profile.StepComplete {
			metrics.RegistrationsCompleted.Inc()
		}
	}

	if s.turns != nil {
		turn := profile.Turn{
			UserID:     userID,
			StepBefore: from,
			StepAfter:  to,
			UserText:   text,
			Reply:      res.Response,
			Extracted:  res.Extracted,
		}
		if err := s.turns.SaveTurn(ctx, turn); err != nil {
			slog.Warn("saving turn", "user_id", userID, "error", err)
		}
	}

	return res, nil
}
