// Package account creates users and resolves API tokens.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/database"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/lib/sl"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
}

type Service struct {
	data *database.Data
	log  *slog.Logger
}

func New(data *database.Data, log *slog.Logger) *Service {
	return &Service{data: data, log: log.With(sl.Module("account"))}
}

// Register creates a user with a fresh API token. A taken username is a
// conflict.
func (s *Service) Register(ctx context.Context, req RegisterRequest, sourceIP string) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, apperr.Invalid("username is required")
	}
	user := models.User{
		Username:     username,
		APIToken:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		RegisteredIP: sourceIP,
	}
	err := s.data.DB(ctx).Create(&user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apperr.Wrap(apperr.ErrConflict, fmt.Errorf("username %q is taken", username))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("create user: %w", err))
	}
	s.log.Info("user registered", sl.User(user.ID), slog.String("ip", sourceIP))
	return &user, nil
}

func (s *Service) AuthenticateByToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.Invalid("empty token")
	}
	var user models.User
	err := s.data.DB(ctx).Where("api_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, errors.New("token not found"))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load user by token: %w", err))
	}
	return &user, nil
}

func (s *Service) Get(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := s.data.DB(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("user %d", userID))
	}
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("load user: %w", err))
	}
	return &user, nil
}

// SetAdmin is used by the operator CLI to bootstrap administrators.
func (s *Service) SetAdmin(ctx context.Context, userID uint, admin bool) error {
	res := s.data.DB(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_admin", admin)
	if res.Error != nil {
		return apperr.Unavailable(fmt.Errorf("update user: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, fmt.Errorf("user %d", userID))
	}
	return nil
}
