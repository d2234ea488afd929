// Package users maps session identities onto the canonical user ids that scope every archive row.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

const defaultProvider = "default"

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves canonical user ids. Resolved ids are memoized per provider login.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveUserID returns the canonical user id for the claims, registering the login on first sight.
func (s *Service) ResolveUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := providerSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		return cached.(string), nil
	}

	account := Account{
		Provider:    provider,
		Subject:     subject,
		UserID:      subject,
		Email:       trimmed(claims.UserEmail),
		DisplayName: trimmed(claims.UserDisplayName),
		LastSeenAt:  s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
	}).Create(&account).Error
	if err != nil {
		s.logger.Error("user account upsert failed", zap.String("provider", provider), zap.Error(err))
		return "", err
	}

	var stored Account
	if err := s.db.WithContext(ctx).Where("provider = ? AND subject = ?", provider, subject).Take(&stored).Error; err != nil {
		return "", err
	}
	s.cache.Store(cacheKey, stored.UserID)
	return stored.UserID, nil
}

// providerSubject splits "provider:subject" user ids; plain ids use the default provider.
func providerSubject(claims auth.SessionClaims) (string, string) {
	raw := claims.Identity()
	if provider, subject, found := strings.Cut(raw, ":"); found && trimmed(provider) != "" && trimmed(subject) != "" {
		return trimmed(provider), trimmed(subject)
	}
	if raw != "" {
		return defaultProvider, raw
	}
	return defaultProvider, trimmed(claims.UserEmail)
}
