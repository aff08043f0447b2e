package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/customer/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	GenID  *snowflake.Node
	Repo   domain.Repository
	Config config.Config
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	genID  *snowflake.Node
	repo   domain.Repository
	cipher *fieldCipher
}

func New(p Params) domain.Service {
	log := p.Log.Named("customer.service")
	fc, err := newFieldCipher(p.Config.ProfileSecret)
	if err != nil {
		log.Warn("profile encryption disabled", zap.Error(err))
	}
	return &Service{
		db:     p.DB,
		log:    log,
		clock:  p.Clock,
		genID:  p.GenID,
		repo:   p.Repo,
		cipher: fc,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Profile, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}
	if s.cipher == nil {
		return nil, domain.ErrEncryptionKeyMissing
	}

	now := s.clock.Now()
	user := domain.User{
		ID:        s.genID.Generate(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var err error
	if user.PhoneEncrypted, err = s.cipher.Encrypt(strings.TrimSpace(req.Phone)); err != nil {
		return nil, err
	}
	if user.AddressEncrypted, err = s.cipher.Encrypt(strings.TrimSpace(req.Address)); err != nil {
		return nil, err
	}
	if user.PostalCodeEncrypted, err = s.cipher.Encrypt(strings.TrimSpace(req.PostalCode)); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}
	return &domain.Profile{
		UserID:     user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Phone:      strings.TrimSpace(req.Phone),
		Address:    strings.TrimSpace(req.Address),
		PostalCode: strings.TrimSpace(req.PostalCode),
	}, nil
}

// Profile decrypts the contact fields of a user. A field that cannot be
// decrypted is left empty so checkout can still create the invoice.
func (s *Service) Profile(ctx context.Context, userID snowflake.ID) (*domain.Profile, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidID
	}
	user, err := s.repo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}

	profile := &domain.Profile{UserID: user.ID, Name: user.Name, Email: user.Email}
	fields := []struct {
		name   string
		stored string
		dst    *string
	}{
		{"phone", user.PhoneEncrypted, &profile.Phone},
		{"address", user.AddressEncrypted, &profile.Address},
		{"postal_code", user.PostalCodeEncrypted, &profile.PostalCode},
	}
	for _, f := range fields {
		if f.stored == "" {
			continue
		}
		if s.cipher == nil {
			return nil, domain.ErrEncryptionKeyMissing
		}
		plain, err := s.cipher.Decrypt(f.stored)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidCiphertext) {
				return nil, err
			}
			s.log.Warn("profile field not decrypted",
				zap.String("user_id", user.ID.String()),
				zap.String("field", f.name),
			)
			continue
		}
		*f.dst = plain
	}
	return profile, nil
}
