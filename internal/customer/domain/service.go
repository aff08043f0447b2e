package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RegisterRequest struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	PostalCode string
}

// ProfileProvider resolves the customer block of a gateway invoice.
type ProfileProvider interface {
	Profile(ctx context.Context, userID snowflake.ID) (*Profile, error)
}

type Service interface {
	ProfileProvider
	Register(ctx context.Context, req RegisterRequest) (*Profile, error)
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidID            = errors.New("invalid_id")
	ErrNotFound             = errors.New("customer_not_found")
	ErrEmailTaken           = errors.New("email_taken")
	ErrEncryptionKeyMissing = errors.New("profile_encryption_key_missing")
	ErrInvalidCiphertext    = errors.New("invalid_profile_ciphertext")
)
