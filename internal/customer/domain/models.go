package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is a storefront account. Phone, address and postal code are stored
// encrypted; see the customer service for the envelope format.
type User struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	Name                string       `gorm:"type:text;not null" json:"name"`
	Email               string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	PhoneEncrypted      string       `gorm:"column:phone_encrypted;type:text;not null;default:''" json:"-"`
	AddressEncrypted    string       `gorm:"column:address_encrypted;type:text;not null;default:''" json:"-"`
	PostalCodeEncrypted string       `gorm:"column:postal_code_encrypted;type:text;not null;default:''" json:"-"`
	CreatedAt           time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Profile is the decrypted customer data sent along with a gateway invoice.
type Profile struct {
	UserID     snowflake.ID `json:"user_id"`
	Name       string       `json:"name"`
	Email      string       `json:"email"`
	Phone      string       `json:"phone,omitempty"`
	Address    string       `json:"address,omitempty"`
	PostalCode string       `json:"postal_code,omitempty"`
}
