package authorization

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidKeyConfig = errors.New("invalid_admin_api_key_config")

// Key is one configured admin API key. Hash is a bcrypt hash of the secret.
type Key struct {
	Name string
	Role string
	Hash string
}

// Subject is the casbin subject of the key.
func (k Key) Subject() string {
	return "key:" + k.Name
}

// KeyRing holds the admin API keys parsed from ADMIN_API_KEYS, a comma
// separated list of name|role|bcrypt-hash entries. Tokens are presented as
// name:secret.
type KeyRing struct {
	keys map[string]Key
}

func NewKeyRing(cfg config.Config) (*KeyRing, error) {
	return ParseKeys(cfg.AdminAPIKeys)
}

func ParseKeys(raw string) (*KeyRing, error) {
	ring := &KeyRing{keys: map[string]Key{}}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: expected name|role|hash", ErrInvalidKeyConfig)
		}
		key := Key{
			Name: strings.TrimSpace(parts[0]),
			Role: strings.ToLower(strings.TrimSpace(parts[1])),
			Hash: strings.TrimSpace(parts[2]),
		}
		if key.Name == "" || strings.Contains(key.Name, ":") {
			return nil, fmt.Errorf("%w: invalid key name %q", ErrInvalidKeyConfig, key.Name)
		}
		switch key.Role {
		case RoleAdmin, RoleOperator, RoleViewer:
		default:
			return nil, fmt.Errorf("%w: unknown role %q for key %s", ErrInvalidKeyConfig, key.Role, key.Name)
		}
		if _, err := bcrypt.Cost([]byte(key.Hash)); err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrInvalidKeyConfig, key.Name, err)
		}
		if _, dup := ring.keys[key.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate key %s", ErrInvalidKeyConfig, key.Name)
		}
		ring.keys[key.Name] = key
	}
	return ring, nil
}

func (r *KeyRing) Keys() []Key {
	if r == nil {
		return nil
	}
	out := make([]Key, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k)
	}
	return out
}

func (r *KeyRing) Authenticate(token string) (Key, bool) {
	if r == nil {
		return Key{}, false
	}
	name, secret, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || name == "" || secret == "" {
		return Key{}, false
	}
	key, found := r.keys[name]
	if !found {
		return Key{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
		return Key{}, false
	}
	return key, true
}

// HashSecret returns the bcrypt hash to put in ADMIN_API_KEYS.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
