package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Catalog interface {
	// Variants returns the requested variants keyed by id. A missing or
	// inactive variant fails the whole lookup.
	Variants(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]Variant, error)
	// ItemURL is the storefront page of a variant.
	ItemURL(v Variant) string
}

var (
	ErrVariantNotFound = errors.New("variant_not_found")
	ErrVariantInactive = errors.New("variant_inactive")
)
