package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/storefront/internal/catalog/domain"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	Config config.Config
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	baseURL string
}

func New(p Params) domain.Catalog {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("catalog.service"),
		repo:    p.Repo,
		baseURL: strings.TrimRight(p.Config.StorefrontURL, "/"),
	}
}

func (s *Service) Variants(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]domain.Variant, error) {
	unique := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	rows, err := s.repo.FindVariants(ctx, s.db, unique)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]domain.Variant, len(rows))
	for _, v := range rows {
		if !v.Active {
			return nil, fmt.Errorf("%w: %s", domain.ErrVariantInactive, v.ID)
		}
		if v.Slug == "" {
			v.Slug = slug.Make(v.ProductName)
		}
		out[v.ID] = v
	}
	for _, id := range unique {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, id)
		}
	}
	return out, nil
}

func (s *Service) ItemURL(v domain.Variant) string {
	if s.baseURL == "" || v.Slug == "" {
		return ""
	}
	return s.baseURL + "/products/" + v.Slug
}
