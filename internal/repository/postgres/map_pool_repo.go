package postgres

import (
	"context"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type mapPoolRepository struct {
	db *gorm.DB
}

func NewMapPoolRepository(db *gorm.DB) *mapPoolRepository {
	return &mapPoolRepository{db: db}
}

func (r *mapPoolRepository) CreateMap(ctx context.Context, gameMap *domain.GameMap) error {
	return dbErr(r.db.WithContext(ctx).Create(gameMap).Error)
}

// CreatePool inserts the pool together with its map placements.
func (r *mapPoolRepository) CreatePool(ctx context.Context, pool *domain.MapPool) error {
	return dbErr(r.db.WithContext(ctx).Create(pool).Error)
}

func (r *mapPoolRepository) GetActiveMapPool(ctx context.Context, game domain.Game) ([]uuid.UUID, error) {
	var pool domain.MapPool
	err := r.db.WithContext(ctx).
		Where("game = ?", game).
		Order("effective_at DESC NULLS LAST").
		Preload("Maps", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index")
		}).
		First(&pool).Error
	if err != nil {
		return nil, dbErr(err)
	}

	ids := make([]uuid.UUID, 0, len(pool.Maps))
	for _, m := range pool.Maps {
		ids = append(ids, m.GameMapID)
	}
	if len(ids) == 0 {
		return nil, repository.ErrNotFound
	}
	return ids, nil
}
