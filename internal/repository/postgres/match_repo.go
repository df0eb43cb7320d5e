package postgres

import (
	"context"
	"encoding/json"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type matchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *matchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) Create(ctx context.Context, match *domain.Match) error {
	return dbErr(r.db.WithContext(ctx).Create(match).Error)
}

func (r *matchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var match domain.Match
	if err := r.db.WithContext(ctx).First(&match, "id = ?", id).Error; err != nil {
		return nil, dbErr(err)
	}
	return &match, nil
}

func (r *matchRepository) SetSelectedMap(ctx context.Context, matchID, mapID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Match{}).
		Where("id = ?", matchID).
		Updates(map[string]interface{}{
			"selected_map_id": mapID,
			"status":          domain.MatchStatusReady,
		})
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *matchRepository) SetResult(ctx context.Context, matchID uuid.UUID, result domain.VetoResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Match{}).
		Where("id = ?", matchID).
		Update("result", datatypes.JSON(raw))
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
