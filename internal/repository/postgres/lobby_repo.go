package postgres

import (
	"context"
	"time"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type lobbyRepository struct {
	db *gorm.DB
}

func NewLobbyRepository(db *gorm.DB) *lobbyRepository {
	return &lobbyRepository{db: db}
}

func (r *lobbyRepository) Create(ctx context.Context, lobby *domain.Lobby) error {
	return dbErr(r.db.WithContext(ctx).Create(lobby).Error)
}

func (r *lobbyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lobby, error) {
	var lobby domain.Lobby
	if err := r.db.WithContext(ctx).First(&lobby, "id = ?", id).Error; err != nil {
		return nil, dbErr(err)
	}
	return &lobby, nil
}

func (r *lobbyRepository) Commit(ctx context.Context, lobbyID uuid.UUID, expectedVersion int64, change domain.LobbyChange) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Lobby{}).
			Where("id = ? AND version = ?", lobbyID, expectedVersion).
			Updates(map[string]interface{}{
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return dbErr(res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrVersionConflict
		}

		if len(change.Remove) > 0 {
			err := tx.Where("lobby_id = ? AND user_id IN ?", lobbyID, change.Remove).
				Delete(&domain.LobbyMembership{}).Error
			if err != nil {
				return dbErr(err)
			}
		}

		for _, m := range change.Upsert {
			m.ID = uuid.Nil
			m.LobbyID = lobbyID
			if m.JoinedAt.IsZero() {
				m.JoinedAt = time.Now().UTC()
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "lobby_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"role", "team"}),
			}).Create(&m).Error
			if err != nil {
				return dbErr(err)
			}
		}
		return nil
	})
}
