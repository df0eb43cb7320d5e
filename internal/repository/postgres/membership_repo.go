package postgres

import (
	"context"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type membershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *membershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) FindMembers(ctx context.Context, lobbyID uuid.UUID) ([]domain.LobbyMembership, error) {
	var members []domain.LobbyMembership
	err := r.db.WithContext(ctx).
		Where("lobby_id = ?", lobbyID).
		Order("joined_at").
		Find(&members).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return members, nil
}
