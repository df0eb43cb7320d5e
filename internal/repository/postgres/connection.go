package postgres

import (
	"errors"

	"github.com/dom/scrim-veto/internal/domain"
	"github.com/dom/scrim-veto/internal/repository"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the realtime core reads or writes.
func Models() []any {
	return []any{
		&domain.Lobby{},
		&domain.LobbyMembership{},
		&domain.Match{},
		&domain.GameMap{},
		&domain.MapPool{},
		&domain.MapPoolMap{},
	}
}

func NewConnection(databaseURL string, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate tables
	if err = db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	return db, nil
}

func NewRepositories(db *gorm.DB) *repository.Repositories {
	return &repository.Repositories{
		Lobby:      NewLobbyRepository(db),
		Membership: NewMembershipRepository(db),
		Match:      NewMatchRepository(db),
		MapPool:    NewMapPoolRepository(db),
	}
}

// dbErr translates driver and gorm errors into repository sentinels.
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return errors.Join(repository.ErrDuplicate, err)
		case pgerrcode.ForeignKeyViolation:
			return errors.Join(repository.ErrNotFound, err)
		case pgerrcode.SerializationFailure:
			return errors.Join(repository.ErrVersionConflict, err)
		}
	}
	return err
}
