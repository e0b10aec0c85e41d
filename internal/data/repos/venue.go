package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

type VenueRepo interface {
	Create(ctx context.Context, tx *gorm.DB, venue *domain.Venue) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Venue, error)
	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*domain.Venue, error)
	Update(ctx context.Context, tx *gorm.DB, venue *domain.Venue) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type venueRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVenueRepo(db *gorm.DB, baseLog *logger.Logger) VenueRepo {
	return &venueRepo{db: db, log: baseLog.With("repo", "VenueRepo")}
}

func (r *venueRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *venueRepo) Create(ctx context.Context, tx *gorm.DB, venue *domain.Venue) error {
	if venue.ID == uuid.Nil {
		venue.ID = uuid.New()
	}
	return r.handle(tx).WithContext(ctx).Create(venue).Error
}

func (r *venueRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Venue, error) {
	var venue domain.Venue
	err := r.handle(tx).WithContext(ctx).First(&venue, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errkind.New(errkind.NotFound, "repos.venue.get", "venue %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &venue, nil
}

func (r *venueRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*domain.Venue, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var venues []*domain.Venue
	err := r.handle(tx).WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&venues).Error
	if err != nil {
		return nil, err
	}
	return venues, nil
}

func (r *venueRepo) Update(ctx context.Context, tx *gorm.DB, venue *domain.Venue) error {
	if venue.ID == uuid.Nil {
		return errkind.New(errkind.InvalidInput, "repos.venue.update", "venue id is required")
	}
	return r.handle(tx).WithContext(ctx).Save(venue).Error
}

func (r *venueRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.handle(tx).WithContext(ctx).Delete(&domain.Venue{}, "id = ?", id).Error
}
