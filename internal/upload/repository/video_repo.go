package repository

import (
	"context"
	"errors"
	"fmt"

	"video_transcode_pipeline/internal/upload/domain"

	"gorm.io/gorm"
)

// VideoRepo definition video records
type VideoRepo interface {
	AutoMigrate() error
	Create(ctx context.Context, video *domain.Video) error
	GetByID(ctx context.Context, id string) (*domain.Video, error)
	UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, fields map[string]interface{}) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Video, error)
}

type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepo create VideoRepo
func NewVideoRepo(db *gorm.DB) VideoRepo {
	return &videoRepo{db: db}
}

// AutoMigrate creates or extends the videos table
func (r *videoRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Video{})
}

func (r *videoRepo) Create(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

// GetByID returns domain.ErrVideoNotFound when no row matches
func (r *videoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	var v domain.Video
	if err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
		}
		return nil, err
	}
	return &v, nil
}

// UpdateStatus sets status plus any extra columns, only touching the named columns
func (r *videoRepo) UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": string(status)}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&domain.Video{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVideoNotFound, id)
	}
	return nil
}

// ListByOwner newest first
func (r *videoRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Video, error) {
	var videos []domain.Video
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}
