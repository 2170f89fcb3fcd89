package repository

import (
	"context"
	"errors"
	"fmt"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"

	"gorm.io/gorm"
)

type MediaUploadRepository struct {
	DB *gorm.DB
}

func NewMediaUploadRepository(db *gorm.DB) *MediaUploadRepository {
	return &MediaUploadRepository{DB: db}
}

func (r *MediaUploadRepository) Create(ctx context.Context, upload *model.MediaUpload) error {
	if err := r.DB.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("create media upload: %w", err)
	}
	return nil
}

// FindByRef 其他用户的上传按不存在处理
func (r *MediaUploadRepository) FindByRef(ctx context.Context, ref string, userID uint) (*model.MediaUpload, error) {
	var upload model.MediaUpload
	err := r.DB.WithContext(ctx).Where("media_ref = ? AND user_id = ?", ref, userID).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrMediaNotFound
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// AttachRecord 条件更新，只有未被引用的上传才能绑定到记录
func (r *MediaUploadRepository) AttachRecord(ctx context.Context, ref, recordID string) error {
	result := r.DB.WithContext(ctx).Model(&model.MediaUpload{}).
		Where("media_ref = ? AND record_id = ''", ref).
		Update("record_id", recordID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.DB.WithContext(ctx).Model(&model.MediaUpload{}).Where("media_ref = ?", ref).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return util.ErrMediaNotFound
		}
		return util.ErrMediaAlreadyUsed
	}
	return nil
}

// Delete 硬删除，释放 media_ref 唯一索引
func (r *MediaUploadRepository) Delete(ctx context.Context, ref string) error {
	return r.DB.WithContext(ctx).Unscoped().Where("media_ref = ?", ref).Delete(&model.MediaUpload{}).Error
}
