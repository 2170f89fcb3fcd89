package repository

import (
	"context"
	"errors"
	"fmt"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type AssessmentRecordRepository struct {
	DB *gorm.DB
}

func NewAssessmentRecordRepository(db *gorm.DB) *AssessmentRecordRepository {
	return &AssessmentRecordRepository{DB: db}
}

// Create 条件插入：idx_record_chain 冲突说明同一前序记录已被另一次提交接续
func (r *AssessmentRecordRepository) Create(ctx context.Context, record *model.AssessmentRecord) error {
	err := r.DB.WithContext(ctx).Create(record).Error
	if isDuplicateKey(err) {
		return util.ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("create assessment record: %w", err)
	}
	return nil
}

// FindMostRecent 没有记录时返回 (nil, nil)
func (r *AssessmentRecordRepository) FindMostRecent(ctx context.Context, scope model.AssessmentScope) (*model.AssessmentRecord, error) {
	var records []model.AssessmentRecord
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND skill = ? AND level = ? AND language = ?", scope.UserID, scope.Skill, scope.Level, scope.Language).
		Order("submitted_at desc, created_at desc").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("find most recent assessment record: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *AssessmentRecordRepository) filtered(ctx context.Context, userID uint, filter model.RecordFilter) *gorm.DB {
	query := r.DB.WithContext(ctx).Model(&model.AssessmentRecord{}).Where("user_id = ?", userID)
	if filter.Skill != "" {
		query = query.Where("skill = ?", filter.Skill)
	}
	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	if filter.Language != "" {
		query = query.Where("language = ?", filter.Language)
	}
	return query
}

// FindAll 按提交时间升序返回，供统计使用
func (r *AssessmentRecordRepository) FindAll(ctx context.Context, userID uint, filter model.RecordFilter) ([]model.AssessmentRecord, error) {
	var records []model.AssessmentRecord
	err := r.filtered(ctx, userID, filter).
		Order("submitted_at asc, created_at asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list assessment records: %w", err)
	}
	return records, nil
}

// ListByUser 历史记录分页，最新的在前
func (r *AssessmentRecordRepository) ListByUser(ctx context.Context, userID uint, filter model.RecordFilter, page, limit int) ([]model.AssessmentRecord, int64, error) {
	var records []model.AssessmentRecord
	var total int64

	if err := r.filtered(ctx, userID, filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count assessment records: %w", err)
	}

	offset := (page - 1) * limit
	err := r.filtered(ctx, userID, filter).
		Order("submitted_at desc, created_at desc").
		Offset(offset).Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list assessment history: %w", err)
	}
	return records, total, nil
}

func (r *AssessmentRecordRepository) FindByID(ctx context.Context, id string) (*model.AssessmentRecord, error) {
	var record model.AssessmentRecord
	err := r.DB.WithContext(ctx).Preload("User").Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assessment record: %w", err)
	}
	return &record, nil
}

// FindByIDForUser 其他用户的记录与不存在的记录返回同一个错误
func (r *AssessmentRecordRepository) FindByIDForUser(ctx context.Context, id string, userID uint) (*model.AssessmentRecord, error) {
	var record model.AssessmentRecord
	err := r.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assessment record: %w", err)
	}
	return &record, nil
}

func (r *AssessmentRecordRepository) ListPending(ctx context.Context, skill model.Skill, page, limit int) ([]model.AssessmentRecord, int64, error) {
	var records []model.AssessmentRecord
	var total int64

	pending := func() *gorm.DB {
		query := r.DB.WithContext(ctx).Model(&model.AssessmentRecord{}).Where("status = ?", model.StatusPending)
		if skill != "" {
			query = query.Where("skill = ?", skill)
		}
		return query
	}
	if err := pending().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count pending records: %w", err)
	}

	offset := (page - 1) * limit
	err := pending().Preload("User").
		Order("submitted_at asc").
		Offset(offset).Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list pending records: %w", err)
	}
	return records, total, nil
}

// Update 按字段更新记录，不存在时返回 ErrRecordNotFound
func (r *AssessmentRecordRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.DB.WithContext(ctx).Model(&model.AssessmentRecord{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update assessment record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return util.ErrRecordNotFound
	}
	return nil
}

type SupervisorEvaluation struct {
	SupervisorID uint
	Score        float64
	Feedback     string
	EvaluatedAt  time.Time
}

// AttachEvaluation 只在 pending 状态下写入督导评分，原始 score 字段不变
func (r *AssessmentRecordRepository) AttachEvaluation(ctx context.Context, id string, eval SupervisorEvaluation) error {
	result := r.DB.WithContext(ctx).Model(&model.AssessmentRecord{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"status":              model.StatusEvaluated,
			"supervisor_score":    eval.Score,
			"supervisor_feedback": eval.Feedback,
			"supervisor_id":       eval.SupervisorID,
			"evaluated_at":        eval.EvaluatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("attach supervisor evaluation: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// 区分记录不存在与状态不符
	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == model.StatusEvaluated {
		return util.ErrAlreadyEvaluated
	}
	return util.ErrNotPendingReview
}

// isDuplicateKey 依赖 gorm.Config.TranslateError，三种驱动都会翻译为 gorm.ErrDuplicatedKey
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
