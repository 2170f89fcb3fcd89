package service

import (
	"context"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/repository"
)

// RecordStore 测评记录的持久化操作，*repository.AssessmentRecordRepository 实现了它
type RecordStore interface {
	Create(ctx context.Context, record *model.AssessmentRecord) error
	FindMostRecent(ctx context.Context, scope model.AssessmentScope) (*model.AssessmentRecord, error)
	FindAll(ctx context.Context, userID uint, filter model.RecordFilter) ([]model.AssessmentRecord, error)
	ListByUser(ctx context.Context, userID uint, filter model.RecordFilter, page, limit int) ([]model.AssessmentRecord, int64, error)
	FindByID(ctx context.Context, id string) (*model.AssessmentRecord, error)
	FindByIDForUser(ctx context.Context, id string, userID uint) (*model.AssessmentRecord, error)
	ListPending(ctx context.Context, skill model.Skill, page, limit int) ([]model.AssessmentRecord, int64, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	AttachEvaluation(ctx context.Context, id string, eval repository.SupervisorEvaluation) error
}

var _ RecordStore = (*repository.AssessmentRecordRepository)(nil)

// MediaUploadStore 录音上传登记，*repository.MediaUploadRepository 实现了它
type MediaUploadStore interface {
	Create(ctx context.Context, upload *model.MediaUpload) error
	FindByRef(ctx context.Context, ref string, userID uint) (*model.MediaUpload, error)
	AttachRecord(ctx context.Context, ref, recordID string) error
	Delete(ctx context.Context, ref string) error
}

var _ MediaUploadStore = (*repository.MediaUploadRepository)(nil)
