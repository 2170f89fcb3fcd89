package service

import (
	"context"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/repository"
	"lingo_assess_backend/internal/util"
	"lingo_assess_backend/pkg/logger"
	"strings"
	"time"

	"go.uber.org/zap"
)

type EvaluateRequest struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// MediaLinker 生成录音的访问地址
type MediaLinker interface {
	URL(ref string) string
}

type SupervisorService struct {
	Store RecordStore
	Media MediaLinker
	now   func() time.Time
}

func NewSupervisorService(store RecordStore, media MediaLinker) *SupervisorService {
	return &SupervisorService{Store: store, Media: media, now: time.Now}
}

func (s *SupervisorService) linkMedia(record *model.AssessmentRecord) {
	if s.Media != nil && record.MediaRef != "" {
		record.MediaURL = s.Media.URL(record.MediaRef)
	}
}

func (s *SupervisorService) ListPending(ctx context.Context, skill string, page, limit int) ([]model.AssessmentRecord, int64, error) {
	var sk model.Skill
	if skill != "" {
		parsed, ok := model.ParseSkill(skill)
		if !ok {
			return nil, 0, util.ErrInvalidSkill
		}
		sk = parsed
	}
	records, total, err := s.Store.ListPending(ctx, sk, page, limit)
	if err != nil {
		return nil, 0, err
	}
	for i := range records {
		s.linkMedia(&records[i])
	}
	return records, total, nil
}

func (s *SupervisorService) GetRecord(ctx context.Context, id string) (*model.AssessmentRecord, error) {
	record, err := s.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.linkMedia(record)
	return record, nil
}

// Evaluate pending → evaluated，只写督导字段，自动评分结果保持不变
func (s *SupervisorService) Evaluate(ctx context.Context, supervisorID uint, id string, req EvaluateRequest) (*model.AssessmentRecord, error) {
	var verr util.ValidationError
	switch {
	case req.Score == nil:
		verr.Add("score", "required")
	case *req.Score < 0 || *req.Score > 100:
		verr.Add("score", "must be between 0 and 100")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	err := s.Store.AttachEvaluation(ctx, id, repository.SupervisorEvaluation{
		SupervisorID: supervisorID,
		Score:        *req.Score,
		Feedback:     strings.TrimSpace(req.Feedback),
		EvaluatedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Assessment evaluated by supervisor",
		zap.Uint("supervisorId", supervisorID),
		zap.String("recordId", id),
		zap.Float64("score", *req.Score),
	)
	return s.GetRecord(ctx, id)
}
