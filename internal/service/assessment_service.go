package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"lingo_assess_backend/pkg/logger"
	"lingo_assess_backend/pkg/monitoring"
	"lingo_assess_backend/pkg/tracing"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DenialCooldown = "cooldown_active"

	minTranscriptLength = 10
)

// SubmitRequest 提交请求，技能由路由参数给出
type SubmitRequest struct {
	Level    string `json:"level"`
	Language string `json:"language"`
	model.SubmissionPayload
}

// SpeakingMedia 口语提交引用的录音上传，*MediaService 实现了它
type SpeakingMedia interface {
	Resolve(ctx context.Context, userID uint, ref string) (*model.MediaUpload, error)
	Attach(ctx context.Context, ref, recordID string) error
	Discard(ctx context.Context, userID uint, ref string) error
}

type SubmissionDenial struct {
	Reason            string     `json:"reason"`
	Message           string     `json:"message"`
	NextAvailableDate *time.Time `json:"nextAvailableDate,omitempty"`
	PreviousScore     *float64   `json:"previousScore,omitempty"`
}

// SubmissionResult Success=false 时只有 Denial，不是错误
type SubmissionResult struct {
	Success bool                    `json:"success"`
	Record  *model.AssessmentRecord `json:"record,omitempty"`
	Denial  *SubmissionDenial       `json:"denial,omitempty"`
	Scoring *ScoringOutcome         `json:"scoring,omitempty"`
}

type AssessmentService struct {
	Store        RecordStore
	Availability *AvailabilityService
	Scoring      *ScoringService
	Guard        SubmissionGuard
	Media        SpeakingMedia
	now          func() time.Time
}

func NewAssessmentService(store RecordStore, availability *AvailabilityService, scoring *ScoringService, guard SubmissionGuard, media SpeakingMedia) *AssessmentService {
	if guard == nil {
		guard = NewLocalGuard()
	}
	return &AssessmentService{
		Store:        store,
		Availability: availability,
		Scoring:      scoring,
		Guard:        guard,
		Media:        media,
		now:          time.Now,
	}
}

func validateScope(v *util.ValidationError, userID uint, skillParam, level, language string) model.AssessmentScope {
	skill, ok := model.ParseSkill(skillParam)
	if !ok {
		v.Add("skill", "must be one of reading, writing, speaking, listening")
	}

	level = model.NormalizeLevel(level)
	switch {
	case level == "":
		v.Add("level", "required")
	case !model.IsValidLevel(level):
		v.Add("level", "must be a CEFR level (A1, A2, B1, B2, C1, C2)")
	}

	language = model.NormalizeLanguage(language)
	if language == "" {
		v.Add("language", "required")
	}

	return model.AssessmentScope{UserID: userID, Skill: skill, Level: level, Language: language}
}

func mediaPrefix(userID uint) string {
	return fmt.Sprintf("%s/%d/", speakingMediaDir, userID)
}

// validatePayload 各技能的必填规则，一次收集所有字段错误
func validatePayload(v *util.ValidationError, userID uint, skill model.Skill, p model.SubmissionPayload) {
	switch skill {
	case model.SkillReading, model.SkillListening:
		if len(p.AnswerSets) == 0 {
			v.Add("answerSets", "at least one answer set is required")
			return
		}
		for i, set := range p.AnswerSets {
			if len(set.Answers) == 0 {
				v.Add(fmt.Sprintf("answerSets[%d].answers", i), "at least one answer is required")
			}
		}
	case model.SkillWriting:
		if strings.TrimSpace(p.Text) == "" {
			v.Add("text", "required")
		}
	case model.SkillSpeaking:
		transcript := utf8.RuneCountInString(strings.TrimSpace(p.TranscribedText))
		if p.MediaRef == "" && transcript < minTranscriptLength {
			v.Add("transcribedText", fmt.Sprintf("at least %d characters or a mediaRef is required", minTranscriptLength))
		}
		if p.MediaRef != "" && !strings.HasPrefix(p.MediaRef, mediaPrefix(userID)) {
			v.Add("mediaRef", "unknown media reference")
		}
	}
}

func denialFrom(decision model.AvailabilityDecision) *SubmissionResult {
	return &SubmissionResult{
		Success: false,
		Denial: &SubmissionDenial{
			Reason:            DenialCooldown,
			Message:           "this assessment can be taken again after the cooldown period",
			NextAvailableDate: decision.NextAvailableDate,
			PreviousScore:     decision.PreviousScore,
		},
	}
}

func skillLabel(skill model.Skill) string {
	if skill == "" {
		return "unknown"
	}
	return string(skill)
}

// Submit 校验 → 冷却期检查 → 评分 → 写入一条记录。
// 冷却期内返回 Success=false 的结果而不是错误，此时不评分也不写入。
func (s *AssessmentService) Submit(ctx context.Context, userID uint, skillParam string, req SubmitRequest) (*SubmissionResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "assessment.submit")
	defer span.End()

	var verr util.ValidationError
	scope := validateScope(&verr, userID, skillParam, req.Level, req.Language)
	if scope.Skill != "" {
		validatePayload(&verr, userID, scope.Skill, req.SubmissionPayload)
	}
	if err := verr.Err(); err != nil {
		monitoring.ObserveSubmission(skillLabel(scope.Skill), "invalid")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("skill", string(scope.Skill)),
		attribute.String("level", scope.Level),
		attribute.String("language", scope.Language),
	)

	decision, err := s.Availability.Check(ctx, scope)
	if err != nil {
		monitoring.ObserveSubmission(string(scope.Skill), "error")
		return nil, err
	}
	if !decision.Available {
		monitoring.ObserveSubmission(string(scope.Skill), "denied")
		s.discardMedia(ctx, userID, req.MediaRef)
		return denialFrom(decision), nil
	}

	release, ok, err := s.Guard.Acquire(ctx, scope)
	if err != nil {
		// 存储层约束兜底，锁不可用时继续
		logger.Log.Warn("Submission guard unavailable", zap.Uint("userId", userID), zap.Error(err))
	} else if !ok {
		monitoring.ObserveSubmission(string(scope.Skill), "conflict")
		return nil, util.ErrSubmissionInProgress
	}
	defer release()

	var upload *model.MediaUpload
	if req.MediaRef != "" {
		upload, err = s.resolveMedia(ctx, userID, req.MediaRef)
		if err != nil {
			monitoring.ObserveSubmission(string(scope.Skill), "invalid")
			return nil, err
		}
	}

	record, outcome, err := s.buildRecord(ctx, scope, req, upload)
	if err != nil {
		monitoring.ObserveSubmission(string(scope.Skill), "error")
		return nil, err
	}
	if decision.PreviousRecord != nil {
		record.PreviousRecordID = decision.PreviousRecord.ID
	}

	if err := s.Store.Create(ctx, record); err != nil {
		if errors.Is(err, util.ErrDuplicateRecord) {
			return s.resolveConflict(ctx, scope, req.MediaRef, err)
		}
		monitoring.ObserveSubmission(string(scope.Skill), "error")
		return nil, err
	}

	if upload != nil {
		if err := s.Media.Attach(ctx, upload.MediaRef, record.ID); err != nil {
			logger.Log.Warn("Attach speaking media failed",
				zap.String("recordId", record.ID),
				zap.String("mediaRef", upload.MediaRef),
				zap.Error(err),
			)
		}
	}

	monitoring.ObserveSubmission(string(scope.Skill), "accepted")
	logger.Log.Info("Assessment submitted",
		zap.Uint("userId", userID),
		zap.String("recordId", record.ID),
		zap.String("skill", string(scope.Skill)),
		zap.String("level", scope.Level),
		zap.String("language", scope.Language),
		zap.String("scoreSource", string(record.ScoreSource)),
	)
	return &SubmissionResult{Success: true, Record: record, Scoring: outcome}, nil
}

// resolveMedia 未登记、已被使用或对象已丢失的 mediaRef 都按字段错误返回
func (s *AssessmentService) resolveMedia(ctx context.Context, userID uint, ref string) (*model.MediaUpload, error) {
	var verr util.ValidationError
	if s.Media == nil {
		verr.Add("mediaRef", "unknown media reference")
		return nil, verr.Err()
	}
	upload, err := s.Media.Resolve(ctx, userID, ref)
	switch {
	case errors.Is(err, util.ErrMediaNotFound):
		verr.Add("mediaRef", "unknown media reference")
		return nil, verr.Err()
	case errors.Is(err, util.ErrMediaAlreadyUsed):
		verr.Add("mediaRef", "already used by another submission")
		return nil, verr.Err()
	case err != nil:
		return nil, err
	}
	return upload, nil
}

// discardMedia 被拒绝的提交不会再引用这份录音
func (s *AssessmentService) discardMedia(ctx context.Context, userID uint, ref string) {
	if ref == "" || s.Media == nil {
		return
	}
	if err := s.Media.Discard(ctx, userID, ref); err != nil {
		logger.Log.Warn("Discard speaking media failed", zap.String("mediaRef", ref), zap.Error(err))
	}
}

func (s *AssessmentService) buildRecord(ctx context.Context, scope model.AssessmentScope, req SubmitRequest, upload *model.MediaUpload) (*model.AssessmentRecord, *ScoringOutcome, error) {
	answers, err := json.Marshal(req.SubmissionPayload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode answers: %w", err)
	}

	record := &model.AssessmentRecord{
		UserID:      scope.UserID,
		Skill:       scope.Skill,
		Level:       scope.Level,
		Language:    scope.Language,
		Answers:     datatypes.JSON(answers),
		ScoreSource: model.ScoreSourceNone,
		Status:      model.StatusNone,
	}
	if upload != nil {
		record.MediaRef = upload.MediaRef
		record.MediaDurationSeconds = upload.DurationSeconds
	}

	// 口语交给督导人工评估
	if scope.Skill.RequiresReview() {
		record.Status = model.StatusPending
		record.SubmittedAt = s.now().UTC()
		return record, nil, nil
	}

	outcome := s.Scoring.Score(ctx, ScoreRequest{
		Skill:    scope.Skill,
		Level:    scope.Level,
		Language: scope.Language,
		Payload:  req.SubmissionPayload,
	})

	score := outcome.Result.Score
	record.Score = &score
	record.Feedback = outcome.Result.Feedback
	record.ScoreSource = outcome.Source()
	record.DegradedReason = outcome.Reason
	if len(outcome.Result.Criteria) > 0 {
		criteria, err := json.Marshal(outcome.Result.Criteria)
		if err != nil {
			return nil, nil, fmt.Errorf("encode criteria: %w", err)
		}
		record.Criteria = datatypes.JSON(criteria)
	}
	// 提交时间取评分完成之后，评分耗时不计入冷却
	record.SubmittedAt = s.now().UTC()
	return record, &outcome, nil
}

// resolveConflict 并发提交已经接续了同一条前序记录，重新判定后按冷却期拒绝
func (s *AssessmentService) resolveConflict(ctx context.Context, scope model.AssessmentScope, mediaRef string, cause error) (*SubmissionResult, error) {
	decision, err := s.Availability.Check(ctx, scope)
	if err != nil {
		monitoring.ObserveSubmission(string(scope.Skill), "error")
		return nil, err
	}
	logger.Log.Info("Concurrent submission rejected",
		zap.Uint("userId", scope.UserID),
		zap.String("skill", string(scope.Skill)),
		zap.Bool("available", decision.Available),
	)
	if !decision.Available {
		monitoring.ObserveSubmission(string(scope.Skill), "denied")
		s.discardMedia(ctx, scope.UserID, mediaRef)
		return denialFrom(decision), nil
	}
	monitoring.ObserveSubmission(string(scope.Skill), "conflict")
	return nil, util.ConflictError("submission_conflict", cause)
}

// CheckAvailability 参数校验与提交一致
func (s *AssessmentService) CheckAvailability(ctx context.Context, userID uint, skill, level, language string) (model.AvailabilityDecision, error) {
	var verr util.ValidationError
	scope := validateScope(&verr, userID, skill, level, language)
	if err := verr.Err(); err != nil {
		return model.AvailabilityDecision{}, err
	}
	return s.Availability.Check(ctx, scope)
}

// GetRecord 其他用户的记录按不存在处理
func (s *AssessmentService) GetRecord(ctx context.Context, userID uint, id string) (*model.AssessmentRecord, error) {
	return s.Store.FindByIDForUser(ctx, id, userID)
}

func (s *AssessmentService) History(ctx context.Context, userID uint, filter model.RecordFilter, page, limit int) ([]model.AssessmentRecord, int64, error) {
	return s.Store.ListByUser(ctx, userID, filter.Normalize(), page, limit)
}
