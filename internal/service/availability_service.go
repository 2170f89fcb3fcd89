package service

import (
	"context"
	"fmt"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// EvaluateAvailability 冷却期判定，纯函数。
// 没有历史记录时可用；距上次提交满 window（含等于）时可用并带上上次成绩；
// 否则不可用，nextAvailableDate = submittedAt + window。
func EvaluateAvailability(latest *model.AssessmentRecord, now time.Time, window time.Duration) model.AvailabilityDecision {
	if latest == nil {
		return model.AvailabilityDecision{Available: true}
	}

	decision := model.AvailabilityDecision{
		PreviousScore:  latest.EffectiveScore(),
		PreviousRecord: latest,
	}

	if now.Sub(latest.SubmittedAt) >= window {
		decision.Available = true
		return decision
	}

	next := latest.SubmittedAt.Add(window)
	decision.NextAvailableDate = &next
	return decision
}

type AvailabilityService struct {
	Store  RecordStore
	Window time.Duration
	now    func() time.Time
}

func NewAvailabilityService(store RecordStore) *AvailabilityService {
	return &AvailabilityService{
		Store:  store,
		Window: model.CooldownWindow,
		now:    time.Now,
	}
}

// Check 只读，存储错误原样向上返回，不会被当成拒绝。
// decision.PreviousRecord 即该范围内最近一条记录，提交时用作 PreviousRecordID
func (s *AvailabilityService) Check(ctx context.Context, scope model.AssessmentScope) (model.AvailabilityDecision, error) {
	ctx, span := tracing.Tracer.Start(ctx, "availability.check")
	defer span.End()

	scope = scope.Normalize()
	span.SetAttributes(
		attribute.String("skill", string(scope.Skill)),
		attribute.String("level", scope.Level),
		attribute.String("language", scope.Language),
	)

	latest, err := s.Store.FindMostRecent(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return model.AvailabilityDecision{}, fmt.Errorf("check availability: %w", err)
	}

	decision := EvaluateAvailability(latest, s.now().UTC(), s.Window)
	span.SetAttributes(attribute.Bool("available", decision.Available))
	return decision, nil
}
