package service

import (
	"context"
	"errors"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"lingo_assess_backend/pkg/logger"
	"lingo_assess_backend/pkg/monitoring"
	"lingo_assess_backend/pkg/tracing"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OutcomeKind string

const (
	OutcomeScored   OutcomeKind = "scored"
	OutcomeDegraded OutcomeKind = "degraded"
)

// 降级原因
const (
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "scorer_unavailable"
	ReasonError       = "scorer_error"
)

// ScoringOutcome Scored(result) 或 Degraded(fallback, reason)
type ScoringOutcome struct {
	Kind   OutcomeKind `json:"kind"`
	Result ScoreResult `json:"result"`
	Reason string      `json:"reason,omitempty"`
}

func Scored(result ScoreResult) ScoringOutcome {
	return ScoringOutcome{Kind: OutcomeScored, Result: result}
}

func Degraded(fallback ScoreResult, reason string) ScoringOutcome {
	return ScoringOutcome{Kind: OutcomeDegraded, Result: fallback, Reason: reason}
}

func (o ScoringOutcome) IsDegraded() bool {
	return o.Kind == OutcomeDegraded
}

func (o ScoringOutcome) Source() model.ScoreSource {
	if o.IsDegraded() {
		return model.ScoreSourceDegraded
	}
	return model.ScoreSourceScored
}

type ScoringService struct {
	Objective Scorer
	Writing   Scorer
	Fallback  Scorer

	mu      sync.RWMutex
	timeout time.Duration
}

func NewScoringService(writing Scorer, timeout time.Duration) *ScoringService {
	return &ScoringService{
		Objective: KeyedScorer{},
		Writing:   writing,
		Fallback:  MockScorer{},
		timeout:   timeout,
	}
}

func (s *ScoringService) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = timeout
	s.mu.Unlock()
}

func (s *ScoringService) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

func (s *ScoringService) scorerFor(skill model.Skill) Scorer {
	switch skill {
	case model.SkillReading, model.SkillListening:
		return s.Objective
	case model.SkillWriting:
		return s.Writing
	}
	return nil
}

type scoreReply struct {
	result ScoreResult
	err    error
}

// Score 从不返回错误：评分方失败或超时都会被替换成兜底结果
func (s *ScoringService) Score(ctx context.Context, req ScoreRequest) ScoringOutcome {
	ctx, span := tracing.Tracer.Start(ctx, "scoring.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("skill", string(req.Skill)))

	start := time.Now()
	outcome := s.score(ctx, req)
	monitoring.ObserveScoring(string(req.Skill), string(outcome.Kind), time.Since(start))

	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
	if outcome.IsDegraded() {
		span.SetAttributes(attribute.String("reason", outcome.Reason))
		logger.Log.Warn("Scoring degraded",
			zap.String("skill", string(req.Skill)),
			zap.String("level", req.Level),
			zap.String("language", req.Language),
			zap.String("reason", outcome.Reason),
		)
	}
	return outcome
}

func (s *ScoringService) score(ctx context.Context, req ScoreRequest) ScoringOutcome {
	scorer := s.scorerFor(req.Skill)
	if scorer == nil {
		return s.degrade(req, ReasonUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout())
	defer cancel()

	// 评分方即使忽略 ctx 也不会拖住请求
	replies := make(chan scoreReply, 1)
	go func() {
		res, err := scorer.Evaluate(ctx, req)
		replies <- scoreReply{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return s.degrade(req, ReasonTimeout)
	case reply := <-replies:
		switch {
		case reply.err == nil:
			reply.result.Score = clampScore(reply.result.Score)
			return Scored(reply.result)
		case errors.Is(reply.err, context.DeadlineExceeded):
			return s.degrade(req, ReasonTimeout)
		case errors.Is(reply.err, util.ErrScorerUnavailable):
			return s.degrade(req, ReasonUnavailable)
		default:
			logger.Log.Warn("Scorer returned error", zap.String("skill", string(req.Skill)), zap.Error(reply.err))
			return s.degrade(req, ReasonError)
		}
	}
}

func (s *ScoringService) degrade(req ScoreRequest, reason string) ScoringOutcome {
	fallback := ScoreResult{Feedback: fallbackFeedback}
	if s.Fallback != nil {
		if res, err := s.Fallback.Evaluate(context.Background(), req); err == nil {
			fallback = res
		}
	}
	fallback.Score = clampScore(fallback.Score)
	return Degraded(fallback, reason)
}
