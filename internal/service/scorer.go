package service

import (
	"context"
	"fmt"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"math"
	"strings"
	"unicode/utf8"
)

type ScoreRequest struct {
	Skill    model.Skill
	Level    string
	Language string
	Payload  model.SubmissionPayload
}

type ScoreResult struct {
	Score    float64                `json:"score"`
	Feedback string                 `json:"feedback"`
	Criteria []model.CriterionScore `json:"criteria,omitempty"`
}

// Scorer 评分协作方，可能失败或超时，由 ScoringService 负责兜底
type Scorer interface {
	Evaluate(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// ScorerFunc 让普通函数实现 Scorer
type ScorerFunc func(ctx context.Context, req ScoreRequest) (ScoreResult, error)

func (f ScorerFunc) Evaluate(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	return f(ctx, req)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// KeyedScorer 阅读/听力客观题评分：按答案键计算正确率
type KeyedScorer struct{}

func (KeyedScorer) Evaluate(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return ScoreResult{}, err
	}

	var correct, keyed int
	criteria := make([]model.CriterionScore, 0, len(req.Payload.AnswerSets))
	for i, set := range req.Payload.AnswerSets {
		var setCorrect, setKeyed int
		for _, a := range set.Answers {
			if strings.TrimSpace(a.CorrectAnswer) == "" {
				continue
			}
			setKeyed++
			if normalizeAnswer(a.Answer) == normalizeAnswer(a.CorrectAnswer) {
				setCorrect++
			}
		}
		if setKeyed == 0 {
			continue
		}
		correct += setCorrect
		keyed += setKeyed

		name := set.Title
		if name == "" {
			name = set.SetID
		}
		if name == "" {
			name = fmt.Sprintf("set %d", i+1)
		}
		criteria = append(criteria, model.CriterionScore{
			Name:     name,
			Score:    round1(float64(setCorrect) / float64(setKeyed) * 100),
			Feedback: fmt.Sprintf("%d/%d correct", setCorrect, setKeyed),
		})
	}

	if keyed == 0 {
		return ScoreResult{}, fmt.Errorf("no answer key provided: %w", util.ErrScorerUnavailable)
	}

	return ScoreResult{
		Score:    round1(float64(correct) / float64(keyed) * 100),
		Feedback: fmt.Sprintf("%d of %d answers correct.", correct, keyed),
		Criteria: criteria,
	}, nil
}

// MockScorer 确定性的启发式评分，评分服务不可用时作为兜底结果
type MockScorer struct{}

const fallbackFeedback = "Automatic estimate. Detailed scoring was unavailable for this submission."

func (MockScorer) Evaluate(_ context.Context, req ScoreRequest) (ScoreResult, error) {
	switch req.Skill {
	case model.SkillReading, model.SkillListening:
		if res, err := (KeyedScorer{}).Evaluate(context.Background(), req); err == nil {
			res.Feedback = res.Feedback + " " + fallbackFeedback
			return res, nil
		}
		total := req.Payload.AnswerCount()
		if total == 0 {
			return ScoreResult{Score: 0, Feedback: fallbackFeedback}, nil
		}
		answered := 0
		for _, set := range req.Payload.AnswerSets {
			for _, a := range set.Answers {
				if strings.TrimSpace(a.Answer) != "" {
					answered++
				}
			}
		}
		return ScoreResult{
			Score:    round1(float64(answered) / float64(total) * 60),
			Feedback: fallbackFeedback,
		}, nil
	case model.SkillWriting:
		return ScoreResult{Score: textHeuristic(req.Payload.Text), Feedback: fallbackFeedback}, nil
	default:
		return ScoreResult{Score: textHeuristic(req.Payload.TranscribedText), Feedback: fallbackFeedback}, nil
	}
}

// textHeuristic 依据词数和平均词长粗略估分，上限 80
func textHeuristic(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	runes := 0
	for _, w := range words {
		runes += utf8.RuneCountInString(w)
	}
	avg := float64(runes) / float64(len(words))

	score := 20 + math.Min(float64(len(words))*0.3, 45) + math.Min(avg*2, 15)
	return round1(math.Min(score, 80))
}
