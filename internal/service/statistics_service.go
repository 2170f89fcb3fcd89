package service

import (
	"context"
	"fmt"
	"lingo_assess_backend/internal/model"

	"github.com/samber/lo"
)

type StatisticsService struct {
	Store RecordStore
}

func NewStatisticsService(store RecordStore) *StatisticsService {
	return &StatisticsService{Store: store}
}

func (s *StatisticsService) Get(ctx context.Context, userID uint, filter model.RecordFilter) (*model.AssessmentStatistics, error) {
	records, err := s.Store.FindAll(ctx, userID, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	stats := Aggregate(records)
	return &stats, nil
}

// Aggregate records 需按提交时间升序。
// 分数取 EffectiveScore，未评分的记录计入数量但不参与平均/最高/最低。
func Aggregate(records []model.AssessmentRecord) model.AssessmentStatistics {
	if records == nil {
		records = []model.AssessmentRecord{}
	}
	overall := summarize(records)

	stats := model.AssessmentStatistics{
		TotalCount:   overall.Count,
		ScoredCount:  overall.ScoredCount,
		AverageScore: overall.AverageScore,
		HighestScore: overall.HighestScore,
		LowestScore:  overall.LowestScore,
		Series:       []model.ScorePoint{},
		ByLevel:      groupSummaries(records, func(r model.AssessmentRecord) string { return model.NormalizeLevel(r.Level) }),
		ByLanguage:   groupSummaries(records, func(r model.AssessmentRecord) string { return model.NormalizeLanguage(r.Language) }),
		BySkill:      groupSummaries(records, func(r model.AssessmentRecord) string { return string(r.Skill) }),
		Records:      records,
	}

	if len(records) > 0 {
		latest := records[len(records)-1]
		stats.Latest = &latest
	}

	for _, r := range records {
		if score := r.EffectiveScore(); score != nil {
			stats.Series = append(stats.Series, model.ScorePoint{
				RecordID:    r.ID,
				Skill:       r.Skill,
				Level:       r.Level,
				Language:    r.Language,
				Score:       *score,
				SubmittedAt: r.SubmittedAt,
			})
		}
	}
	return stats
}

func groupSummaries(records []model.AssessmentRecord, key func(model.AssessmentRecord) string) map[string]model.ScoreSummary {
	groups := lo.GroupBy(records, key)
	return lo.MapValues(groups, func(group []model.AssessmentRecord, _ string) model.ScoreSummary {
		return summarize(group)
	})
}

func summarize(records []model.AssessmentRecord) model.ScoreSummary {
	summary := model.ScoreSummary{Count: len(records)}

	scores := lo.FilterMap(records, func(r model.AssessmentRecord, _ int) (float64, bool) {
		if s := r.EffectiveScore(); s != nil {
			return *s, true
		}
		return 0, false
	})
	if len(scores) == 0 {
		return summary
	}

	summary.ScoredCount = len(scores)
	summary.AverageScore = round1(lo.Sum(scores) / float64(len(scores)))
	summary.HighestScore = lo.Max(scores)
	summary.LowestScore = lo.Min(scores)

	for i := len(records) - 1; i >= 0; i-- {
		if s := records[i].EffectiveScore(); s != nil {
			latest := *s
			at := records[i].SubmittedAt
			summary.LatestScore = &latest
			summary.LatestAt = &at
			break
		}
	}
	return summary
}
