package model

import "time"

type AnswerItem struct {
	QuestionID    string `json:"questionId"`
	Answer        string `json:"answer"`
	CorrectAnswer string `json:"correctAnswer,omitempty"`
}

// AnswerSet 一篇阅读材料或一段听力对应的一组答案
type AnswerSet struct {
	SetID   string       `json:"setId"`
	Title   string       `json:"title,omitempty"`
	Answers []AnswerItem `json:"answers"`
}

// SubmissionPayload 不同技能使用不同字段：
// reading/listening 使用 AnswerSets，writing 使用 Text，speaking 使用 TranscribedText 或 MediaRef
type SubmissionPayload struct {
	AnswerSets      []AnswerSet `json:"answerSets,omitempty"`
	Text            string      `json:"text,omitempty"`
	Prompt          string      `json:"prompt,omitempty"`
	TranscribedText string      `json:"transcribedText,omitempty"`
	MediaRef        string      `json:"mediaRef,omitempty"`
}

func (p SubmissionPayload) AnswerCount() int {
	n := 0
	for _, set := range p.AnswerSets {
		n += len(set.Answers)
	}
	return n
}

type CriterionScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
}

// ScoreSummary 一组记录的分数汇总，Count 包含未评分记录，分数只统计已评分记录
type ScoreSummary struct {
	Count        int        `json:"count"`
	ScoredCount  int        `json:"scoredCount"`
	AverageScore float64    `json:"averageScore"`
	HighestScore float64    `json:"highestScore"`
	LowestScore  float64    `json:"lowestScore"`
	LatestScore  *float64   `json:"latestScore,omitempty"`
	LatestAt     *time.Time `json:"latestAt,omitempty"`
}

type ScorePoint struct {
	RecordID    string    `json:"recordId"`
	Skill       Skill     `json:"skill"`
	Level       string    `json:"level"`
	Language    string    `json:"language"`
	Score       float64   `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// swagger:model AssessmentStatistics
type AssessmentStatistics struct {
	TotalCount   int                     `json:"totalCount"`
	ScoredCount  int                     `json:"scoredCount"`
	AverageScore float64                 `json:"averageScore"`
	HighestScore float64                 `json:"highestScore"`
	LowestScore  float64                 `json:"lowestScore"`
	Latest       *AssessmentRecord       `json:"latest,omitempty"`
	Series       []ScorePoint            `json:"series"`
	ByLevel      map[string]ScoreSummary `json:"byLevel"`
	ByLanguage   map[string]ScoreSummary `json:"byLanguage"`
	BySkill      map[string]ScoreSummary `json:"bySkill"`
	Records      []AssessmentRecord      `json:"records"`
}
