package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CooldownWindow 同一 (用户, 技能, 等级, 语言) 两次测评之间的最短间隔
const CooldownWindow = 7 * 24 * time.Hour

type Skill string

const (
	SkillReading   Skill = "reading"
	SkillWriting   Skill = "writing"
	SkillSpeaking  Skill = "speaking"
	SkillListening Skill = "listening"
)

var Skills = []Skill{SkillReading, SkillWriting, SkillSpeaking, SkillListening}

// ParseSkill 解析技能类型，忽略大小写和首尾空白
func ParseSkill(s string) (Skill, bool) {
	sk := Skill(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Skills {
		if v == sk {
			return sk, true
		}
	}
	return "", false
}

// RequiresReview 需要人工(督导)评估的技能
func (s Skill) RequiresReview() bool {
	return s == SkillSpeaking
}

// CEFRLevels 按难度升序排列
var CEFRLevels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

func NormalizeLevel(level string) string {
	return strings.ToUpper(strings.TrimSpace(level))
}

func IsValidLevel(level string) bool {
	return LevelRank(level) >= 0
}

// LevelRank 返回等级序号，未知等级返回 -1
func LevelRank(level string) int {
	l := NormalizeLevel(level)
	for i, v := range CEFRLevels {
		if v == l {
			return i
		}
	}
	return -1
}

func NormalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

type RecordStatus string

const (
	// StatusNone 自动评分的记录没有评估状态
	StatusNone      RecordStatus = ""
	StatusPending   RecordStatus = "pending"
	StatusEvaluated RecordStatus = "evaluated"
)

type ScoreSource string

const (
	ScoreSourceScored   ScoreSource = "scored"
	ScoreSourceDegraded ScoreSource = "degraded"
	ScoreSourceNone     ScoreSource = "none"
)

// swagger:model AssessmentRecord
type AssessmentRecord struct {
	UUIDBase
	UserID   uint   `gorm:"not null;index:idx_record_scope,priority:1;uniqueIndex:idx_record_chain,priority:1" json:"userId"`
	User     *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Skill    Skill  `gorm:"size:20;not null;index:idx_record_scope,priority:2;uniqueIndex:idx_record_chain,priority:2" json:"skill"`
	Level    string `gorm:"size:4;not null;index:idx_record_scope,priority:3;uniqueIndex:idx_record_chain,priority:3" json:"level"`
	Language string `gorm:"size:32;not null;index:idx_record_scope,priority:4;uniqueIndex:idx_record_chain,priority:4" json:"language"`
	// PreviousRecordID 提交时该范围内最近一条记录的 ID（首次为空串）。
	// 唯一索引保证同一条前序记录只能被一次提交接续，并发提交只有一个能写入。
	PreviousRecordID string `gorm:"size:36;not null;default:'';uniqueIndex:idx_record_chain,priority:5" json:"-"`

	Answers              datatypes.JSON `json:"answers,omitempty"`
	MediaRef             string         `gorm:"size:512" json:"mediaRef,omitempty"`
	MediaDurationSeconds float64        `gorm:"default:0" json:"mediaDurationSeconds,omitempty"`
	// MediaURL 查询时按存储后端生成，不落库
	MediaURL string `gorm:"-" json:"mediaUrl,omitempty"`

	Score          *float64       `json:"score"` // nil 表示尚未评分
	Feedback       string         `gorm:"type:text" json:"feedback"`
	Criteria       datatypes.JSON `json:"criteria,omitempty"`
	ScoreSource    ScoreSource    `gorm:"size:20;default:'none'" json:"scoreSource"`
	DegradedReason string         `gorm:"size:255" json:"degradedReason,omitempty"`

	Status      RecordStatus `gorm:"size:20;index;default:''" json:"status,omitempty"`
	SubmittedAt time.Time    `gorm:"not null;index" json:"submittedAt"`

	SupervisorScore    *float64   `json:"supervisorScore,omitempty"`
	SupervisorFeedback string     `gorm:"type:text" json:"supervisorFeedback,omitempty"`
	SupervisorID       *uint      `json:"supervisorId,omitempty"`
	EvaluatedAt        *time.Time `json:"evaluatedAt,omitempty"`
}

func (AssessmentRecord) TableName() string {
	return "assessment_records"
}

func (r *AssessmentRecord) Scope() AssessmentScope {
	return AssessmentScope{
		UserID:   r.UserID,
		Skill:    r.Skill,
		Level:    r.Level,
		Language: r.Language,
	}
}

// EffectiveScore 优先使用自动评分，其次督导评分；都没有时返回 nil
func (r *AssessmentRecord) EffectiveScore() *float64 {
	if r.Score != nil {
		return r.Score
	}
	return r.SupervisorScore
}

// AssessmentScope 冷却期的作用范围
type AssessmentScope struct {
	UserID   uint
	Skill    Skill
	Level    string
	Language string
}

func (s AssessmentScope) Normalize() AssessmentScope {
	s.Level = NormalizeLevel(s.Level)
	s.Language = NormalizeLanguage(s.Language)
	return s
}

// RecordFilter 历史/统计查询的可选过滤条件，零值表示不过滤
type RecordFilter struct {
	Skill    Skill
	Level    string
	Language string
}

func (f RecordFilter) Normalize() RecordFilter {
	f.Level = NormalizeLevel(f.Level)
	f.Language = NormalizeLanguage(f.Language)
	return f
}

// AvailabilityDecision 不落库，每次查询实时计算
type AvailabilityDecision struct {
	Available         bool              `json:"available"`
	NextAvailableDate *time.Time        `json:"nextAvailableDate,omitempty"`
	PreviousScore     *float64          `json:"previousScore,omitempty"`
	PreviousRecord    *AssessmentRecord `json:"previousRecord,omitempty"`
}
