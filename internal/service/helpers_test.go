package service

import (
	"context"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/repository"
	"lingo_assess_backend/internal/testutil"
	"lingo_assess_backend/internal/util"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type assessmentFixture struct {
	db        *gorm.DB
	repo      *repository.AssessmentRecordRepository
	clock     *testClock
	scoring   *ScoringService
	media     *MediaService
	mediaRoot string
	svc       *AssessmentService
	user      *model.User
}

func newAssessmentFixture(t *testing.T, writing Scorer) *assessmentFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	repo := repository.NewAssessmentRecordRepository(db)
	clock := newTestClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	if writing == nil {
		writing = ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
			return ScoreResult{Score: 68, Feedback: "solid"}, nil
		})
	}
	availability := NewAvailabilityService(repo)
	availability.now = clock.Now
	scoring := NewScoringService(writing, 2*time.Second)

	mediaRoot := t.TempDir()
	storage := NewStorageService(&config.StorageConfig{Type: util.StorageLocal, LocalPath: mediaRoot})
	media := NewMediaService(storage, repository.NewMediaUploadRepository(db), 1<<20, filepath.Join(mediaRoot, "temp"))
	media.Probe = func(path string) (*util.MediaInfo, error) {
		return &util.MediaInfo{Duration: 42.5, HasAudio: true}, nil
	}

	svc := NewAssessmentService(repo, availability, scoring, NewLocalGuard(), media)
	svc.now = clock.Now

	return &assessmentFixture{
		db:        db,
		repo:      repo,
		clock:     clock,
		scoring:   scoring,
		media:     media,
		mediaRoot: mediaRoot,
		svc:       svc,
		user:      testutil.CreateUser(t, db, "learner@example.com", model.Student),
	}
}

// uploadClip 以 userID 身份上传一段 42.5 秒的录音
func (f *assessmentFixture) uploadClip(t *testing.T, userID uint) *model.MediaUpload {
	t.Helper()
	upload, err := f.media.UploadSpeakingMedia(context.Background(), userID, multipartFile(t, "answer.webm", webmHeader))
	if err != nil {
		t.Fatalf("upload clip: %v", err)
	}
	return upload
}

func (f *assessmentFixture) count(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&model.AssessmentRecord{}).Count(&n).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	return n
}

// readingRequest 4 题答对 correct 题
func readingRequest(level, language string, correct int) SubmitRequest {
	answers := make([]model.AnswerItem, 0, 4)
	for i := 0; i < 4; i++ {
		answer := "b"
		if i < correct {
			answer = "a"
		}
		answers = append(answers, model.AnswerItem{QuestionID: string(rune('1' + i)), Answer: answer, CorrectAnswer: "a"})
	}
	return SubmitRequest{
		Level:    level,
		Language: language,
		SubmissionPayload: model.SubmissionPayload{
			AnswerSets: []model.AnswerSet{{SetID: "passage-1", Title: "Passage 1", Answers: answers}},
		},
	}
}
