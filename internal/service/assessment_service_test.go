package service

import (
	"context"
	"errors"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/testutil"
	"lingo_assess_backend/internal/util"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReadingThenImmediateResubmitIsDenied(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()
	submittedAt := f.clock.Now()

	result, err := f.svc.Submit(ctx, f.user.ID, "reading", readingRequest("B1", "English", 3))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.Record)
	require.NotNil(t, result.Record.Score)
	assert.Equal(t, 75.0, *result.Record.Score)
	assert.Equal(t, "english", result.Record.Language)
	assert.Equal(t, model.ScoreSourceScored, result.Record.ScoreSource)
	assert.Equal(t, model.StatusNone, result.Record.Status)
	require.NotNil(t, result.Scoring)
	assert.Equal(t, OutcomeScored, result.Scoring.Kind)

	f.clock.Advance(time.Minute)
	again, err := f.svc.Submit(ctx, f.user.ID, "reading", readingRequest("b1", "english", 4))
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Nil(t, again.Record)
	require.NotNil(t, again.Denial)
	assert.Equal(t, DenialCooldown, again.Denial.Reason)
	require.NotNil(t, again.Denial.NextAvailableDate)
	assert.True(t, submittedAt.Add(7*24*time.Hour).Equal(*again.Denial.NextAvailableDate))
	require.NotNil(t, again.Denial.PreviousScore)
	assert.Equal(t, 75.0, *again.Denial.PreviousScore)

	assert.Equal(t, int64(1), f.count(t))
}

func TestSubmitOtherLanguageIsIndependent(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.user.ID, "reading", readingRequest("B1", "english", 3))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	result, err := f.svc.Submit(ctx, f.user.ID, "reading", readingRequest("B1", "french", 2))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "french", result.Record.Language)
	assert.Equal(t, int64(2), f.count(t))
}

func TestSubmitScopeIsolation(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()
	other := testutil.CreateUser(t, f.db, "other-learner@example.com", model.Student)

	_, err := f.svc.Submit(ctx, f.user.ID, "reading", readingRequest("B1", "english", 3))
	require.NoError(t, err)

	scopes := []model.AssessmentScope{
		{UserID: f.user.ID, Skill: model.SkillReading, Level: "B1", Language: "french"},
		{UserID: f.user.ID, Skill: model.SkillWriting, Level: "B1", Language: "english"},
		{UserID: f.user.ID, Skill: model.SkillReading, Level: "B2", Language: "english"},
		{UserID: other.ID, Skill: model.SkillReading, Level: "B1", Language: "english"},
	}
	for _, scope := range scopes {
		decision, err := f.svc.Availability.Check(ctx, scope)
		require.NoError(t, err)
		assert.True(t, decision.Available, "%+v", scope)
	}

	blocked, err := f.svc.CheckAvailability(ctx, f.user.ID, "reading", "b1", " English ")
	require.NoError(t, err)
	assert.False(t, blocked.Available)
}

func TestSubmitAfterCooldownChainsToPreviousRecord(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.user.ID, "writing", SubmitRequest{
		Level: "C1", Language: "english",
		SubmissionPayload: model.SubmissionPayload{Text: "An essay about cities."},
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	f.clock.Advance(7 * 24 * time.Hour)
	second, err := f.svc.Submit(ctx, f.user.ID, "writing", SubmitRequest{
		Level: "C1", Language: "english",
		SubmissionPayload: model.SubmissionPayload{Text: "A second essay about cities."},
	})
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, first.Record.ID, second.Record.PreviousRecordID)
	assert.Equal(t, int64(2), f.count(t))
}

func TestSubmitSpeakingCreatesPendingRecordAndSupervisorEvaluates(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()
	supervisor := testutil.CreateUser(t, f.db, "supervisor@example.com", model.Supervisor)

	result, err := f.svc.Submit(ctx, f.user.ID, "speaking", SubmitRequest{
		Level: "B2", Language: "english",
		SubmissionPayload: model.SubmissionPayload{TranscribedText: "I usually go hiking on weekends."},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, model.StatusPending, result.Record.Status)
	assert.Nil(t, result.Record.Score)
	assert.Nil(t, result.Scoring)
	assert.Equal(t, model.ScoreSourceNone, result.Record.ScoreSource)

	supervisorSvc := NewSupervisorService(f.repo, f.media)
	pending, total, err := supervisorSvc.ListPending(ctx, "speaking", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, pending, 1)

	evaluated, err := supervisorSvc.Evaluate(ctx, supervisor.ID, result.Record.ID, EvaluateRequest{Score: util.Float64Ptr(78), Feedback: " fluent "})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEvaluated, evaluated.Status)
	require.NotNil(t, evaluated.SupervisorScore)
	assert.Equal(t, 78.0, *evaluated.SupervisorScore)
	assert.Equal(t, "fluent", evaluated.SupervisorFeedback)
	assert.Nil(t, evaluated.Score)
	require.NotNil(t, evaluated.EvaluatedAt)

	_, err = supervisorSvc.Evaluate(ctx, supervisor.ID, result.Record.ID, EvaluateRequest{Score: util.Float64Ptr(90)})
	assert.ErrorIs(t, err, util.ErrAlreadyEvaluated)
}

func TestSubmitValidation(t *testing.T) {
	var calls int32
	writing := ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
		atomic.AddInt32(&calls, 1)
		return ScoreResult{Score: 50}, nil
	})
	f := newAssessmentFixture(t, writing)
	ctx := context.Background()

	testCases := []struct {
		name   string
		skill  string
		req    SubmitRequest
		fields []string
	}{
		{name: "unknown skill", skill: "grammar", req: SubmitRequest{Level: "B1", Language: "english"}, fields: []string{"skill"}},
		{name: "missing level and language", skill: "writing", req: SubmitRequest{SubmissionPayload: model.SubmissionPayload{Text: "hello"}}, fields: []string{"level", "language"}},
		{name: "invalid level", skill: "writing", req: SubmitRequest{Level: "D1", Language: "english", SubmissionPayload: model.SubmissionPayload{Text: "hello"}}, fields: []string{"level"}},
		{name: "empty writing", skill: "writing", req: SubmitRequest{Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{Text: "   "}}, fields: []string{"text"}},
		{name: "reading without answers", skill: "reading", req: SubmitRequest{Level: "B1", Language: "english"}, fields: []string{"answerSets"}},
		{name: "listening with empty set", skill: "listening", req: SubmitRequest{Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{AnswerSets: []model.AnswerSet{{SetID: "a"}}}}, fields: []string{"answerSets[0].answers"}},
		{name: "short transcript", skill: "speaking", req: SubmitRequest{Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{TranscribedText: "hi there"}}, fields: []string{"transcribedText"}},
		{name: "foreign media reference", skill: "speaking", req: SubmitRequest{Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{MediaRef: "speaking/999/x.webm"}}, fields: []string{"mediaRef"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.svc.Submit(ctx, f.user.ID, tc.skill, tc.req)
			assert.Nil(t, result)
			var verr *util.ValidationError
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			got := make([]string, 0, len(verr.Fields))
			for _, fe := range verr.Fields {
				got = append(got, fe.Field)
			}
			assert.ElementsMatch(t, tc.fields, got)
		})
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(0), f.count(t))
}

func TestSubmitSpeakingWithUploadedMedia(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()
	upload := f.uploadClip(t, f.user.ID)

	result, err := f.svc.Submit(ctx, f.user.ID, "speaking", SubmitRequest{
		Level: "A2", Language: "spanish",
		SubmissionPayload: model.SubmissionPayload{MediaRef: upload.MediaRef},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, model.StatusPending, result.Record.Status)
	assert.Equal(t, upload.MediaRef, result.Record.MediaRef)
	// 时长取自上传时的探测结果
	assert.Equal(t, 42.5, result.Record.MediaDurationSeconds)

	registered, err := f.media.Uploads.FindByRef(ctx, upload.MediaRef, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Record.ID, registered.RecordID)

	// 同一份录音不能被另一次提交引用
	_, err = f.svc.Submit(ctx, f.user.ID, "speaking", SubmitRequest{
		Level: "B1", Language: "spanish",
		SubmissionPayload: model.SubmissionPayload{MediaRef: upload.MediaRef},
	})
	var verr *util.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	assert.Equal(t, "mediaRef", verr.Fields[0].Field)
	assert.Equal(t, int64(1), f.count(t))
}

func TestSubmitSpeakingRejectsMediaThatWasNeverUploaded(t *testing.T) {
	f := newAssessmentFixture(t, nil)

	result, err := f.svc.Submit(context.Background(), f.user.ID, "speaking", SubmitRequest{
		Level: "B1", Language: "english",
		SubmissionPayload: model.SubmissionPayload{MediaRef: mediaPrefix(f.user.ID) + "never-uploaded.webm"},
	})
	assert.Nil(t, result)
	var verr *util.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "mediaRef", verr.Fields[0].Field)
	assert.Equal(t, "unknown media reference", verr.Fields[0].Reason)
	assert.Equal(t, int64(0), f.count(t))
}

func TestSubmitSpeakingDeniedDiscardsUploadedMedia(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.user.ID, "speaking", SubmitRequest{
		Level: "B2", Language: "english",
		SubmissionPayload: model.SubmissionPayload{TranscribedText: "I usually go hiking on weekends."},
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	upload := f.uploadClip(t, f.user.ID)
	f.clock.Advance(24 * time.Hour)
	denied, err := f.svc.Submit(ctx, f.user.ID, "speaking", SubmitRequest{
		Level: "B2", Language: "english",
		SubmissionPayload: model.SubmissionPayload{MediaRef: upload.MediaRef},
	})
	require.NoError(t, err)
	require.False(t, denied.Success)
	assert.Equal(t, DenialCooldown, denied.Denial.Reason)

	_, err = os.Stat(filepath.Join(f.mediaRoot, upload.MediaRef))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = f.media.Uploads.FindByRef(ctx, upload.MediaRef, f.user.ID)
	assert.ErrorIs(t, err, util.ErrMediaNotFound)
	assert.Equal(t, int64(1), f.count(t))
}

func TestSubmitDeniedDoesNotScoreOrWrite(t *testing.T) {
	var calls int32
	writing := ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
		atomic.AddInt32(&calls, 1)
		return ScoreResult{Score: 55}, nil
	})
	f := newAssessmentFixture(t, writing)
	ctx := context.Background()
	req := SubmitRequest{Level: "A1", Language: "italian", SubmissionPayload: model.SubmissionPayload{Text: "Ciao a tutti"}}

	_, err := f.svc.Submit(ctx, f.user.ID, "writing", req)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	for i := 0; i < 3; i++ {
		f.clock.Advance(24 * time.Hour)
		result, err := f.svc.Submit(ctx, f.user.ID, "writing", req)
		require.NoError(t, err)
		assert.False(t, result.Success)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(1), f.count(t))
}

func TestSubmitDegradedScoring(t *testing.T) {
	testCases := []struct {
		name   string
		scorer Scorer
		reason string
	}{
		{
			name: "scorer error",
			scorer: ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
				return ScoreResult{}, errors.New("upstream 502")
			}),
			reason: ReasonError,
		},
		{
			name: "scorer unavailable",
			scorer: ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
				return ScoreResult{}, util.ErrScorerUnavailable
			}),
			reason: ReasonUnavailable,
		},
		{
			name: "scorer hangs",
			scorer: ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
				time.Sleep(2 * time.Second)
				return ScoreResult{Score: 99}, nil
			}),
			reason: ReasonTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAssessmentFixture(t, tc.scorer)
			f.scoring.SetTimeout(50 * time.Millisecond)

			result, err := f.svc.Submit(context.Background(), f.user.ID, "writing", SubmitRequest{
				Level: "B2", Language: "english",
				SubmissionPayload: model.SubmissionPayload{Text: "Technology has changed the way people communicate with each other."},
			})
			require.NoError(t, err)
			require.True(t, result.Success)
			require.NotNil(t, result.Scoring)
			assert.Equal(t, OutcomeDegraded, result.Scoring.Kind)
			assert.Equal(t, tc.reason, result.Scoring.Reason)
			assert.Equal(t, model.ScoreSourceDegraded, result.Record.ScoreSource)
			assert.Equal(t, tc.reason, result.Record.DegradedReason)
			require.NotNil(t, result.Record.Score)
			assert.GreaterOrEqual(t, *result.Record.Score, 0.0)
			assert.LessOrEqual(t, *result.Record.Score, 100.0)
			assert.Equal(t, int64(1), f.count(t))
		})
	}
}

func TestSubmitStoreFailureIsHardError(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	storeErr := errors.New("disk full")
	store := failingStore{RecordStore: f.repo, err: storeErr}
	f.svc.Store = store
	f.svc.Availability.Store = store

	result, err := f.svc.Submit(context.Background(), f.user.ID, "writing", SubmitRequest{
		Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{Text: "text"},
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, storeErr)
}

type createFailingStore struct {
	RecordStore
	err error
}

func (s createFailingStore) Create(ctx context.Context, record *model.AssessmentRecord) error {
	return s.err
}

func TestSubmitCreateFailureIsHardError(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	storeErr := errors.New("connection reset")
	f.svc.Store = createFailingStore{RecordStore: f.repo, err: storeErr}

	result, err := f.svc.Submit(context.Background(), f.user.ID, "writing", SubmitRequest{
		Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{Text: "text"},
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, storeErr)
}

type allowGuard struct{}

func (allowGuard) Acquire(ctx context.Context, scope model.AssessmentScope) (func(), bool, error) {
	return func() {}, true, nil
}

func TestConcurrentSubmissionsCreateOneRecord(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	// 两个请求都通过冷却期检查后才放行，逼出存储层冲突
	writing := ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
		arrived.Done()
		arrived.Wait()
		return ScoreResult{Score: 70}, nil
	})
	f := newAssessmentFixture(t, writing)
	f.svc.Guard = allowGuard{}

	var wg sync.WaitGroup
	results := make([]*SubmissionResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Submit(context.Background(), f.user.ID, "writing", SubmitRequest{
				Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{Text: "parallel essay"},
			})
		}(i)
	}
	wg.Wait()

	successes, denials := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Success {
			successes++
		} else {
			denials++
			require.NotNil(t, results[i].Denial)
			assert.NotNil(t, results[i].Denial.NextAvailableDate)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, denials)
	assert.Equal(t, int64(1), f.count(t))
}

type busyGuard struct{ err error }

func (g busyGuard) Acquire(ctx context.Context, scope model.AssessmentScope) (func(), bool, error) {
	return func() {}, false, g.err
}

func TestSubmitGuard(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	req := SubmitRequest{Level: "B1", Language: "english", SubmissionPayload: model.SubmissionPayload{Text: "text"}}

	f.svc.Guard = busyGuard{}
	_, err := f.svc.Submit(context.Background(), f.user.ID, "writing", req)
	assert.ErrorIs(t, err, util.ErrSubmissionInProgress)
	assert.Equal(t, int64(0), f.count(t))

	// 锁服务故障时仍然可以提交
	f.svc.Guard = busyGuard{err: errors.New("redis down")}
	result, err := f.svc.Submit(context.Background(), f.user.ID, "writing", req)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestLocalGuard(t *testing.T) {
	guard := NewLocalGuard()
	ctx := context.Background()
	scope := model.AssessmentScope{UserID: 1, Skill: model.SkillReading, Level: "A1", Language: "english"}

	release, ok, err := guard.Acquire(ctx, scope)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.Acquire(ctx, scope)
	require.NoError(t, err)
	assert.False(t, ok)

	other := scope
	other.Language = "german"
	releaseOther, ok, _ := guard.Acquire(ctx, other)
	assert.True(t, ok)
	releaseOther()

	release()
	release()
	_, ok, _ = guard.Acquire(ctx, scope)
	assert.True(t, ok)
}

func TestHistoryAndGetRecord(t *testing.T) {
	f := newAssessmentFixture(t, nil)
	ctx := context.Background()
	stranger := testutil.CreateUser(t, f.db, "stranger@example.com", model.Student)

	for _, level := range []string{"A1", "A2", "B1"} {
		f.clock.Advance(time.Hour)
		_, err := f.svc.Submit(ctx, f.user.ID, "reading", readingRequest(level, "english", 2))
		require.NoError(t, err)
	}

	records, total, err := f.svc.History(ctx, f.user.ID, model.RecordFilter{Skill: model.SkillReading}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 2)
	assert.Equal(t, "B1", records[0].Level)

	filtered, total, err := f.svc.History(ctx, f.user.ID, model.RecordFilter{Level: "a2"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, filtered, 1)

	rec, err := f.svc.GetRecord(ctx, f.user.ID, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, records[0].ID, rec.ID)

	_, err = f.svc.GetRecord(ctx, stranger.ID, records[0].ID)
	assert.ErrorIs(t, err, util.ErrRecordNotFound)
}
