package service

import (
	"context"
	"encoding/json"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedScorer(t *testing.T) {
	req := ScoreRequest{
		Skill: model.SkillListening,
		Payload: model.SubmissionPayload{AnswerSets: []model.AnswerSet{
			{SetID: "clip-1", Answers: []model.AnswerItem{
				{QuestionID: "1", Answer: " Paris ", CorrectAnswer: "paris"},
				{QuestionID: "2", Answer: "b", CorrectAnswer: "c"},
			}},
			{SetID: "clip-2", Title: "Station announcement", Answers: []model.AnswerItem{
				{QuestionID: "3", Answer: "platform  4", CorrectAnswer: "Platform 4"},
				{QuestionID: "4", Answer: "free text without key"},
			}},
		}},
	}

	res, err := KeyedScorer{}.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 66.7, res.Score, 0.001)
	require.Len(t, res.Criteria, 2)
	assert.Equal(t, "clip-1", res.Criteria[0].Name)
	assert.Equal(t, 50.0, res.Criteria[0].Score)
	assert.Equal(t, "Station announcement", res.Criteria[1].Name)
	assert.Equal(t, 100.0, res.Criteria[1].Score)

	_, err = KeyedScorer{}.Evaluate(context.Background(), ScoreRequest{
		Skill:   model.SkillReading,
		Payload: model.SubmissionPayload{AnswerSets: []model.AnswerSet{{Answers: []model.AnswerItem{{Answer: "x"}}}}},
	})
	assert.ErrorIs(t, err, util.ErrScorerUnavailable)
}

func TestMockScorerIsDeterministicAndBounded(t *testing.T) {
	req := ScoreRequest{Skill: model.SkillWriting, Payload: model.SubmissionPayload{Text: "The quick brown fox jumps over the lazy dog."}}
	first, err := MockScorer{}.Evaluate(context.Background(), req)
	require.NoError(t, err)
	second, _ := MockScorer{}.Evaluate(context.Background(), req)
	assert.Equal(t, first, second)
	assert.Greater(t, first.Score, 0.0)
	assert.LessOrEqual(t, first.Score, 80.0)

	empty, _ := MockScorer{}.Evaluate(context.Background(), ScoreRequest{Skill: model.SkillReading})
	assert.Equal(t, 0.0, empty.Score)
}

func TestScoringServiceClampsScore(t *testing.T) {
	svc := NewScoringService(ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
		return ScoreResult{Score: 130}, nil
	}), time.Second)

	outcome := svc.Score(context.Background(), ScoreRequest{Skill: model.SkillWriting})
	assert.Equal(t, OutcomeScored, outcome.Kind)
	assert.Equal(t, 100.0, outcome.Result.Score)
	assert.Equal(t, model.ScoreSourceScored, outcome.Source())
}

func TestScoringServiceTimeoutRespectsContext(t *testing.T) {
	svc := NewScoringService(ScorerFunc(func(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
		<-ctx.Done()
		return ScoreResult{}, ctx.Err()
	}), 20*time.Millisecond)

	start := time.Now()
	outcome := svc.Score(context.Background(), ScoreRequest{Skill: model.SkillWriting, Payload: model.SubmissionPayload{Text: "hello world"}})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, outcome.IsDegraded())
	assert.Equal(t, ReasonTimeout, outcome.Reason)
	assert.Equal(t, model.ScoreSourceDegraded, outcome.Source())

	svc.SetTimeout(0)
	assert.Equal(t, 20*time.Millisecond, svc.Timeout())
}

func TestScoringServiceSpeakingIsNotRouted(t *testing.T) {
	svc := NewScoringService(MockScorer{}, time.Second)
	outcome := svc.Score(context.Background(), ScoreRequest{Skill: model.SkillSpeaking})
	assert.True(t, outcome.IsDegraded())
	assert.Equal(t, ReasonUnavailable, outcome.Reason)
}

func TestAIScorer(t *testing.T) {
	var gotAuth string
	var gotBody ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		content := "```json\n{\"score\": 120, \"feedback\": \" Well organised. \", \"criteria\": [{\"name\": \"grammar\", \"score\": -5}]}\n```"
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	defer server.Close()

	scorer := NewAIScorer(config.AIConfig{BaseURL: server.URL + "/v1/", APIKey: "secret", Model: "examiner"})
	res, err := scorer.Evaluate(context.Background(), ScoreRequest{
		Skill: model.SkillWriting, Level: "B2", Language: "english",
		Payload: model.SubmissionPayload{Prompt: "Describe your city", Text: "My city is big."},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "examiner", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Contains(t, gotBody.Messages[1].Content, "My city is big.")
	assert.Contains(t, gotBody.Messages[1].Content, "Describe your city")

	assert.Equal(t, 100.0, res.Score)
	assert.Equal(t, "Well organised.", res.Feedback)
	require.Len(t, res.Criteria, 1)
	assert.Equal(t, 0.0, res.Criteria[0].Score)
}

func TestAIScorerFailures(t *testing.T) {
	_, err := NewAIScorer(config.AIConfig{}).Evaluate(context.Background(), ScoreRequest{Skill: model.SkillWriting})
	assert.ErrorIs(t, err, util.ErrScorerUnavailable)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer server.Close()

	scorer := NewAIScorer(config.AIConfig{BaseURL: server.URL, APIKey: "k"})
	_, err = scorer.Evaluate(context.Background(), ScoreRequest{Skill: model.SkillWriting})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	// 热更新后立即生效
	scorer.UpdateConfig(config.AIConfig{})
	_, err = scorer.Evaluate(context.Background(), ScoreRequest{Skill: model.SkillWriting})
	assert.ErrorIs(t, err, util.ErrScorerUnavailable)
}

func TestParseScoreContent(t *testing.T) {
	_, err := parseScoreContent("I cannot grade this.")
	assert.Error(t, err)

	_, err = parseScoreContent(`{"feedback": "no score"}`)
	assert.Error(t, err)

	res, err := parseScoreContent(`Result: {"score": 72.46, "feedback": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, 72.5, res.Score)
}
