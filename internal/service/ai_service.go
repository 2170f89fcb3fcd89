package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/util"
	"net/http"
	"strings"
	"sync"
)

// AIScorer 通过 OpenAI 兼容的 chat/completions 接口为写作评分
type AIScorer struct {
	mu     sync.RWMutex
	config config.AIConfig
	Client *http.Client
}

func NewAIScorer(cfg config.AIConfig) *AIScorer {
	return &AIScorer{config: cfg, Client: &http.Client{}}
}

// UpdateConfig 配置热更新
func (s *AIScorer) UpdateConfig(cfg config.AIConfig) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

func (s *AIScorer) currentConfig() config.AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const writingSystemPrompt = "You are a certified CEFR examiner. Assess the candidate's writing for the stated target level and language. " +
	"Respond with a single JSON object and nothing else, in the form " +
	`{"score": <0-100>, "feedback": "<short overall feedback>", "criteria": [{"name": "<criterion>", "score": <0-100>, "feedback": "<one sentence>"}]}. ` +
	"Use the criteria task achievement, coherence, vocabulary and grammar."

func (s *AIScorer) Evaluate(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	cfg := s.currentConfig()
	if !cfg.Enabled() {
		return ScoreResult{}, fmt.Errorf("ai scoring not configured: %w", util.ErrScorerUnavailable)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Target language: %s\nTarget level: %s\n", req.Language, req.Level)
	if req.Payload.Prompt != "" {
		fmt.Fprintf(&user, "Task: %s\n", req.Payload.Prompt)
	}
	fmt.Fprintf(&user, "Candidate text:\n%s", req.Payload.Text)

	content, err := s.chat(ctx, cfg, []AIChatMessage{
		{Role: "system", Content: writingSystemPrompt},
		{Role: "user", Content: user.String()},
	})
	if err != nil {
		return ScoreResult{}, err
	}
	return parseScoreContent(content)
}

func (s *AIScorer) chat(ctx context.Context, cfg config.AIConfig, messages []AIChatMessage) (string, error) {
	reqBody := ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("AI API error: %s", result.Error.Message)
	}

	if len(result.Choices) > 0 {
		return result.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("AI returned no choices")
}

type aiScorePayload struct {
	Score    *float64               `json:"score"`
	Feedback string                 `json:"feedback"`
	Criteria []model.CriterionScore `json:"criteria"`
}

// parseScoreContent 模型可能用 ```json 包裹结果，取第一个 { 到最后一个 } 之间的内容
func parseScoreContent(content string) (ScoreResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ScoreResult{}, fmt.Errorf("AI response is not a JSON object: %q", content)
	}

	var payload aiScorePayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return ScoreResult{}, fmt.Errorf("decode AI score: %w", err)
	}
	if payload.Score == nil {
		return ScoreResult{}, fmt.Errorf("AI response has no score")
	}

	for i := range payload.Criteria {
		payload.Criteria[i].Score = clampScore(payload.Criteria[i].Score)
	}
	return ScoreResult{
		Score:    round1(clampScore(*payload.Score)),
		Feedback: strings.TrimSpace(payload.Feedback),
		Criteria: payload.Criteria,
	}, nil
}
