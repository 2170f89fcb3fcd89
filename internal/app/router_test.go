package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/internal/testutil"
	"lingo_assess_backend/internal/util"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type apiResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
	Data      json.RawMessage `json:"data"`
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "0", Mode: gin.TestMode},
		JWT:       config.JWTConfig{Secret: testSecret, ExpireTime: time.Hour},
		Storage:   config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		RateLimit: config.RateLimitConfig{MaxRequests: 1000, WindowMinutes: 1},
		Assessment: config.AssessmentConfig{
			ScoringTimeoutSeconds: 2,
			SubmissionLockSeconds: 30,
			MaxMediaSizeMB:        1,
			HistoryPageSize:       20,
		},
	}
}

type testServer struct {
	app *App
	cfg *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig(t)
	db := testutil.NewTestDB(t)
	return &testServer{app: New(cfg, db, nil), cfg: cfg}
}

func (s *testServer) tokenFor(t *testing.T, email string, role model.UserRole) (string, *model.User) {
	t.Helper()
	user := testutil.CreateUser(t, s.app.DB, email, role)
	token, err := util.GenerateJWT(user, s.cfg.JWT.Secret, time.Hour)
	require.NoError(t, err)
	return token, user
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func readingBody(level, language string) map[string]interface{} {
	return map[string]interface{}{
		"level":    level,
		"language": language,
		"answerSets": []map[string]interface{}{{
			"setId": "passage-1",
			"answers": []map[string]string{
				{"questionId": "q1", "answer": "a", "correctAnswer": "a"},
				{"questionId": "q2", "answer": "c", "correctAnswer": "b"},
			},
		}},
	}
}

func TestRegisterLoginAndProfile(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Ana", "email": "ana@example.com", "password": "password123", "language": "Spanish",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, resp := s.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"email": "ana@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	require.NotEmpty(t, login.Token)
	assert.Equal(t, model.Student, login.User.Role)
	assert.Equal(t, "spanish", login.User.Language)

	w, resp = s.do(t, http.MethodGet, "/api/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile model.User
	require.NoError(t, json.Unmarshal(resp.Data, &profile))
	assert.Equal(t, "ana@example.com", profile.Email)
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	testutil.CreateUser(t, s.app.DB, "ben@example.com", model.Student)

	w, _ := s.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"email": "ben@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/assessments/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/assessments/history", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitThenCooldownDenial(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.tokenFor(t, "cara@example.com", model.Student)

	w, resp := s.do(t, http.MethodPost, "/api/assessments/reading/submit", token, readingBody("B1", "english"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result struct {
		Success bool                   `json:"success"`
		Record  model.AssessmentRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Record.Score)
	assert.Equal(t, 50.0, *result.Record.Score)

	w, resp = s.do(t, http.MethodPost, "/api/assessments/reading/submit", token, readingBody("B1", "english"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cooldown_active", resp.ErrorCode)

	var denied struct {
		Success bool `json:"success"`
		Denial  struct {
			NextAvailableDate *time.Time `json:"nextAvailableDate"`
			PreviousScore     *float64   `json:"previousScore"`
		} `json:"denial"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &denied))
	assert.False(t, denied.Success)
	require.NotNil(t, denied.Denial.NextAvailableDate)
	require.NotNil(t, denied.Denial.PreviousScore)
	assert.Equal(t, 50.0, *denied.Denial.PreviousScore)

	w, resp = s.do(t, http.MethodGet, "/api/assessments/availability?skill=reading&level=B1&language=english", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var decision model.AvailabilityDecision
	require.NoError(t, json.Unmarshal(resp.Data, &decision))
	assert.False(t, decision.Available)

	w, resp = s.do(t, http.MethodGet, "/api/assessments/availability?skill=reading&level=B2&language=english", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &decision))
	assert.True(t, decision.Available)
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.tokenFor(t, "dan@example.com", model.Student)

	w, resp := s.do(t, http.MethodPost, "/api/assessments/reading/submit", token, map[string]string{"level": "Z9"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", resp.ErrorCode)

	w, _ = s.do(t, http.MethodPost, "/api/assessments/cooking/submit", token, readingBody("B1", "english"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordsAreScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.tokenFor(t, "eve@example.com", model.Student)
	other, _ := s.tokenFor(t, "fay@example.com", model.Student)

	w, resp := s.do(t, http.MethodPost, "/api/assessments/reading/submit", owner, readingBody("A2", "german"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result struct {
		Record model.AssessmentRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	path := fmt.Sprintf("/api/assessments/records/%s", result.Record.ID)

	w, _ = s.do(t, http.MethodGet, path, owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, path, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = s.do(t, http.MethodGet, "/api/assessments/history", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page util.PageResponse
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, int64(0), page.Total)

	w, resp = s.do(t, http.MethodGet, "/api/assessments/statistics?skill=reading", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.AssessmentStatistics
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 1, stats.TotalCount)

	w, _ = s.do(t, http.MethodGet, "/api/assessments/statistics?skill=cooking", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSupervisorFlow(t *testing.T) {
	s := newTestServer(t)
	student, _ := s.tokenFor(t, "gus@example.com", model.Student)
	supervisor, _ := s.tokenFor(t, "mentor@example.com", model.Supervisor)

	w, resp := s.do(t, http.MethodPost, "/api/assessments/speaking/submit", student, map[string]interface{}{
		"level":           "B2",
		"language":        "english",
		"transcribedText": "I would like to talk about my hometown and its history.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result struct {
		Record model.AssessmentRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, model.StatusPending, result.Record.Status)
	assert.Nil(t, result.Record.Score)

	w, _ = s.do(t, http.MethodGet, "/api/supervisor/assessments/pending", student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = s.do(t, http.MethodGet, "/api/supervisor/assessments/pending", supervisor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page util.PageResponse
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, int64(1), page.Total)

	evaluate := fmt.Sprintf("/api/supervisor/assessments/%s/evaluate", result.Record.ID)
	w, _ = s.do(t, http.MethodPost, evaluate, supervisor, map[string]interface{}{"score": 120})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = s.do(t, http.MethodPost, evaluate, supervisor, map[string]interface{}{"score": 82, "feedback": "clear pronunciation"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var evaluated model.AssessmentRecord
	require.NoError(t, json.Unmarshal(resp.Data, &evaluated))
	assert.Equal(t, model.StatusEvaluated, evaluated.Status)
	require.NotNil(t, evaluated.SupervisorScore)
	assert.Equal(t, 82.0, *evaluated.SupervisorScore)

	w, _ = s.do(t, http.MethodPost, evaluate, supervisor, map[string]interface{}{"score": 70})
	assert.Equal(t, http.StatusConflict, w.Code)
}

// webm (EBML) 文件头
var webmHeader = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01, 0x42, 0xF7, 0x81, 0x01, 0x42, 0xF2, 0x81, 0x04, 0x42, 0xF3, 0x81, 0x08, 0x42, 0x82, 0x84, 'w', 'e', 'b', 'm'}

func (s *testServer) upload(t *testing.T, token, filename string, content []byte) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/assessments/media/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSpeakingMediaFlow(t *testing.T) {
	s := newTestServer(t)
	student, user := s.tokenFor(t, "ines@example.com", model.Student)
	supervisor, _ := s.tokenFor(t, "reviewer@example.com", model.Supervisor)

	// 未上传过的 mediaRef 不能提交
	w, resp := s.do(t, http.MethodPost, "/api/assessments/speaking/submit", student, map[string]interface{}{
		"level":    "B1",
		"language": "portuguese",
		"mediaRef": fmt.Sprintf("speaking/%d/never-uploaded.webm", user.ID),
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "validation_failed", resp.ErrorCode)

	w, resp = s.upload(t, student, "answer.webm", webmHeader)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var upload model.MediaUpload
	require.NoError(t, json.Unmarshal(resp.Data, &upload))
	require.NotEmpty(t, upload.MediaRef)

	w, resp = s.do(t, http.MethodPost, "/api/assessments/speaking/submit", student, map[string]interface{}{
		"level":    "B1",
		"language": "portuguese",
		"mediaRef": upload.MediaRef,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result struct {
		Record model.AssessmentRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, model.StatusPending, result.Record.Status)

	w, resp = s.do(t, http.MethodGet, "/api/supervisor/assessments/"+result.Record.ID, supervisor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rec model.AssessmentRecord
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	assert.Equal(t, "/uploads/"+upload.MediaRef, rec.MediaURL)
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.app.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.app.Router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfigCallbacksApplyReloadedTimeout(t *testing.T) {
	s := newTestServer(t)

	updated := *s.cfg
	updated.Assessment.ScoringTimeoutSeconds = 9
	s.app.applyConfig(&updated)

	assert.Equal(t, 9*time.Second, s.app.services.scoring.Timeout())
}
