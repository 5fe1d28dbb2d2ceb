package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibam/learnsync/apps/api/echo"
	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/deadletter"
	"github.com/ibam/learnsync/core/forms"
	"github.com/ibam/learnsync/core/progress"
	"github.com/ibam/learnsync/services/email"
	"github.com/ibam/learnsync/storage/database/inmem"
	"github.com/ibam/learnsync/tests"
)

type testApp struct {
	server  *echoapi.Server
	mailSvc *emailsvc.ConsoleService
	logger  *testutil.Logger
}

func setup(t *testing.T, repo ...progress.Repository) testApp {
	conf := core.NewTestConfig()
	conf.Server.DisableReqLogs = true

	db := inmemdb.NewDB()
	progressRepo := inmemdb.NewProgressRepository(db)
	if len(repo) > 0 {
		progressRepo = repo[0]
	}

	logger := testutil.NewLogger(t)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	translator := core.NewTranslator()

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		ProgressSvc:   progress.NewService(progressRepo, logger),
		FormSvc:       forms.NewService(inmemdb.NewFormRepository(db)),
		DeadLetterSvc: deadletter.NewService(mailSvc, logger, conf),
		Validate:      core.NewValidator(translator),
		Translator:    translator,
	})
	return testApp{server: server, mailSvc: mailSvc, logger: logger}
}

type (
	httpErr struct {
		Error   string                 `json:"error"`
		Details map[string]interface{} `json:"details"`
	}

	sessionResp struct {
		Success bool                     `json:"success"`
		Data    progress.SessionProgress `json:"data"`
	}
)

func (app testApp) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	app := setup(t)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			rec := app.do(t, method, "/api/health", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
			if method == http.MethodHead {
				assert.Empty(t, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"status":"ok"`)
			}
		})
	}
}

func TestProgressSession_post(t *testing.T) {
	app := setup(t)

	tests := []struct {
		name        string
		body        interface{}
		wantCode    int
		wantPct     int
		wantDetails []string
	}{
		{
			name:     "lookback",
			body:     `{"userId":"u1","moduleId":1,"sessionId":1,"section":"lookback","sectionCompleted":{"lookback":true}}`,
			wantCode: http.StatusOK,
			wantPct:  34,
		},
		{
			name:     "numeric string ids",
			body:     `{"userId":"u2","moduleId":"1","sessionId":"2","subsectionProgress":{"lookingUp":{"wealth":true,"case":true}}}`,
			wantCode: http.StatusOK,
			wantPct:  13,
		},
		{
			name:        "missing ids",
			body:        `{"sectionCompleted":{"lookback":true}}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"userId", "moduleId", "sessionId"},
		},
		{
			name:        "non integer module",
			body:        `{"userId":"u1","moduleId":"abc","sessionId":1}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"moduleId"},
		},
		{
			name:        "fractional session",
			body:        `{"userId":"u1","moduleId":1,"sessionId":1.5}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"sessionId"},
		},
		{
			name:        "fractional module string",
			body:        `{"userId":"u1","moduleId":"1.5","sessionId":1}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"moduleId"},
		},
		{
			name:        "negative session",
			body:        `{"userId":"u1","moduleId":1,"sessionId":-2}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"sessionId"},
		},
		{
			name:        "video percentage out of range",
			body:        `{"userId":"u1","moduleId":1,"sessionId":1,"videoWatchPercentage":140}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"videoWatchPercentage"},
		},
		{
			name:        "negative time spent",
			body:        `{"userId":"u1","moduleId":1,"sessionId":1,"timeSpentSeconds":-5}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"timeSpentSeconds"},
		},
		{
			name:        "zero module",
			body:        `{"userId":"u1","moduleId":0,"sessionId":1}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"moduleId"},
		},
		{
			name:     "malformed json",
			body:     `{"userId":`,
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/api/progress/session", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode == http.StatusOK {
				var resp sessionResp
				decode(t, rec, &resp)
				assert.True(t, resp.Success)
				assert.Equal(t, tt.wantPct, resp.Data.CompletionPercentage)
				return
			}
			var resp httpErr
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
			for _, fld := range tt.wantDetails {
				assert.Contains(t, resp.Details, fld)
			}
		})
	}
}

func TestProgressSession_completion(t *testing.T) {
	app := setup(t)

	body := `{"userId":"u1","moduleId":1,"sessionId":1,"sectionCompleted":{"lookback":true,"lookup":true,"lookforward":true}}`
	var first, second sessionResp
	decode(t, app.do(t, http.MethodPost, "/api/progress/session", body), &first)
	decode(t, app.do(t, http.MethodPost, "/api/progress/session", body), &second)

	assert.Equal(t, 100, first.Data.CompletionPercentage)
	require.True(t, first.Data.CompletedAt.Valid)
	assert.True(t, first.Data.CompletedAt.Time.Equal(second.Data.CompletedAt.Time))

	rec := app.do(t, http.MethodGet, "/api/progress/session?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary progress.Summary
	decode(t, rec, &summary)
	require.Len(t, summary.Modules, 1)
	assert.Equal(t, 25, summary.Modules[0].CompletionPercentage)
	assert.Len(t, summary.Sessions, 1)
	assert.Equal(t, 0, summary.OverallCompletion)
}

func TestProgressSession_partialCredit(t *testing.T) {
	tests := []struct {
		name  string
		posts []string
		want  []int
	}{
		{
			name: "section flag after subsections",
			posts: []string{
				`{"userId":"u1","moduleId":1,"sessionId":1,"subsectionProgress":{"lookingUp":{"wealth":true,"people":true}}}`,
				`{"userId":"u1","moduleId":1,"sessionId":1,"sectionCompleted":{"lookback":true}}`,
			},
			want: []int{13, 34},
		},
		{
			name: "reported subsections replace the stored ones",
			posts: []string{
				`{"userId":"u1","moduleId":1,"sessionId":1,"subsectionProgress":{"lookingUp":{"wealth":true}}}`,
				`{"userId":"u1","moduleId":1,"sessionId":1,"subsectionProgress":{"lookingUp":{"people":true}}}`,
			},
			want: []int{7, 7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setup(t)
			for i, body := range tt.posts {
				rec := app.do(t, http.MethodPost, "/api/progress/session", body)
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				var resp sessionResp
				decode(t, rec, &resp)
				assert.Equal(t, tt.want[i], resp.Data.CompletionPercentage, "post %d", i)
			}
		})
	}
}

func TestProgressSession_get(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodGet, "/api/progress/session", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/progress/session?userId=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"modules":[],"sessions":[],"overallCompletion":0}`, rec.Body.String())
}

func TestProgressUpdate(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodPost, "/api/progress/update", map[string]interface{}{
		"userId": "u1", "moduleId": 2, "sessionId": 1, "section": "lookup",
		"data": map[string]interface{}{
			"sectionCompleted": map[string]bool{"lookup": true},
			"timeSpentSeconds": 90,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp sessionResp
	decode(t, rec, &resp)
	assert.Equal(t, 33, resp.Data.CompletionPercentage)
	assert.Equal(t, "lookup", resp.Data.LastSection)
	assert.EqualValues(t, 90, resp.Data.TimeSpentSeconds)
}

func TestProgressCompleteSection(t *testing.T) {
	app := setup(t)

	tests := []struct {
		name        string
		section     string
		wantPct     int
		wantSection string
	}{
		{name: "known section", section: "lookforward", wantPct: 33, wantSection: "lookforward"},
		{name: "unknown section records lastSection only", section: "intro", wantPct: 33, wantSection: "intro"},
		{name: "second known section", section: "lookback", wantPct: 67, wantSection: "lookback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/api/progress/complete-section", map[string]interface{}{
				"userId": "u1", "moduleId": "4", "sessionId": 2, "section": tt.section,
				"completedAt": "2024-05-01T10:00:00Z",
			})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp sessionResp
			decode(t, rec, &resp)
			assert.Equal(t, tt.wantPct, resp.Data.CompletionPercentage)
			assert.Equal(t, tt.wantSection, resp.Data.LastSection)
		})
	}

	rec := app.do(t, http.MethodPost, "/api/progress/complete-section", `{"userId":"u1","moduleId":4,"sessionId":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressContinue(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodGet, "/api/progress/continue?userId=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	app.do(t, http.MethodPost, "/api/progress/session", `{"userId":"u1","moduleId":5,"sessionId":3,"sectionCompleted":{"lookback":true}}`)
	rec = app.do(t, http.MethodGet, "/api/progress/continue?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionResp
	decode(t, rec, &resp)
	assert.Equal(t, 5, resp.Data.ModuleID)
	assert.Equal(t, 3, resp.Data.SessionID)
}

func TestForms(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodGet, "/api/forms/goals?userId=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/forms/save", `{"userId":"u1","formId":"goals","moduleId":"1","data":{"a":"x","b":"y"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(t, http.MethodPost, "/api/forms/save", `{"userId":"u1","formId":"goals","sessionId":2,"data":{"b":"z"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/forms/goals?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data forms.Save `json:"data"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, forms.Data{"a": "x", "b": "z"}, resp.Data.Data)
	assert.Equal(t, 1, resp.Data.ModuleID.Int)
	assert.Equal(t, 2, resp.Data.SessionID.Int)

	rec = app.do(t, http.MethodGet, "/api/forms/goals", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = app.do(t, http.MethodPost, "/api/forms/save", `{"userId":"u1","data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadLetters(t *testing.T) {
	app := setup(t)

	rec := app.do(t, http.MethodPost, "/api/recovery/dead-letters", map[string]interface{}{
		"userId": "u1", "moduleId": 1, "sessionId": 2,
		"operations": []map[string]interface{}{
			{"id": "op-1", "type": "progress_update", "retryCount": 6, "lastError": "HTTP 500"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, app.mailSvc.SentMessages(), 1)
	assert.Len(t, app.logger.Entries("WARN"), 1)

	rec = app.do(t, http.MethodPost, "/api/recovery/dead-letters", `{"userId":"u1","operations":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type brokenRepo struct {
	progress.Repository
}

func (brokenRepo) MergeSession(context.Context, progress.Key, progress.MergeFunc) (progress.SessionProgress, error) {
	return progress.SessionProgress{}, errors.New("connection refused")
}

func TestProgressSession_persistenceFailure(t *testing.T) {
	app := setup(t, brokenRepo{Repository: inmemdb.NewProgressRepository(inmemdb.NewDB())})

	rec := app.do(t, http.MethodPost, "/api/progress/session", `{"userId":"u1","moduleId":1,"sessionId":1}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "Failed to update progress", resp.Error)
	assert.Equal(t, "connection refused", resp.Details)
	assert.Len(t, app.logger.Entries("ERROR"), 1)
}
