package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/infrastructure/middleware"
	"rtcstats/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSessionProcessor struct {
	mock.Mock
}

func (m *MockSessionProcessor) Process(ctx context.Context, sub domain.SessionSubmission) (domain.ProcessResult, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(domain.ProcessResult), args.Error(1)
}

func (m *MockSessionProcessor) ProcessBatch(ctx context.Context, subs []domain.SessionSubmission) ([]domain.ProcessResult, []error) {
	args := m.Called(ctx, subs)
	return args.Get(0).([]domain.ProcessResult), args.Get(1).([]error)
}

type MockSessionLookup struct {
	mock.Mock
}

func (m *MockSessionLookup) FindSessions(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error) {
	args := m.Called(ctx, baseDumpID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PersistedMetadata), args.Error(1)
}

const submissionBody = `{
	"clientId": "abc",
	"conferenceId": "Room@conference.example.com",
	"app": "meet",
	"startDate": "2024-01-01T10:00:00Z",
	"endDate": "2024-01-01T11:00:00Z",
	"stats": {
		"PC_0": {
			"1": {"mediaType": "audio", "packetsSent": [10, 100], "packetsSentLost": [0, 5]},
			"transport": {"rtts": [10, 20]},
			"isP2P": true
		}
	}
}`

func newTestRouter(t *testing.T, processor *MockSessionProcessor, maxBody int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware(), middleware.ErrorHandlerMiddleware(log))

	handler := NewSessionHandler(processor, new(MockSessionLookup), t.TempDir(), maxBody, 2, time.Second, log)
	handler.SetupRoutes(router)
	return router
}

func postSession(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitSession_Stored(t *testing.T) {
	processor := new(MockSessionProcessor)
	var dumpPath string
	processor.On("Process", mock.Anything, mock.MatchedBy(func(sub domain.SessionSubmission) bool {
		return sub.ClientID == "abc" && sub.App == "meet" && len(sub.Stats["PC_0"].Tracks) == 1
	})).Run(func(args mock.Arguments) {
		sub := args.Get(1).(domain.SessionSubmission)
		dumpPath = sub.DumpPath
		raw, err := os.ReadFile(sub.DumpPath)
		require.NoError(t, err)
		assert.JSONEq(t, submissionBody, string(raw))
	}).Return(domain.ProcessResult{
		Persist: domain.PersistResult{
			Outcome:  domain.OutcomeStored,
			ClientID: "abc_1",
			DumpID:   "abc_1.gz",
			Attempts: 2,
		},
		Archived: true,
	}, nil)

	router := newTestRouter(t, processor, 1<<20)
	w := postSession(router, submissionBody)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var receipt domain.SubmissionReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "abc_1", receipt.ClientID)
	assert.Equal(t, "abc_1.gz", receipt.DumpID)
	assert.Equal(t, 2, receipt.Attempts)
	assert.True(t, receipt.Archived)

	_, err := os.Stat(dumpPath)
	assert.True(t, os.IsNotExist(err), "spooled dump should be removed")
	processor.AssertExpectations(t)
}

func TestSubmitSession_GeneratesClientID(t *testing.T) {
	processor := new(MockSessionProcessor)
	processor.On("Process", mock.Anything, mock.MatchedBy(func(sub domain.SessionSubmission) bool {
		return sub.ClientID != ""
	})).Return(domain.ProcessResult{Persist: domain.PersistResult{Outcome: domain.OutcomeStored}}, nil)

	router := newTestRouter(t, processor, 1<<20)
	w := postSession(router, `{"conferenceId": "room", "stats": {}}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	processor.AssertExpectations(t)
}

func TestSubmitSession_ArchiveFailureStillCreated(t *testing.T) {
	processor := new(MockSessionProcessor)
	processor.On("Process", mock.Anything, mock.Anything).Return(domain.ProcessResult{
		Persist:    domain.PersistResult{Outcome: domain.OutcomeStored, ClientID: "abc", DumpID: "abc.gz", Attempts: 1},
		ArchiveErr: fmt.Errorf("%w: disk full", domain.ErrArchiveFailed),
	}, nil)

	router := newTestRouter(t, processor, 1<<20)
	w := postSession(router, submissionBody)

	require.Equal(t, http.StatusCreated, w.Code)
	var receipt domain.SubmissionReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.False(t, receipt.Archived)
	assert.Contains(t, receipt.ArchiveError, "disk full")
}

func TestSubmitSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "retries exhausted",
			err:    errors.NewRetriesExhaustedError(domain.ErrRetriesExhausted, 16),
			status: http.StatusConflict,
			code:   "RETRIES_EXHAUSTED",
		},
		{
			name:   "store failure",
			err:    errors.NewPersistFailedError(fmt.Errorf("connection reset")),
			status: http.StatusBadGateway,
			code:   "PERSIST_FAILED",
		},
		{
			name:   "invalid metadata",
			err:    errors.NewInvalidInputError("conferenceId is required"),
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockSessionProcessor)
			processor.On("Process", mock.Anything, mock.Anything).Return(domain.ProcessResult{}, tt.err)

			router := newTestRouter(t, processor, 1<<20)
			w := postSession(router, submissionBody)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestSubmitSession_MalformedSample(t *testing.T) {
	processor := new(MockSessionProcessor)
	router := newTestRouter(t, processor, 1<<20)

	bodies := map[string]string{
		"negative counter": `{"clientId":"a","conferenceId":"c","stats":{"PC_0":{"1":{"mediaType":"audio","packetsSent":[-1]}}}}`,
		"fractional":       `{"clientId":"a","conferenceId":"c","stats":{"PC_0":{"1":{"mediaType":"audio","packetsSent":[1.5]}}}}`,
		"negative rtt":     `{"clientId":"a","conferenceId":"c","stats":{"PC_0":{"transport":{"rtts":[-3]}}}}`,
		"not json":         `{{`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			w := postSession(router, body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_INPUT")
		})
	}
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestSubmitSession_TooLarge(t *testing.T) {
	processor := new(MockSessionProcessor)
	router := newTestRouter(t, processor, 16)

	w := postSession(router, submissionBody)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func postBatch(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitBatch_ReportsEachSession(t *testing.T) {
	processor := new(MockSessionProcessor)
	processor.On("ProcessBatch", mock.Anything, mock.MatchedBy(func(subs []domain.SessionSubmission) bool {
		if len(subs) != 1 || subs[0].ClientID != "abc" {
			return false
		}
		raw, err := os.ReadFile(subs[0].DumpPath)
		return err == nil && strings.Contains(string(raw), `"abc"`)
	})).Return(
		[]domain.ProcessResult{{Persist: domain.PersistResult{Outcome: domain.OutcomeStored, ClientID: "abc_1", DumpID: "abc_1.gz", Attempts: 2}}},
		[]error{nil},
	)

	router := newTestRouter(t, processor, 1<<20)
	w := postBatch(router, `[
		{"clientId":"bad","conferenceId":"c","stats":{"PC_0":{"1":{"mediaType":"audio","packetsSent":[-1]}}}},
		{"clientId":"abc","conferenceId":"room","stats":{}}
	]`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var receipt domain.BatchReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	require.Len(t, receipt.Sessions, 2)

	assert.Equal(t, 0, receipt.Sessions[0].Index)
	assert.Equal(t, "INVALID_INPUT", receipt.Sessions[0].Error)
	assert.Nil(t, receipt.Sessions[0].Receipt)

	assert.Equal(t, 1, receipt.Sessions[1].Index)
	require.NotNil(t, receipt.Sessions[1].Receipt)
	assert.Equal(t, "abc_1.gz", receipt.Sessions[1].Receipt.DumpID)
	processor.AssertExpectations(t)
}

func TestSubmitBatch_StoreErrorsStayPerSession(t *testing.T) {
	processor := new(MockSessionProcessor)
	processor.On("ProcessBatch", mock.Anything, mock.Anything).Return(
		[]domain.ProcessResult{
			{Persist: domain.PersistResult{Outcome: domain.OutcomeStored, ClientID: "a", DumpID: "a.gz", Attempts: 1}},
			{Persist: domain.PersistResult{Outcome: domain.OutcomeExhausted}},
		},
		[]error{nil, errors.NewRetriesExhaustedError(domain.ErrRetriesExhausted, 16)},
	)

	router := newTestRouter(t, processor, 1<<20)
	w := postBatch(router, `[{"clientId":"a","conferenceId":"c","stats":{}},{"clientId":"b","conferenceId":"c","stats":{}}]`)

	require.Equal(t, http.StatusOK, w.Code)
	var receipt domain.BatchReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	require.Len(t, receipt.Sessions, 2)
	assert.NotNil(t, receipt.Sessions[0].Receipt)
	assert.Equal(t, "RETRIES_EXHAUSTED", receipt.Sessions[1].Error)
}

func TestSubmitBatch_RejectsWholeRequest(t *testing.T) {
	bodies := map[string]string{
		"not an array": `{"clientId":"a"}`,
		"empty":        `[]`,
		"too many":     `[{"conferenceId":"c"},{"conferenceId":"c"},{"conferenceId":"c"}]`,
		"truncated":    `[{"conferenceId":"c"},`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			processor := new(MockSessionProcessor)
			router := newTestRouter(t, processor, 1<<20)

			w := postBatch(router, body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "INVALID_INPUT")
			processor.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitBatch_FillsAppFromToken(t *testing.T) {
	processor := new(MockSessionProcessor)
	processor.On("ProcessBatch", mock.Anything, mock.MatchedBy(func(subs []domain.SessionSubmission) bool {
		return len(subs) == 1 && subs[0].App == "meet" && subs[0].ClientID != ""
	})).Return([]domain.ProcessResult{{}}, []error{nil})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	handler := NewSessionHandler(processor, nil, t.TempDir(), 1<<20, 10, time.Second, nil)
	handler.SetupRoutes(router, func(c *gin.Context) {
		c.Set(middleware.ContextKeyApp, "meet")
	})

	w := postBatch(router, `[{"conferenceId":"room","stats":{}}]`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	processor.AssertExpectations(t)
}

func TestGetSessions(t *testing.T) {
	processor := new(MockSessionProcessor)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))

	lookup := new(MockSessionLookup)
	lookup.On("FindSessions", mock.Anything, "abc").Return([]*domain.PersistedMetadata{
		{BaseDumpID: "abc", DumpID: "abc.gz"},
		{BaseDumpID: "abc", DumpID: "abc_1.gz"},
	}, nil)
	lookup.On("FindSessions", mock.Anything, "none").Return(nil, nil)
	lookup.On("FindSessions", mock.Anything, "abc_1").Return(nil, errors.NewInvalidInputError("baseDumpId must not contain _"))

	NewSessionHandler(processor, lookup, t.TempDir(), 1<<20, 10, time.Second, nil).SetupRoutes(router)

	get := func(base string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+base, nil))
		return w
	}

	w := get("abc")
	require.Equal(t, http.StatusOK, w.Code)
	var listing domain.SessionListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, "abc", listing.BaseDumpID)
	require.Len(t, listing.Sessions, 2)
	assert.Equal(t, "abc_1.gz", listing.Sessions[1].DumpID)

	w = get("none")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = get("abc_1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitSession_FillsAppFromToken(t *testing.T) {
	processor := new(MockSessionProcessor)
	processor.On("Process", mock.Anything, mock.MatchedBy(func(sub domain.SessionSubmission) bool {
		return sub.App == "meet"
	})).Return(domain.ProcessResult{Persist: domain.PersistResult{Outcome: domain.OutcomeStored}}, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewSessionHandler(processor, nil, t.TempDir(), 1<<20, 10, time.Second, nil).SetupRoutes(router, func(c *gin.Context) {
		c.Set(middleware.ContextKeyApp, "meet")
	})

	w := postSession(router, `{"clientId":"abc","conferenceId":"room","stats":{}}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	processor.AssertExpectations(t)
}
