package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TweetStreamPlatform/internal/credentials"
	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/pkg/errors"
	"TweetStreamPlatform/pkg/logger"
)

// fakeCreator имитирует сервис записи
type fakeCreator struct {
	created []*domain.Record
	err     error
}

func (f *fakeCreator) CreateRecord(ctx context.Context, record *domain.Record) error {
	if f.err != nil {
		return f.err
	}
	record.ID = "rec-1"
	record.TenantID = record.Tenant.ID()
	record.Status = domain.RecordStatusPending
	f.created = append(f.created, record)
	return nil
}

// fakeRecords - репозиторий записей с предзаполненными данными
type fakeRecords struct {
	byID     map[string]*domain.Record
	byTenant map[string][]*domain.Record
}

func (f *fakeRecords) Insert(ctx context.Context, record *domain.Record) error { return nil }

func (f *fakeRecords) GetByID(ctx context.Context, recordID string) (*domain.Record, error) {
	record, ok := f.byID[recordID]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "record not found")
	}
	return record, nil
}

func (f *fakeRecords) GetByTenant(ctx context.Context, tenantID string) ([]*domain.Record, error) {
	return f.byTenant[tenantID], nil
}

func (f *fakeRecords) GetPending(ctx context.Context, now time.Time) ([]*domain.Record, error) {
	return nil, nil
}

func (f *fakeRecords) GetActive(ctx context.Context, tenantID string, now time.Time) ([]*domain.Record, error) {
	return nil, nil
}

func (f *fakeRecords) UpdateStatus(ctx context.Context, recordID string, status domain.RecordStatus) error {
	return nil
}

// fakeTweets - хранилище сообщений с предзаполненными данными
type fakeTweets struct {
	byRecord map[string]map[string][]domain.AnalyzedTweet
}

func (f *fakeTweets) Append(ctx context.Context, tenantID, recordID string, batch domain.AnalyzedBatch) error {
	return nil
}

func (f *fakeTweets) QueryByRecord(ctx context.Context, tenantID, recordID string) (map[string][]domain.AnalyzedTweet, error) {
	return f.byRecord[recordID], nil
}

func newTestHandler(creator *fakeCreator, records *fakeRecords, tweets *fakeTweets) http.Handler {
	if records == nil {
		records = &fakeRecords{byID: map[string]*domain.Record{}, byTenant: map[string][]*domain.Record{}}
	}
	if tweets == nil {
		tweets = &fakeTweets{byRecord: map[string]map[string][]domain.AnalyzedTweet{}}
	}

	h := NewHTTPHandler(creator, records, tweets, credentials.NewValidator(nil), logger.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func validRecordBody() string {
	return `{
		"tenant": {
			"consumerKey": "tenant-1",
			"consumerSecret": "secret",
			"token": "token",
			"tokenSecret": "token-secret"
		},
		"keywords": ["go"]
	}`
}

func TestCreateRecord(t *testing.T) {
	creator := &fakeCreator{}
	mux := newTestHandler(creator, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(validRecordBody()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, creator.created, 1)

	var created domain.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "rec-1", created.ID)
	assert.Equal(t, "tenant-1", created.TenantID)
}

func TestCreateRecord_InvalidCredentials(t *testing.T) {
	creator := &fakeCreator{}
	mux := newTestHandler(creator, nil, nil)

	body := `{"tenant": {"consumerKey": "only-key"}, "keywords": ["go"]}`
	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, creator.created)
}

func TestCreateRecord_ValidationErrorFromService(t *testing.T) {
	creator := &fakeCreator{err: errors.New(errors.ErrValidation, "begin must be in the future")}
	mux := newTestHandler(creator, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(validRecordBody()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var response map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "VALIDATION_ERROR", response["error"]["code"])
}

func TestCreateRecord_MalformedBody(t *testing.T) {
	mux := newTestHandler(&fakeCreator{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetTenantRecords(t *testing.T) {
	records := &fakeRecords{
		byID: map[string]*domain.Record{},
		byTenant: map[string][]*domain.Record{
			"tenant-1": {
				{ID: "rec-1", TenantID: "tenant-1", Keywords: []string{"go"}, Status: domain.RecordStatusActive},
				{ID: "rec-2", TenantID: "tenant-1", Keywords: []string{"rust"}, Status: domain.RecordStatusPending},
			},
		},
	}
	mux := newTestHandler(&fakeCreator{}, records, nil)

	req := httptest.NewRequest(http.MethodGet, "/tenants/tenant-1/records", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var listed []domain.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)
}

func TestGetTenantRecords_EmptyIsArray(t *testing.T) {
	mux := newTestHandler(&fakeCreator{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/tenants/ghost/records", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetRecordTweets(t *testing.T) {
	records := &fakeRecords{
		byID: map[string]*domain.Record{
			"rec-1": {ID: "rec-1", TenantID: "tenant-1", Keywords: []string{"go"}},
		},
		byTenant: map[string][]*domain.Record{},
	}
	tweets := &fakeTweets{
		byRecord: map[string]map[string][]domain.AnalyzedTweet{
			"rec-1": {
				"go": {
					{Tweet: domain.Tweet{ID: "1", Text: "go rocks"}, Score: 0.9, Sentiment: "positive"},
				},
			},
		},
	}
	mux := newTestHandler(&fakeCreator{}, records, tweets)

	req := httptest.NewRequest(http.MethodGet, "/records/rec-1/tweets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Record domain.Record                     `json:"record"`
		Tweets map[string][]domain.AnalyzedTweet `json:"tweets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "rec-1", response.Record.ID)
	require.Len(t, response.Tweets["go"], 1)
	assert.Equal(t, "positive", response.Tweets["go"][0].Sentiment)
}

func TestGetRecordTweets_UnknownRecord(t *testing.T) {
	mux := newTestHandler(&fakeCreator{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/records/ghost/tweets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestHandler(&fakeCreator{}, nil, nil)

	for _, target := range []string{"/records", "/records/rec-1/tweets", "/tenants/tenant-1/records"} {
		req := httptest.NewRequest(http.MethodDelete, target, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusOK, rec.Code, fmt.Sprintf("DELETE %s must be rejected", target))
	}
}
