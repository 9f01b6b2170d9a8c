package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"TweetStreamPlatform/internal/credentials"
	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/errors"
	"TweetStreamPlatform/pkg/logger"
)

// RecordCreator принимает новую запись в работу
type RecordCreator interface {
	CreateRecord(ctx context.Context, record *domain.Record) error
}

// HTTPHandler обрабатывает REST API записей
type HTTPHandler struct {
	recorder  RecordCreator
	records   repository.RecordRepository
	tweets    repository.TweetRepository
	validator *credentials.Validator
	logger    logger.Logger
}

// NewHTTPHandler создает новый HTTP обработчик
func NewHTTPHandler(
	recorderService RecordCreator,
	records repository.RecordRepository,
	tweets repository.TweetRepository,
	validator *credentials.Validator,
	log logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		recorder:  recorderService,
		records:   records,
		tweets:    tweets,
		validator: validator,
		logger:    log,
	}
}

// RegisterRoutes регистрирует HTTP маршруты
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/records", h.handleRecords)
	mux.HandleFunc("/records/", h.handleRecordSubtree)
	mux.HandleFunc("/tenants/", h.handleTenantSubtree)
}

// createRecordRequest - тело POST /records
type createRecordRequest struct {
	Tenant   domain.Credentials `json:"tenant"`
	Keywords []string           `json:"keywords"`
	Begin    *time.Time         `json:"begin,omitempty"`
	End      *time.Time         `json:"end,omitempty"`
}

// handleRecords обрабатывает коллекцию записей
func (h *HTTPHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errors.WriteJSON(w, errors.New(errors.ErrValidation, "method not allowed"))
		return
	}
	h.createRecord(w, r)
}

// createRecord создает запланированную запись
func (h *HTTPHandler) createRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteJSON(w, errors.New(errors.ErrValidation, "invalid request body").WithDetails(err.Error()))
		return
	}

	if err := h.validator.Validate(r.Context(), req.Tenant); err != nil {
		errors.WriteJSON(w, err)
		return
	}

	record := &domain.Record{
		Tenant:   req.Tenant,
		Keywords: req.Keywords,
	}
	if req.Begin != nil {
		record.Begin = *req.Begin
	}
	if req.End != nil {
		record.End = *req.End
	}

	if err := h.recorder.CreateRecord(r.Context(), record); err != nil {
		h.logger.Error("failed to create record", logger.Error(err))
		errors.WriteJSON(w, err)
		return
	}

	h.logger.Info("record created",
		logger.String("record_id", record.ID),
		logger.String("tenant_id", record.TenantID),
		logger.Strings("keywords", record.Keywords),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(record)
}

// handleRecordSubtree обрабатывает /records/{recordId}/tweets
func (h *HTTPHandler) handleRecordSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errors.WriteJSON(w, errors.New(errors.ErrValidation, "method not allowed"))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "records" || parts[2] != "tweets" || parts[1] == "" {
		errors.WriteJSON(w, errors.New(errors.ErrNotFound, "not found"))
		return
	}

	h.getRecordTweets(w, r, parts[1])
}

// getRecordTweets возвращает накопленные сообщения записи
func (h *HTTPHandler) getRecordTweets(w http.ResponseWriter, r *http.Request, recordID string) {
	record, err := h.records.GetByID(r.Context(), recordID)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	tweets, err := h.tweets.QueryByRecord(r.Context(), record.TenantID, record.ID)
	if err != nil {
		h.logger.Error("failed to query record tweets", logger.Error(err))
		errors.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"record": record,
		"tweets": tweets,
	})
}

// handleTenantSubtree обрабатывает /tenants/{tenantId}/records
func (h *HTTPHandler) handleTenantSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errors.WriteJSON(w, errors.New(errors.ErrValidation, "method not allowed"))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "tenants" || parts[2] != "records" || parts[1] == "" {
		errors.WriteJSON(w, errors.New(errors.ErrNotFound, "not found"))
		return
	}

	records, err := h.records.GetByTenant(r.Context(), parts[1])
	if err != nil {
		h.logger.Error("failed to list tenant records", logger.Error(err))
		errors.WriteJSON(w, err)
		return
	}
	if records == nil {
		records = []*domain.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// LoggingMiddleware логирует входящие запросы
func (h *HTTPHandler) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.Info("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("remote", r.RemoteAddr),
		)

		next.ServeHTTP(w, r)
	})
}
