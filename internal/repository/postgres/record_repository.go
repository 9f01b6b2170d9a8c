package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/errors"
)

// RecordRepository реализация репозитория записей в PostgreSQL
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository создает новый экземпляр RecordRepository
func NewRecordRepository(pool *pgxpool.Pool) repository.RecordRepository {
	return &RecordRepository{
		pool: pool,
	}
}

// Insert создает новую запись
func (r *RecordRepository) Insert(ctx context.Context, record *domain.Record) error {
	query := `
		INSERT INTO records (id, tenant_id, tenant, keywords, begin_at, end_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	tenant, err := json.Marshal(record.Tenant)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to encode tenant credentials")
	}

	_, err = r.pool.Exec(ctx, query,
		record.ID,
		record.TenantID,
		tenant,
		record.Keywords,
		record.Begin,
		record.End,
		record.Status,
		record.CreatedAt,
	)

	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to insert record").
			WithDetails(fmt.Sprintf("record_id: %s, tenant_id: %s", record.ID, record.TenantID))
	}

	return nil
}

// GetByID возвращает запись по ID
func (r *RecordRepository) GetByID(ctx context.Context, recordID string) (*domain.Record, error) {
	query := `
		SELECT id, tenant_id, tenant, keywords, begin_at, end_at, status, created_at
		FROM records
		WHERE id = $1
	`

	record, err := r.scanRecord(r.pool.QueryRow(ctx, query, recordID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.New(errors.ErrNotFound, "record not found").
				WithDetails(fmt.Sprintf("record_id: %s", recordID))
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get record").
			WithDetails(fmt.Sprintf("record_id: %s", recordID))
	}

	return record, nil
}

// GetByTenant возвращает записи тенанта
func (r *RecordRepository) GetByTenant(ctx context.Context, tenantID string) ([]*domain.Record, error) {
	query := `
		SELECT id, tenant_id, tenant, keywords, begin_at, end_at, status, created_at
		FROM records
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`

	return r.queryRecords(ctx, query, tenantID)
}

// GetPending возвращает записи, у которых конец еще впереди.
// Используется при старте реплики для восстановления расписаний.
func (r *RecordRepository) GetPending(ctx context.Context, now time.Time) ([]*domain.Record, error) {
	query := `
		SELECT id, tenant_id, tenant, keywords, begin_at, end_at, status, created_at
		FROM records
		WHERE end_at > $1 AND status != 'finished'
		ORDER BY begin_at ASC
	`

	return r.queryRecords(ctx, query, now)
}

// GetActive возвращает записи тенанта, активные в момент now
func (r *RecordRepository) GetActive(ctx context.Context, tenantID string, now time.Time) ([]*domain.Record, error) {
	query := `
		SELECT id, tenant_id, tenant, keywords, begin_at, end_at, status, created_at
		FROM records
		WHERE tenant_id = $1 AND begin_at <= $2 AND end_at > $2 AND status = 'active'
		ORDER BY begin_at ASC
	`

	return r.queryRecords(ctx, query, tenantID, now)
}

// UpdateStatus обновляет статус записи
func (r *RecordRepository) UpdateStatus(ctx context.Context, recordID string, status domain.RecordStatus) error {
	query := `UPDATE records SET status = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, recordID, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update record status").
			WithDetails(fmt.Sprintf("record_id: %s, status: %s", recordID, status))
	}

	if result.RowsAffected() == 0 {
		return errors.New(errors.ErrNotFound, "record not found").
			WithDetails(fmt.Sprintf("record_id: %s", recordID))
	}

	return nil
}

func (r *RecordRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*domain.Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to query records")
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan record")
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate records")
	}

	return records, nil
}

func (r *RecordRepository) scanRecord(row pgx.Row) (*domain.Record, error) {
	var record domain.Record
	var tenant []byte

	err := row.Scan(
		&record.ID,
		&record.TenantID,
		&tenant,
		&record.Keywords,
		&record.Begin,
		&record.End,
		&record.Status,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tenant, &record.Tenant); err != nil {
		return nil, fmt.Errorf("failed to decode tenant credentials: %w", err)
	}

	return &record, nil
}
