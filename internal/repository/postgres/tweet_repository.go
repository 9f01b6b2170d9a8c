package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/errors"
)

// TweetRepository реализация хранилища проанализированных сообщений в PostgreSQL
type TweetRepository struct {
	pool *pgxpool.Pool
}

// NewTweetRepository создает новый экземпляр TweetRepository
func NewTweetRepository(pool *pgxpool.Pool) repository.TweetRepository {
	return &TweetRepository{
		pool: pool,
	}
}

// Append дописывает сообщения пачки к записи. Строка на сообщение:
// выборка по записи и ключевому слову не требует распаковки JSON.
func (r *TweetRepository) Append(ctx context.Context, tenantID, recordID string, batch domain.AnalyzedBatch) error {
	query := `
		INSERT INTO analyzed_tweets (tenant_id, record_id, keyword, tweet_id, text, author,
			score, sentiment, tweet_created_at, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	rows := make([][]interface{}, 0, len(batch.AnalyzedTweets))
	analyzedAt := time.UnixMilli(batch.Timestamp)
	for _, tweet := range batch.AnalyzedTweets {
		rows = append(rows, []interface{}{
			tenantID,
			recordID,
			batch.Keyword,
			tweet.ID,
			tweet.Text,
			tweet.Author,
			tweet.Score,
			tweet.Sentiment,
			tweet.CreatedAt,
			analyzedAt,
		})
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, args := range rows {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Wrap(err, errors.ErrInternal, "failed to append analyzed tweet").
				WithDetails(fmt.Sprintf("record_id: %s, keyword: %s", recordID, batch.Keyword))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to commit analyzed batch").
			WithDetails(fmt.Sprintf("record_id: %s", recordID))
	}

	return nil
}

// QueryByRecord возвращает накопленные сообщения записи, сгруппированные
// по ключевому слову
func (r *TweetRepository) QueryByRecord(ctx context.Context, tenantID, recordID string) (map[string][]domain.AnalyzedTweet, error) {
	query := `
		SELECT keyword, tweet_id, text, author, score, sentiment, tweet_created_at, analyzed_at
		FROM analyzed_tweets
		WHERE tenant_id = $1 AND record_id = $2
		ORDER BY analyzed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, tenantID, recordID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to query analyzed tweets").
			WithDetails(fmt.Sprintf("record_id: %s", recordID))
	}
	defer rows.Close()

	result := make(map[string][]domain.AnalyzedTweet)
	for rows.Next() {
		var keyword string
		var tweet domain.AnalyzedTweet
		var analyzedAt time.Time

		err := rows.Scan(
			&keyword,
			&tweet.ID,
			&tweet.Text,
			&tweet.Author,
			&tweet.Score,
			&tweet.Sentiment,
			&tweet.CreatedAt,
			&analyzedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to scan analyzed tweet").
				WithDetails(fmt.Sprintf("record_id: %s", recordID))
		}

		tweet.Timestamp = analyzedAt.UnixMilli()
		result[keyword] = append(result[keyword], tweet)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to iterate analyzed tweets").
			WithDetails(fmt.Sprintf("record_id: %s", recordID))
	}

	return result, nil
}
