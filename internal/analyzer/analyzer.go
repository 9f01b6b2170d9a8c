package analyzer

import (
	"context"
	"strings"
	"time"

	"TweetStreamPlatform/internal/domain"
)

// Analyzer представляет непрозрачную функцию анализа сырых пачек.
// Реализация может быть удаленной; вызывающая сторона обязана ограничивать
// вызов таймаутом.
type Analyzer interface {
	Analyze(ctx context.Context, batch domain.RawBatch) (domain.AnalyzedBatch, error)
}

// SentimentAnalyzer локальная реализация анализатора: оценивает тональность
// текста по спискам положительных и отрицательных слов
type SentimentAnalyzer struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// Списки по умолчанию. Минимальный словарь, достаточный для осмысленной
// оценки коротких сообщений.
var (
	defaultPositive = []string{
		"good", "great", "love", "win", "happy", "best", "awesome",
		"nice", "amazing", "excellent", "like", "cool",
	}
	defaultNegative = []string{
		"bad", "hate", "lose", "sad", "worst", "awful", "terrible",
		"angry", "boring", "wrong", "fail", "sucks",
	}
)

// NewSentimentAnalyzer создает анализатор со словарем по умолчанию
func NewSentimentAnalyzer() *SentimentAnalyzer {
	positive := make(map[string]struct{}, len(defaultPositive))
	for _, word := range defaultPositive {
		positive[word] = struct{}{}
	}
	negative := make(map[string]struct{}, len(defaultNegative))
	for _, word := range defaultNegative {
		negative[word] = struct{}{}
	}
	return &SentimentAnalyzer{positive: positive, negative: negative}
}

// Analyze оценивает каждое сообщение пачки и возвращает проанализированную
// пачку с тем же ключевым словом
func (a *SentimentAnalyzer) Analyze(ctx context.Context, batch domain.RawBatch) (domain.AnalyzedBatch, error) {
	analyzed := domain.AnalyzedBatch{
		TenantID:       batch.TenantID,
		Keyword:        batch.Keyword,
		Timestamp:      time.Now().UnixMilli(),
		AnalyzedTweets: make([]domain.AnalyzedTweet, 0, len(batch.Tweets)),
	}

	for _, tweet := range batch.Tweets {
		select {
		case <-ctx.Done():
			return domain.AnalyzedBatch{}, ctx.Err()
		default:
		}

		score := a.score(tweet.Text)
		analyzed.AnalyzedTweets = append(analyzed.AnalyzedTweets, domain.AnalyzedTweet{
			Tweet:     tweet,
			Score:     score,
			Sentiment: sentimentLabel(score),
		})
	}

	return analyzed, nil
}

// score возвращает оценку в диапазоне [-1, 1]
func (a *SentimentAnalyzer) score(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var hits, total float64
	for _, word := range words {
		word = strings.Trim(word, ".,!?:;\"'#@")
		if _, ok := a.positive[word]; ok {
			hits++
			total++
		} else if _, ok := a.negative[word]; ok {
			hits--
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return hits / total
}

func sentimentLabel(score float64) string {
	switch {
	case score > 0.2:
		return "positive"
	case score < -0.2:
		return "negative"
	default:
		return "neutral"
	}
}
