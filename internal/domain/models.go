package domain

import (
	"time"
)

// Credentials представляет набор учетных данных тенанта для внешнего фида
type Credentials struct {
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
	Token          string `json:"token"`
	TokenSecret    string `json:"tokenSecret"`
}

// ID возвращает стабильный идентификатор тенанта.
// Идентификатором служит consumer key, как и в исходной схеме хранения.
func (c Credentials) ID() string {
	return c.ConsumerKey
}

// IsZero проверяет, что учетные данные не заполнены
func (c Credentials) IsZero() bool {
	return c.ConsumerKey == "" && c.ConsumerSecret == "" && c.Token == "" && c.TokenSecret == ""
}

// Tweet представляет одно сырое сообщение из внешнего фида
type Tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// RawBatch представляет пачку сырых сообщений, помеченную ключевым словом,
// по которому они совпали в фильтре фида
type RawBatch struct {
	TenantID string  `json:"tenant_id"`
	Keyword  string  `json:"keyword"`
	Tweets   []Tweet `json:"tweets"`
}

// AnalyzedTweet представляет сообщение после анализа
type AnalyzedTweet struct {
	Tweet
	Score     float64 `json:"score"`
	Sentiment string  `json:"sentiment"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// AnalyzedBatch представляет проанализированную пачку сообщений.
// Keyword сохраняется от исходной пачки и управляет маршрутизацией fan-out.
type AnalyzedBatch struct {
	TenantID       string          `json:"tenant_id"`
	Keyword        string          `json:"keyword"`
	Timestamp      int64           `json:"timestamp"`
	AnalyzedTweets []AnalyzedTweet `json:"analyzedTweets"`
}

// Lease представляет эксклюзивное владение фидом тенанта одной репликой
type Lease struct {
	TenantID  string    `json:"tenant_id"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired проверяет, истекла ли аренда на момент now
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// StreamState представляет состояние стрима тенанта на владеющей реплике
type StreamState string

// Возможные состояния стрима
const (
	StreamStateStarting StreamState = "starting"
	StreamStateRunning  StreamState = "running"
	StreamStateDegraded StreamState = "degraded"
	StreamStateStopped  StreamState = "stopped"
)

// RecordStatus представляет статус запланированной записи
type RecordStatus string

// Возможные статусы записи
const (
	RecordStatusPending  RecordStatus = "pending"
	RecordStatusActive   RecordStatus = "active"
	RecordStatusFinished RecordStatus = "finished"
)

// Record представляет запланированную запись проанализированных сообщений
type Record struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Tenant    Credentials  `json:"tenant"`
	Keywords  []string     `json:"keywords"`
	Begin     time.Time    `json:"begin"`
	End       time.Time    `json:"end"`
	Status    RecordStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Active проверяет, попадает ли момент now в интервал записи
func (r Record) Active(now time.Time) bool {
	return !now.Before(r.Begin) && now.Before(r.End)
}
