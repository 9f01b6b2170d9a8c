package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TweetStreamPlatform/internal/domain"
)

func sampleCredentials() domain.Credentials {
	return domain.Credentials{
		ConsumerKey:    "my-consumer-key",
		ConsumerSecret: "my-consumer-secret",
		Token:          "my-token",
		TokenSecret:    "my-token-secret",
	}
}

func TestAddTenant(t *testing.T) {
	r := NewRegistry()

	tenantID := r.AddTenant(sampleCredentials())
	assert.Equal(t, "my-consumer-key", tenantID)

	credentials, ok := r.GetTenant(tenantID)
	require.True(t, ok)
	assert.Equal(t, sampleCredentials(), credentials)
}

func TestAddTenantIdempotent(t *testing.T) {
	r := NewRegistry()

	tenantID := r.AddTenant(sampleCredentials())
	r.AddKeyword(tenantID, "user-1", "fbc")

	// Повторная регистрация не должна терять пользователей
	r.AddTenant(sampleCredentials())
	assert.True(t, r.HasUsers(tenantID))
	assert.Equal(t, []string{"fbc"}, r.KeywordUnion(tenantID))
}

func TestAddUserCreatesTenantShell(t *testing.T) {
	r := NewRegistry()

	r.AddUser("unknown-tenant", "user-1")

	assert.True(t, r.HasUsers("unknown-tenant"))

	// Оболочка не содержит учетных данных
	credentials, ok := r.GetTenant("unknown-tenant")
	require.True(t, ok)
	assert.True(t, credentials.IsZero())
}

func TestAddTenantFillsShellCredentials(t *testing.T) {
	r := NewRegistry()

	r.AddUser(sampleCredentials().ID(), "user-1")
	r.AddTenant(sampleCredentials())

	credentials, ok := r.GetTenant(sampleCredentials().ID())
	require.True(t, ok)
	assert.Equal(t, sampleCredentials(), credentials)
}

func TestKeywordUnion(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())

	r.AddKeyword(tenantID, "user-1", "fbc")
	r.AddKeyword(tenantID, "user-2", "bvb")
	r.AddKeyword(tenantID, "user-2", "fbc")

	assert.Equal(t, []string{"bvb", "fbc"}, r.KeywordUnion(tenantID))
}

func TestKeywordUnionUnknownTenant(t *testing.T) {
	r := NewRegistry()

	assert.Empty(t, r.KeywordUnion("missing"))
}

func TestKeywordUnionAfterRemovals(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())

	r.AddKeyword(tenantID, "user-1", "fbc")
	r.AddKeyword(tenantID, "user-1", "bvb")
	r.AddKeyword(tenantID, "user-2", "bvb")

	r.RemoveKeyword(tenantID, "user-1", "bvb")
	// "bvb" остается в объединении, пока его отслеживает user-2
	assert.Equal(t, []string{"bvb", "fbc"}, r.KeywordUnion(tenantID))

	r.RemoveUser(tenantID, "user-2")
	assert.Equal(t, []string{"fbc"}, r.KeywordUnion(tenantID))
}

func TestRemoveKeywordIsNoopForUnknown(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())
	r.AddKeyword(tenantID, "user-1", "fbc")

	r.RemoveKeyword("missing", "user-1", "fbc")
	r.RemoveKeyword(tenantID, "missing", "fbc")
	r.RemoveKeyword(tenantID, "user-1", "missing")

	assert.Equal(t, []string{"fbc"}, r.KeywordUnion(tenantID))
}

func TestHasUsers(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())

	assert.False(t, r.HasUsers(tenantID))

	r.AddUser(tenantID, "user-1")
	assert.True(t, r.HasUsers(tenantID))

	r.RemoveUser(tenantID, "user-1")
	assert.False(t, r.HasUsers(tenantID))

	// Удаление пользователя не удаляет тенанта
	_, ok := r.GetTenant(tenantID)
	assert.True(t, ok)
}

func TestUserIDsByKeyword(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())

	r.AddKeyword(tenantID, "user-1", "fbc")
	r.AddKeyword(tenantID, "user-2", "bvb")

	assert.Equal(t, []string{"user-1"}, r.UserIDsByKeyword(tenantID, "fbc"))

	// После подписки второго пользователя на то же слово событие должно уходить обоим
	r.AddKeyword(tenantID, "user-2", "fbc")
	assert.Equal(t, []string{"user-1", "user-2"}, r.UserIDsByKeyword(tenantID, "fbc"))

	assert.Empty(t, r.UserIDsByKeyword(tenantID, "missing"))
	assert.Empty(t, r.UserIDsByKeyword("missing", "fbc"))
}

func TestKeywordsAreCaseSensitive(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())

	r.AddKeyword(tenantID, "user-1", "FBC")
	r.AddKeyword(tenantID, "user-1", "fbc")

	assert.Equal(t, []string{"FBC", "fbc"}, r.KeywordsByUser(tenantID, "user-1"))
	assert.Equal(t, []string{"user-1"}, r.UserIDsByKeyword(tenantID, "FBC"))
}

func TestRemoveTenant(t *testing.T) {
	r := NewRegistry()
	tenantID := r.AddTenant(sampleCredentials())
	r.AddKeyword(tenantID, "user-1", "fbc")

	r.RemoveTenant(tenantID)

	_, ok := r.GetTenant(tenantID)
	assert.False(t, ok)
	assert.Empty(t, r.KeywordUnion(tenantID))
	assert.False(t, r.HasUsers(tenantID))
}

func TestTenantAndUserListing(t *testing.T) {
	r := NewRegistry()

	first := r.AddTenant(sampleCredentials())
	second := r.AddTenant(domain.Credentials{ConsumerKey: "another-key"})
	r.AddUser(first, "user-b")
	r.AddUser(first, "user-a")

	assert.Equal(t, []string{"another-key", "my-consumer-key"}, r.TenantIDs())
	assert.Equal(t, []string{"user-a", "user-b"}, r.UserIDs(first))
	assert.Empty(t, r.UserIDs(second))
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	r.AddTenant(sampleCredentials())
	r.AddUser("other", "user-1")

	r.Clear()

	assert.Empty(t, r.TenantIDs())
}
