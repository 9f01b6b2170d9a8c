package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_RoutesEventsByType(t *testing.T) {
	bus := NewBus()

	var created []string
	var keywords []string
	var released []string
	bus.Add(&Listener{
		OnTenantCreated: func(tenantID string) { created = append(created, tenantID) },
		OnKeywordAdded: func(tenantID, userID, keyword string) {
			keywords = append(keywords, tenantID+"/"+userID+"/"+keyword)
		},
		OnLeaseReleased: func(tenantID, ownerID string) {
			released = append(released, tenantID+"/"+ownerID)
		},
	})

	bus.Dispatch(Event{Type: TenantCreated, TenantID: "tenant-1"})
	bus.Dispatch(Event{Type: KeywordAdded, TenantID: "tenant-1", UserID: "user-1", Keyword: "go"})
	bus.Dispatch(Event{Type: LeaseReleased, TenantID: "tenant-1", OwnerID: "replica-a"})
	// Слушатель без обработчика этого типа просто пропускает событие
	bus.Dispatch(Event{Type: LeaseExpired, TenantID: "tenant-1"})

	assert.Equal(t, []string{"tenant-1"}, created)
	assert.Equal(t, []string{"tenant-1/user-1/go"}, keywords)
	assert.Equal(t, []string{"tenant-1/replica-a"}, released)
}

func TestBus_DeliversToAllListeners(t *testing.T) {
	bus := NewBus()

	first := 0
	second := 0
	bus.Add(&Listener{OnUserAdded: func(tenantID, userID string) { first++ }})
	bus.Add(&Listener{OnUserAdded: func(tenantID, userID string) { second++ }})

	bus.Dispatch(Event{Type: UserAdded, TenantID: "tenant-1", UserID: "user-1"})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Add(&Listener{
		OnLeaseExpired: func(tenantID string) { calls++ },
	})

	bus.Dispatch(Event{Type: LeaseExpired, TenantID: "tenant-1"})
	unsubscribe()
	bus.Dispatch(Event{Type: LeaseExpired, TenantID: "tenant-1"})

	assert.Equal(t, 1, calls)
}
