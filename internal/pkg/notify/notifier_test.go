package notify

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/app/repository"
)

type stubCampaigns struct{ c *models.Campaign }

func (s stubCampaigns) GetByID(context.Context, uint) (*models.Campaign, error) {
	if s.c == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.c, nil
}

type stubUsers struct{ byAddr, byID map[string]*models.User }

func (s stubUsers) GetByID(_ context.Context, id uint) (*models.User, error) {
	for _, u := range s.byID {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s stubUsers) GetByAddress(_ context.Context, addr string) (*models.User, error) {
	if u, ok := s.byAddr[models.NormalizeAddress(addr)]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type memNotifications struct{ rows map[string]*models.Notification }

func (m *memNotifications) Create(_ context.Context, n *models.Notification) (bool, error) {
	key := ""
	if n.EventUUID != nil {
		key = *n.EventUUID
	}
	if _, ok := m.rows[key]; ok && key != "" {
		return false, nil
	}
	m.rows[key] = n
	return true, nil
}

func strPtr(s string) *string { return &s }

func newTestNotifier(campaign *models.Campaign, users stubUsers) (*Notifier, *memNotifications) {
	store := &memNotifications{rows: map[string]*models.Notification{}}
	return NewNotifier(&repository.Repositories{
		Campaign:     stubCampaigns{c: campaign},
		User:         users,
		Notification: store,
	}, nil), store
}

func TestNotifyPaymentConfirmed(t *testing.T) {
	creator := &models.User{ID: 1, Address: "0xcreator"}
	backer := &models.User{ID: 2, Address: "0xbacker", Username: strPtr("alice")}
	campaign := &models.Campaign{ID: 5, Title: "Clean Water", CreatorAddress: "0xCREATOR"}
	n, store := newTestNotifier(campaign, stubUsers{
		byAddr: map[string]*models.User{"0xcreator": creator},
		byID:   map[string]*models.User{"b": backer},
	})

	payment := &models.Payment{ID: 9, CampaignID: 5, UserID: 2, Amount: decimal.RequireFromString("25"), Token: "USDT"}
	require.NoError(t, n.NotifyPaymentConfirmed(context.Background(), payment, "evt-1"))
	require.NoError(t, n.NotifyPaymentConfirmed(context.Background(), payment, "evt-1"))

	require.Len(t, store.rows, 1)
	got := store.rows["evt-1"]
	assert.Equal(t, uint(1), got.ReceiverID)
	assert.Equal(t, uint(2), got.CreatorID)
	assert.Equal(t, "Clean Water", got.Data["campaignTitle"])
	assert.Equal(t, "25.00 USDT", got.Data["formattedAmount"])
	assert.Equal(t, "alice", got.Data["donorName"])
}

func TestNotifySkipsUnknownCreator(t *testing.T) {
	n, store := newTestNotifier(&models.Campaign{ID: 5, CreatorAddress: "0xnobody"}, stubUsers{})
	require.NoError(t, n.NotifyPaymentConfirmed(context.Background(), &models.Payment{ID: 1, CampaignID: 5}, "evt"))
	assert.Empty(t, store.rows)
}

func TestNotifyMissingCampaign(t *testing.T) {
	n, _ := newTestNotifier(nil, stubUsers{})
	err := n.NotifyPaymentConfirmed(context.Background(), &models.Payment{ID: 1, CampaignID: 5}, "evt")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDonorName(t *testing.T) {
	tests := []struct {
		name string
		anon bool
		user *models.User
		want string
	}{
		{"anonymous", true, &models.User{Username: strPtr("bob")}, "anon"},
		{"username", false, &models.User{Username: strPtr("bob"), Address: "0x1"}, "bob"},
		{"full name", false, &models.User{FirstName: strPtr("Ada"), LastName: strPtr("L"), Address: "0x1"}, "Ada L"},
		{"address", false, &models.User{Address: "0x1"}, "0x1"},
		{"nothing", false, nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DonorName(tt.anon, tt.user))
		})
	}
}
