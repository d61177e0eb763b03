package wallet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanManage(t *testing.T) {
	w := &Wallet{OwnerID: "owner", Controllers: []string{"ctl"}}

	assert.True(t, w.CanManage("owner"))
	assert.True(t, w.CanManage("ctl"))
	assert.False(t, w.IsController("owner"))
	assert.False(t, w.CanManage("stranger"))
}

func TestCheckStateReset(t *testing.T) {
	now := time.Now()
	c := CheckState{NegativeSince: &now, InitialSentAt: &now}
	c.Reset()
	assert.Nil(t, c.NegativeSince)
	assert.Nil(t, c.InitialSentAt)
}

func TestMoney(t *testing.T) {
	w := &Wallet{Balance: -500, Currency: "CHF"}
	assert.Equal(t, "CHF -5.00", w.Money().String())
}
