package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNormalizeAmount_BankersRounding(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"10.005", "10.00"}, // round half to even
		{"10.015", "10.02"},
		{"10.025", "10.02"},
		{"3.50", "3.50"},
		{"0.001", "0.00"},
		{"2.999", "3.00"},
	}
	for _, tc := range testCases {
		got := NormalizeAmount(dec(tc.in))
		assert.True(t, dec(tc.want).Equal(got), "NormalizeAmount(%s) = %s, want %s", tc.in, got, tc.want)
	}
}

func TestDirectionForKind(t *testing.T) {
	d, ok := DirectionForKind(EntryKindEarn)
	require.True(t, ok)
	assert.Equal(t, DirectionCredit, d)

	d, ok = DirectionForKind(EntryKindSpend)
	require.True(t, ok)
	assert.Equal(t, DirectionDebit, d)

	d, ok = DirectionForKind(EntryKindRedeem)
	require.True(t, ok)
	assert.Equal(t, DirectionDebit, d)

	_, ok = DirectionForKind(EntryKindAdjustment)
	assert.False(t, ok, "adjustments have no fixed direction")
}

func TestEntryDraft_Validate(t *testing.T) {
	valid := func() EntryDraft {
		return EntryDraft{
			UserID:         "user-1",
			Kind:           EntryKindEarn,
			Amount:         dec("10.00"),
			Reason:         "earn",
			IdempotencyKey: "key-1",
		}
	}

	t.Run("valid earn gets direction assigned", func(t *testing.T) {
		d := valid()
		require.NoError(t, d.Validate())
		assert.Equal(t, DirectionCredit, d.Direction)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		d := valid()
		d.Amount = decimal.Zero
		assert.ErrorIs(t, d.Validate(), ErrInvalidAmount)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		d := valid()
		d.Amount = dec("-5.00")
		assert.ErrorIs(t, d.Validate(), ErrInvalidAmount)
	})

	t.Run("missing idempotency key rejected", func(t *testing.T) {
		d := valid()
		d.IdempotencyKey = ""
		assert.Error(t, d.Validate())
	})

	t.Run("wrong direction for kind rejected", func(t *testing.T) {
		d := valid()
		d.Direction = DirectionDebit
		assert.Error(t, d.Validate())
	})

	t.Run("adjustment requires explicit direction", func(t *testing.T) {
		d := valid()
		d.Kind = EntryKindAdjustment
		assert.Error(t, d.Validate())

		d.Direction = DirectionDebit
		assert.NoError(t, d.Validate())
	})
}

func TestLedgerEntry_Effect(t *testing.T) {
	credit := LedgerEntry{Direction: DirectionCredit, Amount: dec("10.00")}
	assert.True(t, dec("10.00").Equal(credit.Effect()))

	debit := LedgerEntry{Direction: DirectionDebit, Amount: dec("3.50")}
	assert.True(t, dec("-3.50").Equal(debit.Effect()))
}

func TestItem_LineTotalAndBasketTotal(t *testing.T) {
	items := []Item{
		{ProductName: "Milk", UnitPrice: dec("1.75"), Quantity: 2},
		{ProductName: "Bread", UnitPrice: dec("2.50"), Quantity: 1},
	}
	assert.True(t, dec("3.50").Equal(items[0].LineTotal()))
	assert.True(t, dec("6.00").Equal(BasketTotal(items)))

	// Line totals round to cents before summation.
	odd := Item{UnitPrice: dec("0.333"), Quantity: 3}
	assert.True(t, dec("1.00").Equal(odd.LineTotal()))
}

func TestHashUserID_StableAndOpaque(t *testing.T) {
	h1 := HashUserID("user-1")
	h2 := HashUserID("user-1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotContains(t, h1, "user-1")
	assert.NotEqual(t, h1, HashUserID("user-2"))
}
