package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/models"
)

func TestLedger_Credit(t *testing.T) {
	tests := []struct {
		name          string
		credits       []int64
		expectBalance int64
	}{
		{
			name:          "SingleCredit",
			credits:       []int64{100},
			expectBalance: 100,
		},
		{
			name:          "Accumulates",
			credits:       []int64{100, 250, 1},
			expectBalance: 351,
		},
		{
			name:          "IgnoresNonPositive",
			credits:       []int64{100, 0, -50},
			expectBalance: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			for _, c := range tt.credits {
				l.Credit("0xalice", decimal.NewFromInt(c))
			}
			if got := l.Balance("0xalice"); !got.Equal(decimal.NewFromInt(tt.expectBalance)) {
				t.Errorf("expected balance %d, got %s", tt.expectBalance, got)
			}
		})
	}
}

func TestLedger_Drain(t *testing.T) {
	l := New()
	l.Credit("0xalice", decimal.NewFromInt(42))
	l.Credit("0xbob", decimal.NewFromInt(7))

	drained := l.Drain("0xalice")
	if !drained.Equal(decimal.NewFromInt(42)) {
		t.Errorf("expected to drain 42, got %s", drained)
	}
	if !l.Balance("0xalice").IsZero() {
		t.Errorf("expected zero balance after drain, got %s", l.Balance("0xalice"))
	}

	// A second drain observes nothing
	if again := l.Drain("0xalice"); !again.IsZero() {
		t.Errorf("expected second drain to return zero, got %s", again)
	}

	if !l.Balance(models.Address("0xbob")).Equal(decimal.NewFromInt(7)) {
		t.Errorf("drain touched another account")
	}
}

func TestLedger_Total(t *testing.T) {
	l := New()
	if !l.Total().IsZero() {
		t.Fatalf("expected empty ledger total to be zero")
	}
	l.Credit("0xalice", decimal.NewFromInt(3))
	l.Credit("0xbob", decimal.NewFromInt(4))
	l.Drain("0xalice")
	if !l.Total().Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected total 4, got %s", l.Total())
	}
}
