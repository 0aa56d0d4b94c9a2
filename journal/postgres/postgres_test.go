package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{
			name: "defaults",
			opt:  Option{},
			want: "postgres://localhost:5432?sslmode=disable",
		},
		{
			name: "full",
			opt: Option{
				Host: "db", Port: 6543, User: "trader", Password: "s3cret",
				Database: "guard", SSLMode: "require",
				Params: map[string]string{"application_name": "tradeguard", "": "skip"},
			},
			want: "postgres://trader:s3cret@db:6543/guard?application_name=tradeguard&sslmode=require",
		},
		{
			name: "conn string wins",
			opt:  Option{Host: "ignored", ConnString: "postgres://x@y/z"},
			want: "postgres://x@y/z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.opt.DSN())
		})
	}
}

// TestStoreIntegration runs against a real database named by
// TRADEGUARD_PG_DSN.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TRADEGUARD_PG_DSN")
	if dsn == "" {
		t.Skip("TRADEGUARD_PG_DSN not set")
	}

	s, err := Open(Option{ConnString: dsn})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := id.New()
	o := execution.Order{
		ClientOrderID: key,
		Symbol:        "BTCUSDT",
		Strategy:      "macd_momentum",
		Intent:        execution.IntentOpen,
		Side:          market.Buy,
		Quantity:      0.01,
		State:         execution.Pending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.SaveOrder(ctx, o))

	o.State = execution.Filled
	o.AvgPrice = 42000
	require.NoError(t, s.SaveOrder(ctx, o))

	got, err := s.GetOrder(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, execution.Filled, got.State)
	assert.InDelta(t, 42000, got.AvgPrice, 1e-9)

	o.State = execution.Submitted
	o.ClientOrderID = "f" + key[1:]
	require.NoError(t, s.SaveOrder(ctx, o))
	o.State = execution.Filled
	pf := portfolio.New(1000, now)
	require.NoError(t, s.SaveFill(ctx, o, pf.State()))
	got, err = s.GetOrder(ctx, o.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, execution.Filled, got.State)
	_, ok, err := s.LoadPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetOrder(ctx, "missing-"+key)
	assert.ErrorIs(t, err, execution.ErrUnknownOrder)

	scope := "TEST" + key[:6]
	require.NoError(t, s.SaveBreaker(ctx, breaker.State{Kind: breaker.Asset, Scope: scope, Tripped: true, LockoutUntil: now.Add(time.Hour)}))
	states, err := s.LoadBreakers(ctx)
	require.NoError(t, err)
	var found bool
	for _, st := range states {
		if st.Scope == scope {
			found = st.Tripped
		}
	}
	assert.True(t, found)
}
