package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryCounters struct {
	seqs map[string]int64
	fail bool
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{seqs: make(map[string]int64)}
}

func (m *memoryCounters) NextSeq(ctx context.Context, pharmacyID int64, scope Scope, period string) (int64, error) {
	if m.fail {
		return 0, errors.New("counters unavailable")
	}
	key := fmt.Sprintf("%d:%s:%s", pharmacyID, scope, period)
	m.seqs[key]++
	return m.seqs[key], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTransactionNumbersAreSequentialPerScope(t *testing.T) {
	repo := newMemoryCounters()
	svc := NewService(repo, slog.Default())
	ctx := context.Background()

	n1, err := svc.NextTransactionNumber(ctx, 10, ScopeSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-000001", n1)

	n2, err := svc.NextTransactionNumber(ctx, 10, ScopeSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-000002", n2)

	p1, err := svc.NextTransactionNumber(ctx, 10, ScopePurchase)
	require.NoError(t, err)
	require.Equal(t, "PUR-000001", p1, "scopes count independently")

	o1, err := svc.NextTransactionNumber(ctx, 11, ScopeSale)
	require.NoError(t, err)
	require.Equal(t, "SAL-000001", o1, "pharmacies count independently")
}

func TestReceiptNumbersResetDaily(t *testing.T) {
	repo := newMemoryCounters()
	svc := NewService(repo, slog.Default())
	svc.now = fixedClock(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	n1, err := svc.NextReceiptNumber(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "RCP20260901001", n1)

	n2, err := svc.NextReceiptNumber(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "RCP20260901002", n2)

	svc.now = fixedClock(time.Date(2026, 9, 2, 0, 0, 1, 0, time.UTC))
	n3, err := svc.NextReceiptNumber(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "RCP20260902001", n3)
}

func TestRefundNumbersUseOwnCounter(t *testing.T) {
	repo := newMemoryCounters()
	svc := NewService(repo, slog.Default())
	svc.now = fixedClock(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := svc.NextReceiptNumber(ctx, 10)
	require.NoError(t, err)

	r1, err := svc.NextRefundNumber(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "REF20260901001", r1)
}

func TestFallbackWhenCounterStoreDown(t *testing.T) {
	repo := newMemoryCounters()
	repo.fail = true
	svc := NewService(repo, slog.Default())
	ctx := context.Background()

	n, err := svc.NextTransactionNumber(ctx, 10, ScopeSale)
	require.NoError(t, err, "numbering degrades instead of blocking checkout")
	require.True(t, strings.HasPrefix(n, "SAL-"), "fallback keeps the prefix, got %s", n)
	require.Greater(t, len(n), len("SAL-000001"))
}
