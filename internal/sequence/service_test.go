package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type counterKey struct {
	series Series
	year   int
}

type memoryRepo struct {
	mu       sync.Mutex
	counters map[counterKey]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{counters: make(map[counterKey]int)}
}

type memoryTx struct {
	counters map[counterKey]int
}

func (t *memoryTx) Increment(_ context.Context, series Series, year, floor int) (int, error) {
	k := counterKey{series, year}
	n := t.counters[k]
	if floor > n {
		n = floor
	}
	n++
	t.counters[k] = n
	return n, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staged := make(map[counterKey]int, len(r.counters))
	for k, v := range r.counters {
		staged[k] = v
	}
	if err := fn(ctx, &memoryTx{counters: staged}); err != nil {
		return err
	}
	r.counters = staged
	return nil
}

func (r *memoryRepo) Current(_ context.Context, series Series, year int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[counterKey{series, year}], nil
}

func (r *memoryRepo) Raise(_ context.Context, series Series, year, floor int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := counterKey{series, year}
	if floor > r.counters[k] {
		r.counters[k] = floor
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFormatAndParse(t *testing.T) {
	require.Equal(t, "INV-2024-001", Format(Bill, 2024, 1))
	require.Equal(t, "PUR-2024-042", Format(Purchase, 2024, 42))
	require.Equal(t, "INV-2024-1000", Format(Bill, 2024, 1000))

	series, year, n, err := Parse("PUR-2025-1203")
	require.NoError(t, err)
	require.Equal(t, Purchase, series)
	require.Equal(t, 2025, year)
	require.Equal(t, 1203, n)

	for _, bad := range []string{"", "INV-2024", "XYZ-2024-001", "INV-24-001", "INV-2024-1", "INV-2024-abc", "INV-2024-000"} {
		_, _, _, err := Parse(bad)
		require.ErrorIs(t, err, ErrMalformedNumber, bad)
	}
}

func TestNextStartsAtOneAndIncrements(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

	first, err := svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-001", first)
	second, err := svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-002", second)

	purchase, err := svc.NextPurchaseNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "PUR-2024-001", purchase)
}

func TestYearRollover(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)
	svc := NewService(newMemoryRepo(), func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := svc.NextBillNumber(ctx)
		require.NoError(t, err)
	}
	now = time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	got, err := svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2025-001", got)
}

func TestRollbackReleasesNumber(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	at := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	svc := NewService(repo, fixedClock(at))

	boom := errors.New("insert header failed")
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := svc.Next(ctx, tx, Bill, at)
		require.NoError(t, err)
		require.Equal(t, "INV-2024-001", number)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-001", got)
}

func TestConcurrentAllocationsAreDistinctAndContiguous(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), fixedClock(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)))

	const n = 50
	numbers := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			number, err := svc.NextPurchaseNumber(ctx)
			numbers[i] = number
			return err
		})
	}
	require.NoError(t, g.Wait())

	counters := make([]int, 0, n)
	seen := make(map[string]bool, n)
	for _, number := range numbers {
		require.False(t, seen[number], "duplicate %s", number)
		seen[number] = true
		_, _, c, err := Parse(number)
		require.NoError(t, err)
		counters = append(counters, c)
	}
	sort.Ints(counters)
	for i, c := range counters {
		require.Equal(t, i+1, c)
	}
}

func TestPreviewHasNoSideEffect(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo, fixedClock(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)))

	for i := 0; i < 3; i++ {
		got, err := svc.Preview(ctx, Bill)
		require.NoError(t, err)
		require.Equal(t, "INV-2024-001", got)
	}
	issued, err := svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-001", issued)

	got, err := svc.Preview(ctx, Bill)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-002", got)

	_, err = svc.Preview(ctx, Series("SO"))
	require.ErrorIs(t, err, ErrUnknownSeries)
}

// gatedRepo holds Current until release is closed and records the context
// state it observed.
type gatedRepo struct {
	*memoryRepo
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	seen    chan error
}

func (g *gatedRepo) Current(ctx context.Context, series Series, year int) (int, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	select {
	case g.seen <- ctx.Err():
	default:
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.memoryRepo.Current(ctx, series, year)
}

func TestPreviewSurvivesLeaderCancellation(t *testing.T) {
	repo := &gatedRepo{
		memoryRepo: newMemoryRepo(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		seen:       make(chan error, 1),
	}
	svc := NewService(repo, fixedClock(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := svc.Preview(leaderCtx, Bill)
		leader <- err
	}()
	<-repo.entered
	cancel()
	require.ErrorIs(t, <-leader, context.Canceled)

	follower := make(chan string, 1)
	go func() {
		got, err := svc.Preview(context.Background(), Bill)
		if err != nil {
			got = err.Error()
		}
		follower <- got
	}()
	close(repo.release)

	require.NoError(t, <-repo.seen)
	require.Equal(t, "INV-2024-001", <-follower)
}

func TestResyncSkipsIssuedNumbers(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), fixedClock(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, svc.Resync(ctx, Bill, 2024, 7))
	got, err := svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-008", got)

	require.NoError(t, svc.Resync(ctx, Bill, 2024, 3))
	got, err = svc.NextBillNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, "INV-2024-009", got)
}
