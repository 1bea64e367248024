package async

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

func jobs(n int) []entity.Job {
	out := make([]entity.Job, n)
	for i := range out {
		out[i] = entity.Job{PaperID: fmt.Sprintf("p%02d", i)}
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPool_RunsEveryJobWithinLimit(t *testing.T) {
	p := NewPool(quiet(), WithWorkers(3))
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	seen := map[string]bool{}

	unstarted, err := p.Run(context.Background(), jobs(12), func(_ context.Context, job entity.Job) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		mu.Lock()
		seen[job.PaperID] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, unstarted)
	assert.Len(t, seen, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPool_SingleWorkerKeepsOrder(t *testing.T) {
	p := NewPool(quiet())
	assert.Equal(t, 1, p.Workers())

	var order []string
	_, err := p.Run(context.Background(), jobs(5), func(_ context.Context, job entity.Job) error {
		order = append(order, job.PaperID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p00", "p01", "p02", "p03", "p04"}, order)
}

func TestPool_HandlerErrorStopsAndReturnsUnstarted(t *testing.T) {
	p := NewPool(quiet())
	fatal := errors.New("quota exhausted")

	var ran []string
	unstarted, err := p.Run(context.Background(), jobs(4), func(_ context.Context, job entity.Job) error {
		ran = append(ran, job.PaperID)
		if job.PaperID == "p01" {
			return fatal
		}
		return nil
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, []string{"p00", "p01"}, ran)
	require.Len(t, unstarted, 2)
	assert.ElementsMatch(t, []string{"p02", "p03"}, []string{unstarted[0].PaperID, unstarted[1].PaperID})
}

func TestPool_CancelLetsStartedJobFinish(t *testing.T) {
	p := NewPool(quiet())
	ctx, cancel := context.WithCancel(context.Background())

	var finished []string
	unstarted, err := p.Run(ctx, jobs(3), func(jctx context.Context, job entity.Job) error {
		if job.PaperID == "p00" {
			cancel()
			time.Sleep(10 * time.Millisecond)
			assert.NoError(t, jctx.Err(), "job context is detached from the stop signal")
		}
		finished = append(finished, job.PaperID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p00"}, finished)
	assert.Len(t, unstarted, 2)
}

func TestPool_ProcessTimeout(t *testing.T) {
	p := NewPool(quiet(), WithProcessTimeout(20*time.Millisecond))
	_, err := p.Run(context.Background(), jobs(1), func(jctx context.Context, _ entity.Job) error {
		<-jctx.Done()
		return jctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
