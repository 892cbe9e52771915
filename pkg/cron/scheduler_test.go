package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	importservice "github.com/FACorreiaa/echo-import/internal/domain/import/service"
)

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (r *countingReaper) Reap(context.Context) (importservice.ReapStats, error) {
	r.calls.Add(1)
	return importservice.ReapStats{ExpiredUploads: 1}, r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunNow(t *testing.T) {
	for _, err := range []error{nil, errors.New("storage offline")} {
		r := &countingReaper{err: err}
		NewScheduler(r, "@every 1m", discardLogger()).RunNow()
		assert.Equal(t, int32(1), r.calls.Load())
	}
}

func TestScheduler_Start(t *testing.T) {
	s := NewScheduler(&countingReaper{}, "@every 1m", discardLogger())
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	<-s.Stop().Done()

	bad := NewScheduler(&countingReaper{}, "not a schedule", discardLogger())
	assert.Error(t, bad.Start())
}
