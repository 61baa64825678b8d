package checker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/app-updater/internal/domain/release"
)

// scriptedSource replays answers and then cancels the loop.
type scriptedSource struct {
	mu       sync.Mutex
	answers  []*release.UpdateInfo
	inFlight []bool
	calls    int
	cancel   context.CancelFunc
}

func (s *scriptedSource) CheckForUpdate(context.Context) (*release.UpdateInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls >= len(s.answers) {
		s.cancel()

		return nil, release.ErrCheckFailed
	}

	answer := s.answers[s.calls]
	s.calls++

	return answer, nil
}

func (s *scriptedSource) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlight[s.calls-1]
}

func newInfo(version string) *release.UpdateInfo {
	return &release.UpdateInfo{
		Current:  release.MustParseVersion("1.37.0"),
		Manifest: release.Manifest{Version: release.MustParseVersion(version)},
	}
}

// TestRunNotifies covers update, no-update and the in-flight no-op.
func TestRunNotifies(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &scriptedSource{
		answers:  []*release.UpdateInfo{newInfo("1.38.0"), nil, nil, newInfo("1.39.0")},
		inFlight: []bool{false, true, false, true},
		cancel:   cancel,
	}

	var (
		updates   []string
		noUpdates int
	)

	err := Run(ctx, source, &Options{
		Interval:  time.Millisecond,
		Immediate: true,
		OnUpdate: func(_ context.Context, info *release.UpdateInfo) {
			updates = append(updates, info.Manifest.Version.String())
		},
		OnNoUpdate: func(context.Context) { noUpdates++ },
	})
	require.NoError(t, err)

	require.Equal(t, []string{"1.38.0"}, updates)
	require.Equal(t, 1, noUpdates)
	require.Equal(t, 4, source.calls)
}

// TestRunStopsOnCancel returns without checking when already cancelled.
func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &scriptedSource{cancel: cancel}

	require.NoError(t, Run(ctx, source, &Options{Interval: time.Hour}))
	require.Zero(t, source.calls)
}
