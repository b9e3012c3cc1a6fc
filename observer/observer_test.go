package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mock_clock "github.com/tnicklin/cubeclock/clock/mock"
	"github.com/tnicklin/cubeclock/ntp"
	"github.com/tnicklin/cubeclock/ntp/client"
	mock_client "github.com/tnicklin/cubeclock/ntp/client/mock"
	"go.uber.org/atomic"
	"go.uber.org/mock/gomock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeClient struct {
	addr        string
	timeout     atomic.Duration
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	receive     func(ctx context.Context) (*ntp.Packet, error)
}

var _ client.Client = (*fakeClient)(nil)

func (f *fakeClient) Receive(ctx context.Context) (*ntp.Packet, error) {
	f.calls.Inc()
	n := f.inFlight.Inc()
	defer f.inFlight.Dec()
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	return f.receive(ctx)
}

func (f *fakeClient) Address() string { return f.addr }

func (f *fakeClient) Timeout() time.Duration { return f.timeout.Load() }

func (f *fakeClient) SetTimeout(d time.Duration) { f.timeout.Store(d) }

type event struct {
	kind   string
	server string
	offset time.Duration
	err    error
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []event
}

func (r *fakeRecorder) RecordSample(_ context.Context, server string, p *ntp.Packet) error {
	r.add(event{kind: "sample", server: server, offset: p.LocalClockOffset()})
	return nil
}

func (r *fakeRecorder) RecordFailure(_ context.Context, server string, cause error) error {
	r.add(event{kind: "failure", server: server, err: cause})
	return nil
}

func (r *fakeRecorder) RecordAdjustment(_ context.Context, server string, offset time.Duration, cause error) error {
	r.add(event{kind: "adjustment", server: server, offset: offset, err: cause})
	return nil
}

func (r *fakeRecorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

// replyAt builds a valid reply received at now whose offset is exactly
// offset and whose delay is zero.
func replyAt(now time.Time, offset time.Duration) *ntp.Packet {
	return &ntp.Packet{
		Version:     4,
		Mode:        ntp.ModeServer,
		Stratum:     2,
		Originate:   ntp.TimestampFromTime(now),
		Receive:     ntp.TimestampFromTime(now.Add(offset)),
		Transmit:    ntp.TimestampFromTime(now.Add(offset)),
		Destination: now,
	}
}

func replying(clk *fakeClock, offset time.Duration) func(context.Context) (*ntp.Packet, error) {
	return func(context.Context) (*ntp.Packet, error) {
		return replyAt(clk.Now(), offset), nil
	}
}

func failing(err error) func(context.Context) (*ntp.Packet, error) {
	return func(context.Context) (*ntp.Packet, error) { return nil, err }
}

func newObserver(t *testing.T, p Params) *Observer {
	t.Helper()
	if p.Config.MinRefreshInterval == 0 {
		p.Config.MinRefreshInterval = -1
	}
	if p.Config.RetryInterval == 0 {
		p.Config.RetryInterval = 10 * time.Millisecond
	}
	o := New(p)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestRefreshCachesValidReply(t *testing.T) {
	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, 2*time.Second)}
	o := newObserver(t, Params{Client: fc, Clock: clk})

	assert.Nil(t, o.LastResult())
	require.NoError(t, o.Refresh(context.Background()))

	assert.True(t, o.IsValid())
	assert.Equal(t, 2*time.Second, o.LocalClockOffset())
	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Zero(t, o.FailedCount())

	last := o.LastResult()
	require.NotNil(t, last)
	last.Stratum = 9
	assert.Equal(t, uint8(2), o.LastResult().Stratum)
}

func TestTimeToLiveExpiry(t *testing.T) {
	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, time.Second)}
	o := newObserver(t, Params{
		Config: Config{TimeToLive: time.Minute},
		Client: fc,
		Clock:  clk,
	})
	require.NoError(t, o.Refresh(context.Background()))

	clk.Advance(time.Minute - time.Nanosecond)
	assert.True(t, o.IsValid())
	assert.Equal(t, int32(1), fc.calls.Load())

	clk.Advance(time.Nanosecond)
	stale := o.LastResult()
	assert.False(t, o.IsValid(), "a reply exactly ttl old is stale")

	// The stale read started a background refresh.
	assert.Eventually(t, func() bool {
		last := o.LastResult()
		return last != nil && last.Destination.After(stale.Destination)
	}, time.Second, 5*time.Millisecond)
	assert.True(t, o.IsValid())
	assert.Equal(t, int32(2), fc.calls.Load())
}

func TestSetTimeToLive(t *testing.T) {
	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, 0)}
	o := newObserver(t, Params{Client: fc, Clock: clk})
	assert.Equal(t, DefaultTimeToLive, o.TimeToLive())

	require.NoError(t, o.Refresh(context.Background()))
	clk.Advance(10 * time.Second)

	o.SetTimeToLive(5 * time.Second)
	assert.Equal(t, 5*time.Second, o.TimeToLive())
	assert.False(t, o.IsValid())
}

func TestTimeoutDelegatesToClient(t *testing.T) {
	fc := &fakeClient{addr: "fake:123"}
	o := newObserver(t, Params{Client: fc})

	o.SetTimeout(750 * time.Millisecond)
	assert.Equal(t, 750*time.Millisecond, fc.Timeout())
	assert.Equal(t, 750*time.Millisecond, o.Timeout())
}

func TestReadsStartSingleBackgroundRefresh(t *testing.T) {
	clk := newFakeClock()
	release := make(chan struct{})
	fc := &fakeClient{addr: "fake:123"}
	fc.receive = func(ctx context.Context) (*ntp.Packet, error) {
		select {
		case <-release:
			return replyAt(clk.Now(), 3*time.Second), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o := newObserver(t, Params{Client: fc, Clock: clk})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.Zero(t, o.LocalClockOffset())
				assert.False(t, o.IsValid())
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return fc.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)

	assert.Eventually(t, o.IsValid, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3*time.Second, o.LocalClockOffset())
	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Equal(t, int32(1), fc.maxInFlight.Load())
}

func TestBackgroundRefreshThrottled(t *testing.T) {
	fc := &fakeClient{addr: "fake:123", receive: failing(ntp.ErrTimeout)}
	o := newObserver(t, Params{
		Config: Config{MaxRetry: -1, MinRefreshInterval: time.Hour},
		Client: fc,
	})

	assert.False(t, o.IsValid())
	assert.Eventually(t, func() bool { return o.FailedCount() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		assert.False(t, o.IsValid())
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestRefreshWithRetryExhausts(t *testing.T) {
	fc := &fakeClient{addr: "fake:123", receive: failing(fmt.Errorf("%w: fake:123 after 5s", ntp.ErrTimeout))}
	rec := &fakeRecorder{}
	o := newObserver(t, Params{Client: fc, Recorder: rec})

	const interval = 20 * time.Millisecond
	start := time.Now()
	err := o.RefreshWithRetry(context.Background(), 2, interval)

	assert.ErrorIs(t, err, ntp.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
	assert.Equal(t, int32(3), fc.calls.Load())
	assert.Equal(t, uint32(3), o.FailedCount())
	assert.Nil(t, o.LastResult())
	assert.Equal(t, []string{"failure", "failure", "failure"}, rec.kinds())
}

func TestRefreshWithRetryRecovers(t *testing.T) {
	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123"}
	fc.receive = func(ctx context.Context) (*ntp.Packet, error) {
		if fc.calls.Load() < 3 {
			return nil, ntp.ErrNetwork
		}
		return replyAt(clk.Now(), time.Second), nil
	}
	rec := &fakeRecorder{}
	o := newObserver(t, Params{Client: fc, Clock: clk, Recorder: rec})

	require.NoError(t, o.RefreshWithRetry(context.Background(), 5, time.Millisecond))
	assert.Equal(t, int32(3), fc.calls.Load())
	assert.Equal(t, uint32(2), o.FailedCount())
	assert.True(t, o.IsValid())
	assert.Equal(t, []string{"failure", "failure", "sample"}, rec.kinds())
}

func TestRefreshInvalidReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mock_client.NewMockClient(ctrl)
	mc.EXPECT().Address().Return("fake:123").AnyTimes()

	clk := newFakeClock()
	tests := []struct {
		name    string
		mutate  func(p *ntp.Packet)
		wantErr error
	}{
		{"kiss of death", func(p *ntp.Packet) { p.Stratum = 0 }, ntp.ErrKissOfDeath},
		{"stratum too high", func(p *ntp.Packet) { p.Stratum = 16 }, ntp.ErrInvalidServerResponse},
		{"wrong mode", func(p *ntp.Packet) { p.Mode = ntp.ModeClient }, ntp.ErrInvalidServerResponse},
		{"zero transmit", func(p *ntp.Packet) { p.Transmit = 0 }, ntp.ErrInvalidServerResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := replyAt(clk.Now(), time.Second)
			tt.mutate(pkt)
			mc.EXPECT().Receive(gomock.Any()).Return(pkt, nil)

			o := New(Params{Client: mc, Clock: clk, Config: Config{MinRefreshInterval: time.Hour}})
			defer o.Close()

			err := o.Refresh(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, uint32(1), o.FailedCount())
			assert.Nil(t, o.LastResult())
		})
	}
}

func TestRefreshContextCancel(t *testing.T) {
	fc := &fakeClient{addr: "fake:123", receive: failing(ntp.ErrNetwork)}
	o := newObserver(t, Params{Client: fc})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := o.RefreshWithRetry(ctx, 10, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestResetDiscardsInFlightRefresh(t *testing.T) {
	tests := []struct {
		name   string
		result func(clk *fakeClock) (*ntp.Packet, error)
	}{
		{
			name:   "success",
			result: func(clk *fakeClock) (*ntp.Packet, error) { return replyAt(clk.Now(), time.Second), nil },
		},
		{
			name:   "failure",
			result: func(*fakeClock) (*ntp.Packet, error) { return nil, ntp.ErrTimeout },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			started := make(chan struct{}, 1)
			release := make(chan struct{})
			fc := &fakeClient{addr: "fake:123"}
			fc.receive = func(context.Context) (*ntp.Packet, error) {
				started <- struct{}{}
				<-release
				return tt.result(clk)
			}
			o := newObserver(t, Params{Client: fc, Clock: clk})

			errc := make(chan error, 1)
			go func() { errc <- o.Refresh(context.Background()) }()

			<-started
			o.Reset()
			close(release)

			assert.ErrorIs(t, <-errc, ErrDiscarded)
			assert.Nil(t, o.LastResult())
			assert.Zero(t, o.FailedCount())
		})
	}
}

func TestResetCancelsBackgroundRefresh(t *testing.T) {
	started := make(chan struct{}, 1)
	fc := &fakeClient{addr: "fake:123"}
	fc.receive = func(ctx context.Context) (*ntp.Packet, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := newObserver(t, Params{Client: fc, Config: Config{MinRefreshInterval: time.Hour}})

	assert.Zero(t, o.LocalClockOffset())
	<-started

	done := make(chan struct{})
	go func() {
		o.Reset()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reset did not return")
	}
	assert.Zero(t, o.FailedCount())
	assert.Nil(t, o.LastResult())
	assert.Equal(t, int32(0), fc.inFlight.Load())
}

func TestResetClearsState(t *testing.T) {
	fc := &fakeClient{addr: "fake:123", receive: failing(ntp.ErrNetwork)}
	o := newObserver(t, Params{Client: fc})

	require.Error(t, o.RefreshWithRetry(context.Background(), 1, time.Millisecond))
	assert.Equal(t, uint32(2), o.FailedCount())

	o.Reset()
	assert.Zero(t, o.FailedCount())
	assert.Same(t, fc, o.Client())
}

func TestResetClient(t *testing.T) {
	clk := newFakeClock()
	first := &fakeClient{addr: "first:123", receive: replying(clk, time.Second)}
	second := &fakeClient{addr: "second:123", receive: replying(clk, -time.Second)}
	o := newObserver(t, Params{Client: first, Clock: clk})

	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, time.Second, o.LocalClockOffset())

	o.ResetClient(second)
	assert.Same(t, second, o.Client())
	assert.Nil(t, o.LastResult())

	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, -time.Second, o.LocalClockOffset())
}

func TestResetServer(t *testing.T) {
	fc := &fakeClient{addr: "fake:123"}
	fc.SetTimeout(250 * time.Millisecond)
	o := newObserver(t, Params{Client: fc})

	o.ResetServer("127.0.0.1", 1234)
	assert.Equal(t, "127.0.0.1:1234", o.Client().Address())
	assert.Equal(t, 250*time.Millisecond, o.Timeout())
}

func TestSynchronize(t *testing.T) {
	ctrl := gomock.NewController(t)
	adj := mock_clock.NewMockAdjuster(ctrl)
	adj.EXPECT().Adjust(2 * time.Second).Return(nil)

	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, 2*time.Second)}
	rec := &fakeRecorder{}
	o := newObserver(t, Params{Client: fc, Clock: clk, Adjuster: adj, Recorder: rec})

	require.NoError(t, o.Synchronize(context.Background()))
	assert.Nil(t, o.LastResult(), "applied offset must not be reused")
	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Equal(t, []string{"sample", "adjustment"}, rec.kinds())
}

func TestSynchronizeUsesCachedReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	adj := mock_clock.NewMockAdjuster(ctrl)
	adj.EXPECT().Adjust(-500 * time.Millisecond).Return(nil)

	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, -500*time.Millisecond)}
	o := newObserver(t, Params{Client: fc, Clock: clk, Adjuster: adj})

	require.NoError(t, o.Refresh(context.Background()))
	require.NoError(t, o.Synchronize(context.Background()))
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestSynchronizeErrors(t *testing.T) {
	t.Run("adjust fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		adj := mock_clock.NewMockAdjuster(ctrl)
		denied := errors.New("operation not permitted")
		adj.EXPECT().Adjust(gomock.Any()).Return(denied)

		clk := newFakeClock()
		fc := &fakeClient{addr: "fake:123", receive: replying(clk, time.Second)}
		rec := &fakeRecorder{}
		o := newObserver(t, Params{Client: fc, Clock: clk, Adjuster: adj, Recorder: rec})

		err := o.Synchronize(context.Background())
		assert.ErrorIs(t, err, denied)
		assert.NotNil(t, o.LastResult())

		rec.mu.Lock()
		defer rec.mu.Unlock()
		require.Len(t, rec.events, 2)
		assert.Equal(t, "adjustment", rec.events[1].kind)
		assert.ErrorIs(t, rec.events[1].err, denied)
	})

	t.Run("refresh fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		adj := mock_clock.NewMockAdjuster(ctrl)

		fc := &fakeClient{addr: "fake:123", receive: failing(ntp.ErrTimeout)}
		o := newObserver(t, Params{
			Config:   Config{MaxRetry: 1, RetryInterval: time.Millisecond},
			Client:   fc,
			Adjuster: adj,
		})

		assert.ErrorIs(t, o.Synchronize(context.Background()), ntp.ErrTimeout)
		assert.Equal(t, int32(2), fc.calls.Load())
	})

	t.Run("no adjuster", func(t *testing.T) {
		fc := &fakeClient{addr: "fake:123", receive: failing(ntp.ErrTimeout)}
		o := newObserver(t, Params{Client: fc})

		assert.ErrorIs(t, o.Synchronize(context.Background()), ErrNoAdjuster)
		assert.Equal(t, int32(0), fc.calls.Load())
	})
}

func TestClose(t *testing.T) {
	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, 0)}
	o := New(Params{Client: fc, Clock: clk, Adjuster: mock_clock.NewMockAdjuster(gomock.NewController(t))})

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	assert.ErrorIs(t, o.Refresh(context.Background()), ErrClosed)
	assert.ErrorIs(t, o.Synchronize(context.Background()), ErrClosed)
	assert.False(t, o.IsValid())
	assert.Zero(t, o.LocalClockOffset())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fc.calls.Load())
}

func TestCloseJoinsBackgroundRefresh(t *testing.T) {
	started := make(chan struct{}, 1)
	fc := &fakeClient{addr: "fake:123"}
	fc.receive = func(ctx context.Context) (*ntp.Packet, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := New(Params{Client: fc, Config: Config{MinRefreshInterval: -1}})

	assert.False(t, o.IsValid())
	<-started

	require.NoError(t, o.Close())
	assert.Equal(t, int32(0), fc.inFlight.Load())
	assert.Zero(t, o.FailedCount())
}

func TestNewBuildsClientFromConfig(t *testing.T) {
	o := newObserver(t, Params{ClientConfig: client.Config{Host: "ntp.example.org", Port: 10123}})
	assert.Equal(t, "ntp.example.org:10123", o.Client().Address())
	assert.Equal(t, client.DefaultTimeout, o.Timeout())
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero",
			want: Config{
				TimeToLive:         DefaultTimeToLive,
				MaxRetry:           DefaultMaxRetry,
				RetryInterval:      DefaultRetryInterval,
				MinRefreshInterval: DefaultMinRefreshInterval,
			},
		},
		{
			name: "retries and throttle disabled",
			in:   Config{TimeToLive: time.Minute, MaxRetry: -1, RetryInterval: time.Second, MinRefreshInterval: -1},
			want: Config{TimeToLive: time.Minute, MaxRetry: 0, RetryInterval: time.Second, MinRefreshInterval: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.Defaults()
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestThrottledReadsUseObserverClock(t *testing.T) {
	clk := newFakeClock()
	first := &fakeClient{addr: "first:123", receive: failing(ntp.ErrTimeout)}
	second := &fakeClient{addr: "second:123", receive: replying(clk, -time.Second)}

	o := New(Params{Config: Config{MaxRetry: -1}, Client: first, Clock: clk})
	t.Cleanup(func() { _ = o.Close() })

	assert.Zero(t, o.LocalClockOffset())
	assert.Eventually(t, func() bool { return o.FailedCount() == 1 }, time.Second, time.Millisecond)

	// A failed cycle holds off the next read until the interval passes.
	assert.Zero(t, o.LocalClockOffset())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), first.calls.Load())

	clk.Advance(DefaultMinRefreshInterval)
	assert.Zero(t, o.LocalClockOffset())
	assert.Eventually(t, func() bool { return o.FailedCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), first.calls.Load())

	o.ResetClient(second)
	assert.Zero(t, o.LocalClockOffset())
	assert.Eventually(t, o.IsValid, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), second.calls.Load())
	assert.Equal(t, -time.Second, o.LocalClockOffset())
	assert.Equal(t, int32(2), first.calls.Load())
}

func TestReadAfterResetRefreshesImmediately(t *testing.T) {
	clk := newFakeClock()
	fc := &fakeClient{addr: "fake:123", receive: replying(clk, time.Second)}

	o := New(Params{Client: fc, Clock: clk})
	t.Cleanup(func() { _ = o.Close() })

	assert.False(t, o.IsValid())
	assert.Eventually(t, func() bool { return o.LastResult() != nil }, time.Second, time.Millisecond)

	o.Reset()
	assert.False(t, o.IsValid())
	assert.Eventually(t, func() bool { return o.LastResult() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), fc.calls.Load())
}

func TestReadAfterSynchronizeRefreshes(t *testing.T) {
	ctrl := gomock.NewController(t)
	adj := mock_clock.NewMockAdjuster(ctrl)
	adj.EXPECT().Adjust(2 * time.Second).Return(nil)

	clk := newFakeClock()
	var down atomic.Bool
	down.Store(true)
	fc := &fakeClient{addr: "fake:123"}
	fc.receive = func(context.Context) (*ntp.Packet, error) {
		if down.Load() {
			return nil, ntp.ErrNetwork
		}
		return replyAt(clk.Now(), 2*time.Second), nil
	}

	o := New(Params{Config: Config{MaxRetry: -1}, Client: fc, Clock: clk, Adjuster: adj})
	t.Cleanup(func() { _ = o.Close() })

	assert.Zero(t, o.LocalClockOffset())
	assert.Eventually(t, func() bool { return o.FailedCount() == 1 }, time.Second, time.Millisecond)

	down.Store(false)
	assert.Zero(t, o.LocalClockOffset())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fc.calls.Load())

	require.NoError(t, o.Synchronize(context.Background()))
	assert.Equal(t, int32(2), fc.calls.Load())
	assert.Nil(t, o.LastResult())

	assert.False(t, o.IsValid())
	assert.Eventually(t, o.IsValid, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), fc.calls.Load())
}
