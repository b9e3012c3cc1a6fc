package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tnicklin/cubeclock/clock"
	"github.com/tnicklin/cubeclock/logger"
	"github.com/tnicklin/cubeclock/ntp"
	"github.com/tnicklin/cubeclock/ntp/client"
	"golang.org/x/time/rate"
)

var _ clock.OffsetSource = (*Observer)(nil)

// Observer caches the latest valid reply from one NTP server and keeps
// it fresh.
//
// Reads (LocalClockOffset, IsValid) never block: when the cached reply is
// missing or older than the time to live they start a background refresh,
// at most one at a time, and return the cached value immediately. Refresh
// and Synchronize are the blocking, explicit variants.
//
// All mutations of the client, the cached reply and the failure counter
// happen under one mutex. Network I/O and retry waits happen outside it.
type Observer struct {
	logger    logger.Logger
	clock     clock.Clock
	adjuster  clock.Adjuster
	recorder  Recorder
	limit     rate.Limit
	clientCfg client.Config
	maxRetry  int
	interval  time.Duration

	syncMu sync.Mutex

	mu     sync.Mutex
	client client.Client
	last   *ntp.Packet
	ttl    time.Duration
	failed uint32
	// generation changes on Reset and after Synchronize; results measured
	// under an older generation are discarded.
	generation uint64
	closed     bool
	// limiter throttles read-triggered refreshes after a failed cycle. It
	// is re-armed whenever the cache is cleared or refilled.
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

// Params holds configuration for creating a new Observer.
type Params struct {
	Config Config
	// Client is the server to observe. When nil one is built from
	// ClientConfig.
	Client       client.Client
	ClientConfig client.Config
	Clock        clock.Clock
	// Adjuster steps the host clock in Synchronize.
	Adjuster clock.Adjuster
	Recorder Recorder
	Logger   logger.Logger
}

// New creates an Observer. Nothing is queried until the first read or
// explicit Refresh.
func New(p Params) *Observer {
	p.Config.Defaults()
	p.ClientConfig.Defaults()

	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}

	c := p.Client
	if c == nil {
		c = client.New(client.Params{Config: p.ClientConfig, Clock: clk})
	}

	limit := rate.Every(p.Config.MinRefreshInterval)
	if p.Config.MinRefreshInterval < 0 {
		limit = rate.Inf
	}

	return &Observer{
		logger:    logger.OrNop(p.Logger).With("component", "observer"),
		clock:     clk,
		adjuster:  p.Adjuster,
		recorder:  p.Recorder,
		limit:     limit,
		limiter:   rate.NewLimiter(limit, 1),
		clientCfg: p.ClientConfig,
		maxRetry:  p.Config.MaxRetry,
		interval:  p.Config.RetryInterval,
		client:    c,
		ttl:       p.Config.TimeToLive,
	}
}

// Client returns the current client.
func (o *Observer) Client() client.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.client
}

// Timeout returns the receive timeout of the current client.
func (o *Observer) Timeout() time.Duration {
	if c := o.Client(); c != nil {
		return c.Timeout()
	}
	return 0
}

// SetTimeout changes the receive timeout of the current client.
func (o *Observer) SetTimeout(d time.Duration) {
	if c := o.Client(); c != nil {
		c.SetTimeout(d)
	}
}

func (o *Observer) TimeToLive() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ttl
}

func (o *Observer) SetTimeToLive(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ttl = d
}

// LastResult returns a copy of the cached reply, or nil.
func (o *Observer) LastResult() *ntp.Packet {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	p := *o.last
	return &p
}

// FailedCount returns the number of failed attempts since the last Reset.
func (o *Observer) FailedCount() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed
}

// IsValid reports whether a valid reply younger than the time to live is
// cached. When it is not, a background refresh is started.
func (o *Observer) IsValid() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	valid := o.validLocked()
	if !valid {
		o.triggerLocked()
	}
	return valid
}

// LocalClockOffset returns the offset of the cached reply, zero when
// nothing is cached. A stale or missing reply starts a background refresh;
// the stale value is still returned until it completes.
func (o *Observer) LocalClockOffset() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.validLocked() {
		o.triggerLocked()
	}
	if o.last == nil {
		return 0
	}
	return o.last.LocalClockOffset()
}

// Refresh performs a single exchange and caches the reply if it is valid.
func (o *Observer) Refresh(ctx context.Context) error {
	return o.RefreshWithRetry(ctx, 0, 0)
}

// RefreshWithRetry performs up to maxRetry+1 exchanges, waiting interval
// between failed attempts, and caches the first valid reply. It blocks the
// caller for up to maxRetry*interval plus the receive timeouts and
// returns the last failure once retries are exhausted.
func (o *Observer) RefreshWithRetry(ctx context.Context, maxRetry int, interval time.Duration) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	c, gen := o.client, o.generation
	o.mu.Unlock()

	return o.refresh(ctx, c, gen, maxRetry, interval)
}

// Reset cancels and joins the background refresh, then clears the cached
// reply and the failure counter. Explicit refreshes in flight, and a
// background refresh a concurrent read starts while Reset runs, are
// cancelled or discarded but not waited for. The next stale read is not
// throttled.
func (o *Observer) Reset() {
	o.reset(nil)
}

// ResetClient is Reset that also switches to c.
func (o *Observer) ResetClient(c client.Client) {
	o.reset(c)
}

// ResetServer is Reset that switches to host:port, keeping the current
// receive timeout.
func (o *Observer) ResetServer(host string, port int) {
	cfg := o.clientCfg
	cfg.Host = host
	cfg.Port = port
	cfg.Timeout = o.Timeout()
	o.reset(client.New(client.Params{Config: cfg, Clock: o.clock}))
}

// Synchronize steps the host clock by the current offset, refreshing
// first (with retries) if the cache is stale. The cache is invalidated
// afterwards so the same offset is never applied twice.
func (o *Observer) Synchronize(ctx context.Context) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	if o.adjuster == nil {
		return ErrNoAdjuster
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	c, gen := o.client, o.generation
	valid := o.validLocked()
	o.mu.Unlock()

	if !valid {
		if err := o.refresh(ctx, c, gen, o.maxRetry, o.interval); err != nil {
			return fmt.Errorf("synchronize: %w", err)
		}
	}

	o.mu.Lock()
	pkt := o.last
	if o.generation != gen || pkt == nil {
		o.mu.Unlock()
		return fmt.Errorf("synchronize: %w", ErrDiscarded)
	}
	o.mu.Unlock()

	offset := pkt.LocalClockOffset()
	err := o.adjuster.Adjust(offset)
	o.record(ctx, func(r Recorder) error { return r.RecordAdjustment(ctx, c.Address(), offset, err) })
	if err != nil {
		o.logger.ErrorW("adjust system clock", "server", c.Address(), "offset", offset, "error", err)
		return fmt.Errorf("adjust system clock: %w", err)
	}

	o.mu.Lock()
	o.last = nil
	o.generation++
	o.rearmLocked()
	o.mu.Unlock()

	o.logger.InfoW("system clock adjusted", "server", c.Address(), "offset", offset)
	return nil
}

// Close cancels and waits for the background refresh. Reads keep
// returning cached values but never start new work.
func (o *Observer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (o *Observer) reset(c client.Client) {
	o.mu.Lock()
	o.generation++
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	o.mu.Lock()
	if c != nil {
		o.client = c
	}
	o.last = nil
	o.failed = 0
	o.generation++
	o.rearmLocked()
	// A read may have started a refresh against the old client meanwhile.
	if o.cancel != nil {
		o.cancel()
	}
	addr := o.client.Address()
	o.mu.Unlock()

	o.logger.InfoW("observer reset", "server", addr)
}

// rearmLocked gives the next stale or empty read an immediate refresh.
func (o *Observer) rearmLocked() {
	o.limiter = rate.NewLimiter(o.limit, 1)
}

func (o *Observer) validLocked() bool {
	return o.last != nil && o.last.IsValid() && o.clock.Now().Sub(o.last.CreationTime()) < o.ttl
}

// triggerLocked starts a background refresh unless one is running, the
// observer is closed or the throttle denies it.
func (o *Observer) triggerLocked() {
	if o.closed || o.done != nil || o.client == nil {
		return
	}
	if !o.limiter.AllowN(o.clock.Now(), 1) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel, o.done = cancel, done

	go o.work(ctx, o.client, o.generation, done)
}

func (o *Observer) work(ctx context.Context, c client.Client, gen uint64, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		if o.done == done {
			o.cancel()
			o.cancel, o.done = nil, nil
		}
		o.mu.Unlock()
		close(done)
	}()

	err := o.refresh(ctx, c, gen, o.maxRetry, o.interval)
	switch {
	case err == nil:
		o.logger.DebugW("background refresh complete", "server", c.Address())
	case errors.Is(err, context.Canceled), errors.Is(err, ErrDiscarded):
		o.logger.DebugW("background refresh abandoned", "server", c.Address(), "error", err)
	default:
		o.logger.WarnW("background refresh failed", "server", c.Address(), "error", err)
	}
}

func (o *Observer) refresh(ctx context.Context, c client.Client, gen uint64, maxRetry int, interval time.Duration) error {
	if c == nil {
		return ErrNoClient
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := c.Receive(ctx)
		if err == nil {
			err = pkt.Validate()
		}
		if err == nil {
			return o.accept(ctx, c, gen, pkt)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !o.fail(ctx, c, gen, attempt, err) {
			return ErrDiscarded
		}
		if attempt >= maxRetry {
			return err
		}

		if err := wait(ctx, interval); err != nil {
			return err
		}
	}
}

func (o *Observer) accept(ctx context.Context, c client.Client, gen uint64, pkt *ntp.Packet) error {
	o.mu.Lock()
	if ctx.Err() != nil || o.generation != gen {
		o.mu.Unlock()
		return ErrDiscarded
	}
	o.last = pkt
	o.rearmLocked()
	o.mu.Unlock()

	o.logger.DebugW("sample accepted",
		"server", c.Address(),
		"offset", pkt.LocalClockOffset(),
		"delay", pkt.RoundTripDelay(),
		"stratum", pkt.Stratum,
	)
	o.record(ctx, func(r Recorder) error { return r.RecordSample(ctx, c.Address(), pkt) })
	return nil
}

// fail counts a failed attempt. It reports false when the attempt belongs
// to an outdated generation and was not counted.
func (o *Observer) fail(ctx context.Context, c client.Client, gen uint64, attempt int, err error) bool {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return false
	}
	o.failed++
	failed := o.failed
	o.mu.Unlock()

	o.logger.WarnW("ntp exchange failed",
		"server", c.Address(),
		"attempt", attempt+1,
		"failed_count", failed,
		"error", err,
	)
	o.record(ctx, func(r Recorder) error { return r.RecordFailure(ctx, c.Address(), err) })
	return true
}

func (o *Observer) record(ctx context.Context, fn func(r Recorder) error) {
	if o.recorder == nil {
		return
	}
	if err := fn(o.recorder); err != nil {
		o.logger.WarnW("record history", "error", err)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
