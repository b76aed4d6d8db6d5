// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package triad keeps the state of three redundant boards consistent.
//
// The Primary (A) periodically requests a window of the Secondary's (B)
// buffer, compares it with its own and sends the verdict to the Tertiary (C),
// which power-cycles B on a mismatch. A board that was reset copies its
// buffer from a surviving donor before it starts serving requests.
//
// Each board runs one Coordinator on a single goroutine. Boards share nothing
// but their links.
package triad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/triad/pkg/link"
)

// Coordinator defaults
const (
	DefaultPollTimeout     = 20 * time.Millisecond
	DefaultCompareInterval = time.Second
	DefaultCompareWindow   = 8

	// messages handled per link per Step
	maxMessagesPerPoll = 8
)

// State is a coordinator state
type State int

// Coordinator states
const (
	StateResyncing State = iota
	StateNormal
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateResyncing:
		return "Resyncing"
	case StateNormal:
		return "Normal"
	case StateHalted:
		return "Halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Links maps each peer role to the transport reaching it
type Links map[Role]link.Transport

// PowerCycler power-cycles a board that disagreed with the Primary
type PowerCycler interface {
	PowerCycle(ctx context.Context, board Role) error
}

// PowerCyclerFunc adapts a function to PowerCycler
type PowerCyclerFunc func(ctx context.Context, board Role) error

// PowerCycle calls f(ctx, board)
func (f PowerCyclerFunc) PowerCycle(ctx context.Context, board Role) error {
	return f(ctx, board)
}

// CompareResult is the outcome of one compare round
type CompareResult struct {
	Board Role // board compared against the Primary
	Base  int
	Count int
	Equal bool
	Time  time.Time
}

// Reporter receives every compare result
type Reporter interface {
	ReportCompare(r CompareResult)
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithTimeout sets the transport timeout for requests and replies
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithPollTimeout sets how long Step waits on each idle link
func WithPollTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.pollTimeout = d }
}

// WithCompareInterval sets the time between compare rounds on the Primary
func WithCompareInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.compareInterval = d }
}

// WithCompareWindow sets the number of bytes compared per round
func WithCompareWindow(n int) Option {
	return func(c *Coordinator) { c.window = n }
}

// WithDonor overrides the board a reset board resyncs from
func WithDonor(r Role) Option {
	return func(c *Coordinator) { c.donor = r }
}

// WithResyncRange limits resync to buffer[base:base+count]. By default the
// whole buffer is copied.
func WithResyncRange(base, count int) Option {
	return func(c *Coordinator) { c.resyncBase, c.resyncCount = base, count }
}

// WithLegacyRequests makes this board send two-digit ASCII range requests
// and expect raw replies
func WithLegacyRequests(legacy bool) Option {
	return func(c *Coordinator) { c.legacy = legacy }
}

// WithPowerCycler sets the action taken on a mismatch verdict
func WithPowerCycler(p PowerCycler) Option {
	return func(c *Coordinator) { c.cycler = p }
}

// WithReporter sets the compare result reporter
func WithReporter(r Reporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// Coordinator runs the triad protocol for one board
type Coordinator struct {
	board *BoardState
	peers map[Role]*peer
	state State

	timeout         time.Duration
	pollTimeout     time.Duration
	compareInterval time.Duration
	window          int
	donor           Role
	resyncBase      int
	resyncCount     int
	legacy          bool

	cycler   PowerCycler
	reporter Reporter
	log      zerolog.Logger

	shadow      []byte // Primary's copy of the Secondary's buffer
	sweep       int    // next compare base
	lastCompare time.Time
	now         func() time.Time
}

// New creates a coordinator for board. It starts in Resyncing; call Start.
func New(board *BoardState, links Links, opts ...Option) *Coordinator {
	c := &Coordinator{
		board:           board,
		peers:           make(map[Role]*peer),
		state:           StateResyncing,
		timeout:         link.DefaultTimeout,
		pollTimeout:     DefaultPollTimeout,
		compareInterval: DefaultCompareInterval,
		window:          DefaultCompareWindow,
		donor:           board.Role().Donor(),
		resyncCount:     -1,
		log:             zerolog.Nop(),
		shadow:          make([]byte, board.Size()),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cycler == nil {
		c.cycler = logCycler{log: c.log}
	}
	for role, tr := range links {
		if tr != nil && role != board.Role() {
			c.peers[role] = newPeer(role, tr, c.now)
		}
	}
	c.log = c.log.With().Stringer("role", board.Role()).Logger()
	return c
}

// Board returns the coordinator's board
func (c *Coordinator) Board() *BoardState {
	return c.board
}

// State returns the current state
func (c *Coordinator) State() State {
	return c.state
}

// Start validates the links and, if the board was reset, resyncs it from
// its donor. On return the coordinator is Normal or Halted.
func (c *Coordinator) Start(ctx context.Context, reset bool) error {
	if err := c.checkLinks(reset); err != nil {
		c.state = StateHalted
		c.log.Error().Err(err).Msg("halted")
		return err
	}
	if reset {
		if err := c.Resync(ctx); err != nil {
			return err
		}
	}
	c.state = StateNormal
	c.log.Info().Msg("normal operation")
	return nil
}

func (c *Coordinator) checkLinks(reset bool) error {
	if !c.board.Role().Valid() {
		return fmt.Errorf("%w: invalid role %v", ErrHalted, c.board.Role())
	}
	required := c.board.Role().Peers()
	if reset {
		required = append(required, c.donor)
	}
	for _, r := range required {
		if c.peers[r] == nil {
			return fmt.Errorf("%w: no link to %v", ErrHalted, r)
		}
	}
	if c.window <= 0 || c.timeout <= 0 {
		return fmt.Errorf("%w: invalid compare window %d or timeout %v", ErrHalted, c.window, c.timeout)
	}
	return nil
}

// Resync copies the board's range from its donor. Requests from other boards
// are dropped until it completes because this board's buffer is stale.
func (c *Coordinator) Resync(ctx context.Context) error {
	c.state = StateResyncing
	base, count := c.resyncBase, c.resyncCount
	if count < 0 {
		base, count = 0, c.board.Size()
		if c.legacy && count > MaxLegacyValue {
			count = MaxLegacyValue
			c.log.Warn().Int("size", c.board.Size()).Int("count", count).
				Msg("legacy requests cannot address the whole buffer, resyncing a prefix only")
		}
	}
	if err := checkRange(base, count, c.board.Size()); err != nil {
		return err
	}

	donor := c.peers[c.donor]
	if donor == nil {
		return fmt.Errorf("%w: no link to donor %v", ErrHalted, c.donor)
	}

	c.log.Info().Stringer("donor", c.donor).Int("base", base).Int("count", count).Msg("resync")
	for off := 0; off < count; {
		n := min(count-off, c.maxCount())
		data, err := c.fetch(ctx, donor, RangeRequest{Base: base + off, Count: n, Legacy: c.legacy})
		if err != nil {
			return err
		}
		if err := c.board.Write(base+off, data); err != nil {
			return err
		}
		off += n
	}

	// Terminating zero after the range
	if end := base + count; end < c.board.Size() {
		_ = c.board.Write(end, []byte{0})
	}

	c.state = StateNormal
	c.log.Info().Msg("resync complete")
	return nil
}

// Compare fetches buffer[base:base+count] from the Secondary, compares it
// with this board's own range and sends the verdict to the Tertiary.
func (c *Coordinator) Compare(ctx context.Context, base, count int) (bool, error) {
	if c.state == StateHalted {
		return false, ErrHalted
	}
	if err := checkRange(base, count, c.board.Size()); err != nil {
		return false, err
	}
	secondary, tertiary := c.peers[Secondary], c.peers[Tertiary]
	if secondary == nil || tertiary == nil {
		return false, fmt.Errorf("%w: compare needs links to secondary and tertiary", ErrHalted)
	}

	req := RangeRequest{Base: base, Count: count, Legacy: c.legacy}
	if err := req.validate(); err != nil {
		return false, err
	}
	data, err := c.fetch(ctx, secondary, req)
	if err != nil {
		return false, err
	}
	copy(c.shadow[base:], data)

	equal, err := c.board.Equal(base, c.shadow[base:base+count])
	if err != nil {
		return false, err
	}

	result := CompareResult{Board: Secondary, Base: base, Count: count, Equal: equal, Time: c.now()}
	ev := c.log.Info()
	if !equal {
		ev = c.log.Warn()
	}
	ev.Int("base", base).Int("count", count).Bool("equal", equal).Msg("compare")
	if c.reporter != nil {
		c.reporter.ReportCompare(result)
	}

	verdict, err := EncodeVerdict(c.board.Role().Address(), equal)
	if err != nil {
		return equal, err
	}
	if err := tertiary.send(verdict, c.timeout); err != nil {
		return equal, fmt.Errorf("send verdict: %w", err)
	}
	return equal, nil
}

// Shadow returns a copy of the Primary's view of the Secondary's buffer
func (c *Coordinator) Shadow() []byte {
	return append([]byte(nil), c.shadow...)
}

// Step polls every link once, serving requests and acting on verdicts. On
// the Primary it runs a compare round when one is due.
func (c *Coordinator) Step(ctx context.Context) error {
	if c.state == StateHalted {
		return ErrHalted
	}

	var fault error
	for _, role := range Roles {
		p := c.peers[role]
		if p == nil {
			continue
		}
		if err := c.poll(ctx, p); err != nil && fault == nil {
			fault = err
		}
	}

	if c.board.Role() == Primary && c.now().Sub(c.lastCompare) >= c.compareInterval {
		c.lastCompare = c.now()
		base, count := c.nextWindow()
		if _, err := c.Compare(ctx, base, count); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("compare round")
			if fault == nil && link.IsHardwareFault(err) {
				fault = err
			}
		}
	}
	return fault
}

// Run calls Step until ctx is done. Hardware faults pause the loop for one
// transport timeout.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrHalted), ctx.Err() != nil:
			return err
		default:
			c.log.Warn().Err(err).Msg("link fault")
			if err := c.pause(ctx); err != nil {
				return err
			}
		}
	}
}

// poll handles queued input on one link
func (c *Coordinator) poll(ctx context.Context, p *peer) error {
	for i := 0; i < maxMessagesPerPoll; i++ {
		msg, err := p.next(c.now().Add(c.pollTimeout))
		switch {
		case err == nil:
		case errors.Is(err, errDropped):
			c.log.Debug().Err(err).Stringer("link", p.role).Msg("drop")
			continue
		case link.IsTimeout(err):
			return nil
		default:
			return err
		}
		if msg == nil {
			continue
		}
		c.handle(ctx, p, msg)
	}
	return nil
}

// handle acts on a message that is not the reply being waited for
func (c *Coordinator) handle(ctx context.Context, p *peer, msg *message) {
	switch msg.kind {
	case msgRangeRequest:
		if c.state != StateNormal {
			c.log.Debug().Stringer("from", p.role).Stringer("req", msg.request).Msg("drop request while resyncing")
			return
		}
		c.serve(p, msg.request)
	case msgVerdict:
		c.verdict(ctx, p, msg.equal)
	case msgRangeReply:
		c.log.Debug().Stringer("from", p.role).Int("base", msg.base).Msg("drop stale reply")
	}
}

// serve answers a range request from this board's buffer
func (c *Coordinator) serve(p *peer, req RangeRequest) {
	data, err := c.board.Range(req.Base, req.Count)
	if err != nil {
		c.log.Warn().Err(err).Stringer("from", p.role).Msg("bad range request")
		return
	}

	out := data
	if !req.Legacy {
		out, err = EncodeRangeReply(c.board.Role().Address(), req.Base, data)
		if err != nil {
			c.log.Warn().Err(err).Msg("encode reply")
			return
		}
	}
	if err := p.send(out, c.timeout); err != nil {
		c.log.Warn().Err(err).Stringer("to", p.role).Msg("send reply")
		return
	}
	c.log.Debug().Stringer("to", p.role).Stringer("req", req).Msg("served")
}

func (c *Coordinator) verdict(ctx context.Context, p *peer, equal bool) {
	if equal {
		c.log.Debug().Stringer("from", p.role).Msg("verdict: equal")
		return
	}
	// The Primary only compares against the Secondary
	c.log.Warn().Stringer("from", p.role).Stringer("board", Secondary).Msg("verdict: mismatch")
	if err := c.cycler.PowerCycle(ctx, Secondary); err != nil {
		c.log.Error().Err(err).Stringer("board", Secondary).Msg("power cycle")
	}
}

// fetch sends req to p and blocks until the matching reply arrives,
// re-sending the request after every timeout. Only ctx ends the wait.
func (c *Coordinator) fetch(ctx context.Context, p *peer, req RangeRequest) ([]byte, error) {
	wire, err := req.Encode(c.board.Role().Address())
	if err != nil {
		return nil, err
	}
	if req.Legacy {
		return c.fetchLegacy(ctx, p, req, wire)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.send(wire, c.timeout); err != nil {
			c.log.Warn().Err(err).Stringer("to", p.role).Msg("send request")
			if link.IsHardwareFault(err) {
				if err := c.pause(ctx); err != nil {
					return nil, err
				}
			}
			continue
		}

		data, err := c.await(ctx, p, req)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Debug().Err(err).Int("attempt", attempt).Stringer("req", req).Msg("waiting for range")
		if link.IsHardwareFault(err) {
			if err := c.pause(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// await reads from p until the reply to req arrives or a transport error
// ends this attempt
func (c *Coordinator) await(ctx context.Context, p *peer, req RangeRequest) ([]byte, error) {
	deadline := c.now().Add(c.timeout)
	for {
		msg, err := p.next(deadline)
		switch {
		case err == nil:
		case errors.Is(err, errDropped):
			continue
		default:
			return nil, err
		}
		if msg == nil {
			continue
		}
		if msg.kind == msgRangeReply && msg.base == req.Base && len(msg.data) == req.Count {
			return msg.data, nil
		}
		c.handle(ctx, p, msg)
	}
}

// fetchLegacy sends req once and re-issues the receive until the raw reply
// arrives. Legacy replies are untagged, so a request is never repeated.
func (c *Coordinator) fetchLegacy(ctx context.Context, p *peer, req RangeRequest, wire []byte) ([]byte, error) {
	if p.midFrame() {
		c.log.Debug().Stringer("link", p.role).Msg("discard partial header before legacy request")
		p.discard()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := p.send(wire, c.timeout)
		if err == nil {
			break
		}
		c.log.Warn().Err(err).Stringer("to", p.role).Msg("send request")
		if link.IsHardwareFault(err) {
			if err := c.pause(ctx); err != nil {
				return nil, err
			}
		}
	}

	data := make([]byte, req.Count)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := p.tr.Receive(data, c.timeout)
		if err == nil {
			return data, nil
		}
		c.log.Debug().Err(err).Int("attempt", attempt).Stringer("req", req).Msg("waiting for range")
		if link.IsHardwareFault(err) {
			if err := c.pause(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// nextWindow returns the next compare range, sweeping the buffer
func (c *Coordinator) nextWindow() (int, int) {
	limit := c.board.Size()
	if c.legacy {
		limit = min(limit, MaxLegacyValue+1)
	}
	if c.sweep >= limit {
		c.sweep = 0
	}
	base := c.sweep
	count := min(c.window, limit-base, c.maxCount())
	c.sweep = base + count
	return base, count
}

func (c *Coordinator) maxCount() int {
	if c.legacy {
		return MaxLegacyValue
	}
	return MaxRangeCount
}

func (c *Coordinator) pause(ctx context.Context) error {
	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logCycler only logs the power cycle it would perform
type logCycler struct {
	log zerolog.Logger
}

func (l logCycler) PowerCycle(_ context.Context, board Role) error {
	l.log.Warn().Stringer("board", board).Msg("power cycle requested (no cycler configured)")
	return nil
}
