// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package triad

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
)

const (
	testTimeout = 200 * time.Millisecond
	testPoll    = 5 * time.Millisecond
)

var hello = []byte("Hello!\n")

func seeded(role Role, seed []byte) *BoardState {
	b := NewBoardState(role, DefaultBufferSize)
	if err := b.Write(0, seed); err != nil {
		panic(err)
	}
	return b
}

func testOpts(extra ...Option) []Option {
	return append([]Option{
		WithTimeout(testTimeout),
		WithPollTimeout(testPoll),
		WithCompareInterval(time.Hour),
	}, extra...)
}

// runAll starts each coordinator's Run loop and returns a function that
// stops them and waits for them to exit.
func runAll(t *testing.T, coords ...*Coordinator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			_ = c.Run(ctx)
		}(c)
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

type triadFixture struct {
	a, b, c *Coordinator
	cycled  chan Role
}

func newTriad(t *testing.T, boardA, boardB *BoardState, aOpts ...Option) *triadFixture {
	t.Helper()
	abA, abB := link.Pipe()
	acA, acC := link.Pipe()
	t.Cleanup(func() {
		abA.Close()
		acA.Close()
	})

	cycled := make(chan Role, 4)
	cycler := PowerCyclerFunc(func(_ context.Context, board Role) error {
		cycled <- board
		return nil
	})

	f := &triadFixture{
		a:      New(boardA, Links{Secondary: abA, Tertiary: acA}, testOpts(aOpts...)...),
		b:      New(boardB, Links{Primary: abB}, testOpts()...),
		c:      New(NewBoardState(Tertiary, DefaultBufferSize), Links{Primary: acC}, testOpts(WithPowerCycler(cycler))...),
		cycled: cycled,
	}

	ctx := context.Background()
	require.NoError(t, f.a.Start(ctx, false))
	require.NoError(t, f.b.Start(ctx, false))
	require.NoError(t, f.c.Start(ctx, false))
	return f
}

func TestRole(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Role
	}{
		{"primary", Primary},
		{"B", Secondary},
		{" Tertiary ", Tertiary},
		{"c", Tertiary},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRole(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := ParseRole("D")
	require.Error(t, err)

	require.Equal(t, byte('B'), Secondary.Letter())
	require.Equal(t, uint8(2), Tertiary.Address())
	require.Equal(t, Secondary, Primary.Donor())
	require.Equal(t, Primary, Tertiary.Donor())

	var r Role
	require.NoError(t, r.UnmarshalText([]byte("secondary")))
	require.Equal(t, Secondary, r)
	text, err := Tertiary.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "tertiary", string(text))
}

func TestRangeRequest_Encode(t *testing.T) {
	wire, err := RangeRequest{Base: 0x0102, Count: 5}.Encode(Secondary.Address())
	require.NoError(t, err)
	require.Equal(t, []byte{0x62, CmdRangeRequest, 0x63, 0x03, 0x02, 0x01, 0x05}, wire)

	wire, err = RangeRequest{Base: 3, Count: 4, Legacy: true}.Encode(0)
	require.NoError(t, err)
	require.Equal(t, []byte("34"), wire)

	_, err = RangeRequest{Base: 10, Count: 1, Legacy: true}.Encode(0)
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
	_, err = RangeRequest{Base: 0, Count: MaxRangeCount + 1}.Encode(0)
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
}

func TestParseLegacyRequest(t *testing.T) {
	req, err := ParseLegacyRequest([]byte("07"))
	require.NoError(t, err)
	require.Equal(t, RangeRequest{Base: 0, Count: 7, Legacy: true}, req)

	for _, bad := range []string{"0x", "1", "123", "a7"} {
		_, err := ParseLegacyRequest([]byte(bad))
		require.Error(t, err, bad)
	}
}

func TestRangeReply_RoundTrip(t *testing.T) {
	wire, err := EncodeRangeReply(Primary.Address(), 300, []byte{1, 2, 3})
	require.NoError(t, err)

	f, err := frame.DecodeExact(wire)
	require.NoError(t, err)
	base, data, err := parseRangeReply(f.Payload())
	require.NoError(t, err)
	require.Equal(t, 300, base)
	require.Equal(t, []byte{1, 2, 3}, data)

	_, _, err = parseRangeReply([]byte{0, 0, 5, 1})
	require.Error(t, err)

	_, err = EncodeRangeReply(0, 0, make([]byte, MaxRangeCount+1))
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
}

func TestBoardState(t *testing.T) {
	b := NewBoardState(Secondary, 8)
	require.Equal(t, byte('B'), b.ID())
	require.NoError(t, b.Write(2, []byte{1, 2}))

	got, err := b.Range(1, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2}, got)

	_, err = b.Range(6, 3)
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
	require.ErrorIs(t, b.Write(-1, []byte{1}), ErrRangeOutOfBounds)

	eq, err := b.Equal(2, []byte{1, 2})
	require.NoError(t, err)
	require.True(t, eq)
	eq, err = b.Equal(2, []byte{1, 3})
	require.NoError(t, err)
	require.False(t, eq)
}

func TestCompare_Equal(t *testing.T) {
	f := newTriad(t, seeded(Primary, hello), seeded(Secondary, hello))
	stop := runAll(t, f.b, f.c)

	equal, err := f.a.Compare(context.Background(), 0, len(hello))
	require.NoError(t, err)
	require.True(t, equal)
	require.Equal(t, hello, f.a.Shadow()[:len(hello)])

	// Give C time to read the verdict
	time.Sleep(50 * time.Millisecond)
	stop()
	require.Empty(t, f.cycled)
}

func TestCompare_DifferOnlyInsideRange(t *testing.T) {
	other := append([]byte(nil), hello...)
	other[5] = '?'
	f := newTriad(t, seeded(Primary, hello), seeded(Secondary, other))
	stop := runAll(t, f.b, f.c)
	defer stop()

	ctx := context.Background()
	equal, err := f.a.Compare(ctx, 0, 5)
	require.NoError(t, err)
	require.True(t, equal)

	equal, err = f.a.Compare(ctx, 5, 1)
	require.NoError(t, err)
	require.False(t, equal)

	select {
	case board := <-f.cycled:
		require.Equal(t, Secondary, board)
	case <-time.After(2 * time.Second):
		t.Fatal("tertiary never power-cycled the secondary")
	}
}

func TestCompare_Legacy(t *testing.T) {
	other := append([]byte(nil), hello...)
	other[6] = 0
	f := newTriad(t, seeded(Primary, hello), seeded(Secondary, other), WithLegacyRequests(true))
	stop := runAll(t, f.b, f.c)
	defer stop()

	equal, err := f.a.Compare(context.Background(), 0, 7)
	require.NoError(t, err)
	require.False(t, equal)

	_, err = f.a.Compare(context.Background(), 12, 3)
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
}

func TestCompare_OutOfBounds(t *testing.T) {
	f := newTriad(t, seeded(Primary, hello), seeded(Secondary, hello))
	_, err := f.a.Compare(context.Background(), 60, 10)
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
}

func TestCompare_Reporter(t *testing.T) {
	var results []CompareResult
	reporter := reporterFunc(func(r CompareResult) { results = append(results, r) })
	f := newTriad(t, seeded(Primary, hello), seeded(Secondary, hello),
		WithReporter(reporter), WithCompareWindow(32), WithCompareInterval(0))
	stop := runAll(t, f.b, f.c)
	defer stop()

	ctx := context.Background()
	require.NoError(t, f.a.Step(ctx))
	require.NoError(t, f.a.Step(ctx))
	require.NoError(t, f.a.Step(ctx))

	require.Len(t, results, 3)
	require.Equal(t, 0, results[0].Base)
	require.Equal(t, 32, results[1].Base)
	require.Equal(t, 0, results[2].Base)
	for _, r := range results {
		require.True(t, r.Equal)
		require.Equal(t, 32, r.Count)
	}
}

type reporterFunc func(CompareResult)

func (f reporterFunc) ReportCompare(r CompareResult) { f(r) }

func TestResync_RoundTrip(t *testing.T) {
	donorBoard := seeded(Primary, []byte("triad state"))
	for i := 20; i < donorBoard.Size(); i++ {
		_ = donorBoard.Write(i, []byte{byte(i)})
	}

	aEnd, bEnd := link.Pipe()
	acA, _ := link.Pipe()
	defer aEnd.Close()
	defer acA.Close()

	a := New(donorBoard, Links{Secondary: aEnd, Tertiary: acA}, testOpts()...)
	require.NoError(t, a.Start(context.Background(), false))
	stop := runAll(t, a)

	reset := NewBoardState(Secondary, DefaultBufferSize)
	b := New(reset, Links{Primary: bEnd}, testOpts()...)
	require.NoError(t, b.Start(context.Background(), true))
	require.Equal(t, StateNormal, b.State())
	stop()

	require.Equal(t, donorBoard.Snapshot(), reset.Snapshot())
}

func TestResync_PartialRangeTerminator(t *testing.T) {
	aEnd, bEnd := link.Pipe()
	defer aEnd.Close()

	a := New(seeded(Secondary, hello), Links{Primary: aEnd}, testOpts()...)
	require.NoError(t, a.Start(context.Background(), false))
	stop := runAll(t, a)

	board := NewBoardState(Primary, DefaultBufferSize)
	fill := make([]byte, board.Size())
	for i := range fill {
		fill[i] = 0xEE
	}
	require.NoError(t, board.Write(0, fill))

	b := New(board, Links{Secondary: bEnd}, testOpts(WithResyncRange(2, 3))...)
	require.NoError(t, b.Resync(context.Background()))
	stop()

	got := board.Snapshot()
	require.Equal(t, []byte{0xEE, 0xEE}, got[:2])
	require.Equal(t, hello[2:5], got[2:5])
	require.Equal(t, byte(0), got[5])
	require.Equal(t, byte(0xEE), got[6])
}

func TestResync_DropsRequestsWhileResyncing(t *testing.T) {
	donorEnd, bEnd := link.Pipe()
	defer donorEnd.Close()

	board := NewBoardState(Secondary, 16)
	b := New(board, Links{Primary: bEnd}, testOpts(WithTimeout(2*time.Second))...)

	done := make(chan error, 1)
	go func() { done <- b.Start(context.Background(), true) }()

	// B's request for its whole buffer
	req := make([]byte, 7)
	require.NoError(t, donorEnd.Receive(req, time.Second))
	want, err := RangeRequest{Base: 0, Count: 16}.Encode(Secondary.Address())
	require.NoError(t, err)
	require.Equal(t, want, req)

	// A request B must ignore, then the reply
	ask, err := RangeRequest{Base: 0, Count: 4}.Encode(Primary.Address())
	require.NoError(t, err)
	require.NoError(t, donorEnd.Send(ask, time.Second))

	state := []byte("0123456789abcdef")
	reply, err := EncodeRangeReply(Primary.Address(), 0, state)
	require.NoError(t, err)
	require.NoError(t, donorEnd.Send(reply, time.Second))

	require.NoError(t, <-done)
	require.Equal(t, state, board.Snapshot())

	one := make([]byte, 1)
	require.True(t, link.IsTimeout(donorEnd.Receive(one, 50*time.Millisecond)))
}

func TestServe_BinaryAndLegacy(t *testing.T) {
	remote, local := link.Pipe()
	defer remote.Close()

	b := New(seeded(Secondary, hello), Links{Primary: local}, testOpts()...)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx, false))

	// Noise, then a binary request
	ask, err := RangeRequest{Base: 1, Count: 3}.Encode(Primary.Address())
	require.NoError(t, err)
	require.NoError(t, remote.Send(append([]byte{0x00, 0xFF}, ask...), testTimeout))
	require.NoError(t, b.Step(ctx))

	buf := make([]byte, frame.HeaderSize+3+3)
	require.NoError(t, remote.Receive(buf, testTimeout))
	f, err := frame.DecodeExact(buf)
	require.NoError(t, err)
	require.Equal(t, Secondary.Address(), f.Address())
	base, data, err := parseRangeReply(f.Payload())
	require.NoError(t, err)
	require.Equal(t, 1, base)
	require.Equal(t, []byte("ell"), data)

	// Legacy request answered with raw bytes
	require.NoError(t, remote.Send([]byte("34"), testTimeout))
	require.NoError(t, b.Step(ctx))
	raw := make([]byte, 4)
	require.NoError(t, remote.Receive(raw, testTimeout))
	require.Equal(t, []byte("lo!\n"), raw)
}

func TestStart_HaltsWithoutLinks(t *testing.T) {
	c := New(NewBoardState(Primary, DefaultBufferSize), Links{})
	err := c.Start(context.Background(), false)
	require.ErrorIs(t, err, ErrHalted)
	require.Equal(t, StateHalted, c.State())
	require.ErrorIs(t, c.Step(context.Background()), ErrHalted)
	require.ErrorIs(t, c.Run(context.Background()), ErrHalted)

	_, err = c.Compare(context.Background(), 0, 1)
	require.ErrorIs(t, err, ErrHalted)
}

func TestFetch_ContextCancel(t *testing.T) {
	aEnd, _ := link.Pipe()
	defer aEnd.Close()
	acA, _ := link.Pipe()
	defer acA.Close()

	a := New(seeded(Primary, hello), Links{Secondary: aEnd, Tertiary: acA}, testOpts(WithTimeout(10*time.Millisecond))...)
	require.NoError(t, a.Start(context.Background(), false))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := a.Compare(ctx, 0, 4)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompare_LegacySlowSecondary(t *testing.T) {
	seed := []byte("ABCDEFGHIJ")
	f := newTriad(t, seeded(Primary, seed), seeded(Secondary, seed), WithLegacyRequests(true))
	stop := runAll(t, f.c)
	defer stop()

	// The Secondary only starts serving after the Primary's first receive
	// has timed out
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-time.After(testTimeout + 50*time.Millisecond):
		case <-ctx.Done():
			return
		}
		_ = f.b.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	equal, err := f.a.Compare(context.Background(), 0, 9)
	require.NoError(t, err)
	require.True(t, equal)

	// A second reply to the same request would be read here
	equal, err = f.a.Compare(context.Background(), 5, 8)
	require.NoError(t, err)
	require.True(t, equal)
	require.Equal(t, seed[5:], f.a.Shadow()[5:10])

	select {
	case board := <-f.cycled:
		t.Fatalf("identical boards caused a power cycle of %v", board)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCompare_LegacyDiscardsPartialHeader(t *testing.T) {
	aEnd, bEnd := link.Pipe()
	defer aEnd.Close()
	acA, _ := link.Pipe()
	defer acA.Close()

	a := New(seeded(Primary, hello), Links{Secondary: aEnd, Tertiary: acA}, testOpts(WithLegacyRequests(true))...)
	require.NoError(t, a.Start(context.Background(), false))

	// Half a frame header is left on the link
	require.NoError(t, bEnd.Send([]byte{0x66}, testTimeout))
	p := a.peers[Secondary]
	_, err := p.next(time.Now().Add(testPoll))
	require.True(t, link.IsTimeout(err))
	require.True(t, p.midFrame())

	served := make(chan error, 1)
	go func() {
		req := make([]byte, 2)
		if err := bEnd.Receive(req, time.Second); err != nil {
			served <- err
			return
		}
		served <- bEnd.Send(hello[:7], testTimeout)
	}()

	equal, err := a.Compare(context.Background(), 0, 7)
	require.NoError(t, err)
	require.True(t, equal)
	require.NoError(t, <-served)
	require.False(t, p.midFrame())
}

func TestResync_LegacyWarnsOnPrefix(t *testing.T) {
	aEnd, bEnd := link.Pipe()
	defer aEnd.Close()

	a := New(seeded(Secondary, hello), Links{Primary: aEnd}, testOpts()...)
	require.NoError(t, a.Start(context.Background(), false))
	stop := runAll(t, a)

	board := NewBoardState(Primary, DefaultBufferSize)
	fill := bytes.Repeat([]byte{0xEE}, board.Size())
	require.NoError(t, board.Write(0, fill))

	var logs bytes.Buffer
	b := New(board, Links{Secondary: bEnd}, testOpts(WithLegacyRequests(true), WithLogger(zerolog.New(&logs)))...)
	require.NoError(t, b.Resync(context.Background()))
	stop()

	require.Contains(t, logs.String(), "resyncing a prefix only")
	got := board.Snapshot()
	require.Equal(t, hello, got[:7])
	require.Equal(t, []byte{0, 0, 0}, got[7:10])
	require.Equal(t, byte(0xEE), got[10])
}

func TestPeerNext_SharesOneDeadline(t *testing.T) {
	aEnd, bEnd := link.Pipe()
	defer aEnd.Close()
	p := newPeer(Secondary, aEnd, time.Now)

	// The header trickles in and the payload never arrives
	go func() {
		_ = bEnd.Send([]byte{0x67}, testTimeout)
		time.Sleep(150 * time.Millisecond)
		_ = bEnd.Send([]byte{0x05}, testTimeout)
	}()

	start := time.Now()
	_, err := p.next(start.Add(testTimeout))
	elapsed := time.Since(start)
	require.True(t, link.IsTimeout(err))
	require.True(t, p.midFrame())
	require.Less(t, elapsed, testTimeout+100*time.Millisecond)

	// An expired deadline reads nothing
	_, err = p.next(time.Now().Add(-time.Millisecond))
	require.True(t, link.IsTimeout(err))
}
