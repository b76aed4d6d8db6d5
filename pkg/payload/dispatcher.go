// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package payload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
)

// ErrUnexpectedReply is the protocol error for a reply to an unknown command
var ErrUnexpectedReply = errors.New("payload: unexpected reply code")

// Dispatcher defaults
const (
	DefaultAddress      = 3
	DefaultCommandDelay = time.Second
)

// State is a dispatcher state
type State int

// Dispatcher states
const (
	StateIdle State = iota
	StateSendHeader
	StateSendPayload
	StateAwaitReply
	StateHandleReply
	StateLoggedError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSendHeader:
		return "SendHeader"
	case StateSendPayload:
		return "SendPayload"
	case StateAwaitReply:
		return "AwaitReply"
	case StateHandleReply:
		return "HandleReply"
	case StateLoggedError:
		return "LoggedError"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Notifier is told about every entry appended to the ErrorLog
type Notifier interface {
	NotifyError(e ErrorEntry)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithAddress sets the payload controller's frame address
func WithAddress(addr uint8) Option {
	return func(d *Dispatcher) { d.address = addr }
}

// WithTimeout sets the transport timeout for every send and receive
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithCommandDelay sets the pause observed after each command
func WithCommandDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.delay = delay }
}

// WithHandler sets the handler invoked with each exchange outcome
func WithHandler(h CommandHandler) Option {
	return func(d *Dispatcher) { d.handler = h }
}

// WithNotifier sets the error notifier
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithErrorLog records failures into an existing log
func WithErrorLog(l *ErrorLog) Option {
	return func(d *Dispatcher) { d.errors = l }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher drains a command queue over the payload link.
//
// Each command is sent as a command frame, followed by a data frame when it
// carries a payload. The payload answers with one raw reply byte and, for
// some commands, further raw bytes. The head of the queue is dequeued after
// every exchange whether or not it succeeded.
type Dispatcher struct {
	link     link.Transport
	queue    *Queue
	errors   *ErrorLog
	handler  CommandHandler
	notifier Notifier
	log      zerolog.Logger

	address uint8
	timeout time.Duration
	delay   time.Duration

	state       State
	checksum    [ChecksumSize]byte
	hasChecksum bool
	cursor      int

	now func() time.Time
}

// NewDispatcher creates a dispatcher for q over tr
func NewDispatcher(tr link.Transport, q *Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		link:    tr,
		queue:   q,
		errors:  NewErrorLog(),
		handler: NopHandler{},
		log:     zerolog.Nop(),
		address: DefaultAddress,
		timeout: link.DefaultTimeout,
		delay:   DefaultCommandDelay,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state
func (d *Dispatcher) State() State {
	return d.state
}

// ErrorLog returns the log failures are recorded in
func (d *Dispatcher) ErrorLog() *ErrorLog {
	return d.errors
}

// Checksum returns the checksum from the last successful START_DOWNLOAD
func (d *Dispatcher) Checksum() ([ChecksumSize]byte, bool) {
	return d.checksum, d.hasChecksum
}

// UploadCursor returns the number of bytes acknowledged since START_UPLOAD
func (d *Dispatcher) UploadCursor() int {
	return d.cursor
}

// Run processes commands until the queue is empty or ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		more, err := d.Step(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Step processes the head command, dequeues it and observes the command
// delay. It returns false when the queue was empty. The only error is ctx's.
func (d *Dispatcher) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.setState(StateIdle)
	cmd, ok := d.queue.Peek()
	if !ok {
		return false, nil
	}

	d.exchange(cmd)

	if _, err := d.queue.Dequeue(); err != nil {
		// Only reachable if the queue was drained behind our back
		d.log.Warn().Err(err).Msg("dequeue after exchange")
	}
	d.setState(StateIdle)

	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return true, nil
}

// exchange runs one command through SendHeader..HandleReply
func (d *Dispatcher) exchange(cmd Command) {
	log := d.log.With().Uint32("seq", cmd.Sequence).Stringer("cmd", cmd.Code).Logger()

	d.setState(StateSendHeader)
	header, err := frame.EncodeCommand(d.address, uint8(cmd.Code))
	if err != nil {
		log.Error().Err(err).Msg("encode header")
		d.record(cmd, ErrorByteProtocol)
		return
	}
	if err := d.link.Send(header, d.timeout); err != nil {
		log.Warn().Err(err).Msg("send header")
		d.record(cmd, ErrorByteTransport)
		return
	}

	if cmd.Length() > 0 {
		d.setState(StateSendPayload)
		data, err := frame.EncodeData(d.address, cmd.Payload)
		if err != nil {
			log.Error().Err(err).Msg("encode payload")
			d.record(cmd, ErrorByteProtocol)
			return
		}
		if err := d.link.Send(data, d.timeout); err != nil {
			log.Warn().Err(err).Msg("send payload")
			d.record(cmd, ErrorByteTransport)
			return
		}
	}

	d.setState(StateAwaitReply)
	reply, err := d.readByte()
	if err != nil {
		log.Warn().Err(err).Msg("await reply")
		d.record(cmd, ErrorByteTransport)
		return
	}

	d.setState(StateHandleReply)
	out := Outcome{Command: cmd, Reply: reply, OK: reply == ReplyOK}
	logFailure := true

	switch cmd.Code {
	case StartDownload:
		if !out.OK {
			break
		}
		if err := d.link.Receive(d.checksum[:], d.timeout); err != nil {
			log.Warn().Err(err).Msg("read checksum")
			d.record(cmd, ErrorByteTransport)
			return
		}
		d.hasChecksum = true
		out.Checksum = append([]byte(nil), d.checksum[:]...)

	case StartUpload:
		if out.OK {
			d.cursor = 0
		}

	case RequestPacket:
		if !out.OK {
			break
		}
		var lenBuf [2]byte
		if err := d.link.Receive(lenBuf[:], d.timeout); err != nil {
			log.Warn().Err(err).Msg("read packet length")
			d.record(cmd, ErrorByteTransport)
			return
		}
		n := int(lenBuf[0]) | int(lenBuf[1])<<8
		out.Data = make([]byte, n)
		if err := d.link.Receive(out.Data, d.timeout); err != nil {
			log.Warn().Err(err).Int("len", n).Msg("read packet")
			d.record(cmd, ErrorByteTransport)
			return
		}

	case SendPacket:
		if out.OK {
			d.cursor += cmd.Length()
		}

	case CancelUpload, TakePhoto, ExecuteCommand:
		// reply byte only

	case FinalizeUpload:
		logFailure = false

	default:
		log.Error().Err(ErrUnexpectedReply).Uint8("reply", reply).Msg("unknown command")
		d.record(cmd, ErrorByteProtocol)
		return
	}

	out.Cursor = d.cursor

	if !out.OK && logFailure {
		log.Info().Uint8("reply", reply).Msg("command failed")
		d.record(cmd, reply)
	}

	if err := d.handler.HandleOutcome(out); err != nil {
		log.Error().Err(err).Msg("handler")
		if out.OK {
			d.record(cmd, ErrorByteHandler)
		}
	}
}

func (d *Dispatcher) readByte() (uint8, error) {
	var b [1]byte
	if err := d.link.Receive(b[:], d.timeout); err != nil {
		return 0, err
	}
	return b[0], nil
}

// record appends an entry to the ErrorLog and notifies the Notifier
func (d *Dispatcher) record(cmd Command, errorByte uint8) {
	d.setState(StateLoggedError)
	e := ErrorEntry{
		Code:      cmd.Code,
		ErrorByte: errorByte,
		Sequence:  cmd.Sequence,
		Time:      d.now(),
	}
	d.errors.Append(e)
	if d.notifier != nil {
		d.notifier.NotifyError(e)
	}
}

func (d *Dispatcher) setState(s State) {
	if s != d.state {
		d.log.Debug().Stringer("from", d.state).Stringer("to", s).Msg("state")
	}
	d.state = s
}
