// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package triad

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
)

// errDropped marks input that was read and discarded
var errDropped = errors.New("triad: input dropped")

type messageKind int

const (
	msgRangeRequest messageKind = iota
	msgRangeReply
	msgVerdict
)

// message is one protocol unit read from a peer link
type message struct {
	kind    messageKind
	from    uint8
	request RangeRequest // msgRangeRequest
	base    int          // msgRangeReply
	data    []byte       // msgRangeReply
	equal   bool         // msgVerdict
}

// peer reads protocol messages from the link to one other board. Partial
// headers survive receive timeouts so a slow frame is never split.
type peer struct {
	role Role
	tr   link.Transport
	now  func() time.Time

	hdr    [frame.HeaderSize]byte
	hdrLen int

	// set after a CmdRangeRequest frame until its parameter frame arrives
	awaitParams bool
	paramsFrom  uint8
}

func newPeer(role Role, tr link.Transport, now func() time.Time) *peer {
	return &peer{role: role, tr: tr, now: now}
}

func (p *peer) send(b []byte, timeout time.Duration) error {
	return p.tr.Send(b, timeout)
}

// receive reads len(b) bytes with whatever is left before deadline
func (p *peer) receive(b []byte, deadline time.Time) error {
	remaining := deadline.Sub(p.now())
	if remaining <= 0 {
		return link.ErrTimeout
	}
	return p.tr.Receive(b, remaining)
}

// midFrame reports whether part of a header has been read
func (p *peer) midFrame() bool {
	return p.hdrLen != 0
}

// discard drops a partially read header and any pending range request
func (p *peer) discard() {
	p.hdrLen = 0
	p.awaitParams = false
}

// next reads one unit of input before deadline. It returns a message,
// errDropped for stray bytes and unrelated frames, nil with no message after
// consuming the first half of a range request, or the transport error.
func (p *peer) next(deadline time.Time) (*message, error) {
	if p.hdrLen == 0 {
		if err := p.receive(p.hdr[:1], deadline); err != nil {
			return nil, err
		}
		if !frame.HasStartMarker(p.hdr[0]) && !isDigit(p.hdr[0]) {
			return nil, fmt.Errorf("%w: stray byte 0x%02X", errDropped, p.hdr[0])
		}
		p.hdrLen = 1
	}
	if p.hdrLen == 1 {
		if err := p.receive(p.hdr[1:], deadline); err != nil {
			return nil, err
		}
		p.hdrLen = 2
	}

	if isDigit(p.hdr[0]) {
		p.hdrLen = 0
		req, err := ParseLegacyRequest(p.hdr[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errDropped, err)
		}
		return &message{kind: msgRangeRequest, from: p.role.Address(), request: req}, nil
	}

	buf := make([]byte, frame.FrameLen(p.hdr[:]))
	copy(buf, p.hdr[:])
	if len(buf) > frame.HeaderSize {
		if err := p.receive(buf[frame.HeaderSize:], deadline); err != nil {
			return nil, err
		}
	}
	p.hdrLen = 0

	f, err := frame.DecodeExact(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDropped, err)
	}
	return p.classify(f)
}

func (p *peer) classify(f *frame.Frame) (*message, error) {
	awaiting := p.awaitParams
	p.awaitParams = false

	if f.IsCommand() {
		switch f.CommandID() {
		case CmdRangeRequest:
			p.awaitParams = true
			p.paramsFrom = f.Address()
			return nil, nil
		case VerdictEqual, VerdictDiffer:
			return &message{kind: msgVerdict, from: f.Address(), equal: f.CommandID() == VerdictEqual}, nil
		}
		return nil, fmt.Errorf("%w: command 0x%02X", errDropped, f.CommandID())
	}

	if awaiting {
		req, err := parseRangeParams(f.Payload())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errDropped, err)
		}
		return &message{kind: msgRangeRequest, from: p.paramsFrom, request: req}, nil
	}

	base, data, err := parseRangeReply(f.Payload())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDropped, err)
	}
	return &message{kind: msgRangeReply, from: f.Address(), base: base, data: data}, nil
}
