package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

var (
	ErrCallBusy         = errors.New("call already in progress")
	ErrBadTransition    = errors.New("transition not allowed in current phase")
	ErrNotInCall        = errors.New("no call in progress")
	ErrWrongPeer        = errors.New("signaling from unexpected peer")
	ErrMediaUnavailable = errors.New("media acquisition failed")
)

// CandidateSink applies a remote ICE candidate to the local peer connection.
type CandidateSink func(webrtc.ICECandidateInit) error

// CallState is the client-owned call lifecycle. Signaling that does not fit
// the current phase is ignored rather than applied, so out-of-order events
// cannot corrupt negotiation. Candidates arriving before the remote
// description are buffered per call and flushed once it is set.
type CallState struct {
	mu        sync.Mutex
	phase     domain.CallPhase
	kind      domain.CallKind
	peer      domain.UserID
	peerName  string
	remote    *webrtc.SessionDescription
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	sink      CandidateSink
}

func NewCallState() *CallState {
	return &CallState{phase: domain.CallIdle}
}

func (s *CallState) Phase() domain.CallPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *CallState) Peer() domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// SetCandidateSink wires the peer-connection callback used when flushing.
func (s *CallState) SetCandidateSink(sink CandidateSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// StartOffer moves idle -> offering on the caller side. Media must already
// be acquired; a half-initialized call never reaches this point.
func (s *CallState) StartOffer(peer domain.UserID, kind domain.CallKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == domain.CallEnded {
		s.resetLocked()
	}
	if s.phase != domain.CallIdle {
		return ErrCallBusy
	}
	s.phase = domain.CallOffering
	s.kind = kind
	s.peer = peer
	return nil
}

// HandleOffer moves idle -> ringing on the callee side. An offer while a
// call is in progress is rejected as busy.
func (s *CallState) HandleOffer(p core.CallOfferPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == domain.CallEnded {
		s.resetLocked()
	}
	if s.phase != domain.CallIdle {
		return ErrCallBusy
	}
	s.phase = domain.CallRinging
	s.kind = p.CallType
	s.peer = p.From
	s.peerName = p.FromName
	s.remote = &p.Offer
	return nil
}

// Accept moves ringing -> connecting. Setting the remote description here
// unlocks any buffered candidates.
func (s *CallState) Accept() ([]webrtc.ICECandidateInit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.CallRinging {
		return nil, ErrBadTransition
	}
	s.phase = domain.CallConnecting
	return s.setRemoteLocked(), nil
}

// HandleAnswer moves offering -> active on the caller side. Answers in any
// other phase, or from the wrong peer, are ignored.
func (s *CallState) HandleAnswer(p core.CallAnswerPayload) ([]webrtc.ICECandidateInit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.CallOffering {
		return nil, ErrBadTransition
	}
	if p.From != s.peer {
		return nil, ErrWrongPeer
	}
	s.phase = domain.CallActive
	s.remote = &p.Answer
	return s.setRemoteLocked(), nil
}

// Activate moves connecting -> active on the callee once media flows.
func (s *CallState) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.CallConnecting {
		return ErrBadTransition
	}
	s.phase = domain.CallActive
	return nil
}

// HandleCandidate buffers or applies a remote ICE candidate depending on
// whether the remote description is set yet.
func (s *CallState) HandleCandidate(p core.IceCandidatePayload) error {
	s.mu.Lock()
	if s.phase == domain.CallIdle || s.phase == domain.CallEnded {
		s.mu.Unlock()
		return nil // stale candidate after teardown, drop
	}
	if p.From != s.peer {
		s.mu.Unlock()
		return ErrWrongPeer
	}
	if !s.remoteSet {
		s.pending = append(s.pending, p.Candidate)
		s.mu.Unlock()
		return nil
	}
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		return sink(p.Candidate)
	}
	return nil
}

// HandleReject ends the call from the callee's decline. Only meaningful
// while offering; anything later is ignored.
func (s *CallState) HandleReject(from domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.CallOffering || from != s.peer {
		return ErrBadTransition
	}
	s.phase = domain.CallEnded
	return nil
}

// End forces ended from any phase: explicit hang-up, remote call_end, or
// liveness timeout all land here.
func (s *CallState) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == domain.CallIdle {
		return
	}
	s.phase = domain.CallEnded
}

// Reset returns ended -> idle so the next call can start.
func (s *CallState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == domain.CallEnded {
		s.resetLocked()
	}
}

func (s *CallState) RemoteDescription() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// PendingCandidates reports the buffer size; after a flush it is empty.
func (s *CallState) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// caller holds s.mu; returns the buffered candidates to apply outside the lock
func (s *CallState) setRemoteLocked() []webrtc.ICECandidateInit {
	s.remoteSet = true
	flushed := s.pending
	s.pending = nil
	return flushed
}

func (s *CallState) resetLocked() {
	s.phase = domain.CallIdle
	s.kind = ""
	s.peer = ""
	s.peerName = ""
	s.remote = nil
	s.remoteSet = false
	s.pending = nil
}
