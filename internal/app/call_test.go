package app

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

type userEvent struct {
	To    domain.UserID
	Event string
	V     any
}

type fakeUserSender struct {
	mu      sync.Mutex
	events  []userEvent
	offline map[domain.UserID]bool
}

func (s *fakeUserSender) SendToUser(uid domain.UserID, event string, v any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, userEvent{To: uid, Event: event, V: v})
	if s.offline[uid] {
		return 0
	}
	return 1
}

func (s *fakeUserSender) all() []userEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]userEvent(nil), s.events...)
}

func offer(from, to domain.UserID) core.CallOfferPayload {
	return core.CallOfferPayload{
		From:     from,
		FromName: "Caller",
		To:       to,
		CallType: domain.CallVoice,
		Offer:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
}

func TestCallOfferForwarded(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Offer(offer("1", "2"))

	ev := s.all()
	require.Len(t, ev, 1)
	assert.Equal(t, core.EvCallOffer, ev[0].Event)
	assert.Equal(t, domain.UserID("2"), ev[0].To)
	assert.Equal(t, 1, c.ActiveCalls())
}

func TestCallMalformedOfferIgnored(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Offer(offer("", "2"))
	c.Offer(offer("1", ""))
	c.Offer(offer("1", "1"))
	assert.Empty(t, s.all())
	assert.Zero(t, c.ActiveCalls())
}

func TestCallAnswerForwardedAndKeepsWatch(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Offer(offer("1", "2"))
	c.Answer(core.CallAnswerPayload{From: "2", To: "1", Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}})

	ev := s.all()
	require.Len(t, ev, 2)
	assert.Equal(t, core.EvCallAnswer, ev[1].Event)
	assert.Equal(t, domain.UserID("1"), ev[1].To)
	// watch survives for mid-call disconnect teardown
	assert.Equal(t, 1, c.ActiveCalls())
}

func TestCallReOfferAfterAnswerIgnored(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, 30*time.Millisecond)

	c.Offer(offer("1", "2"))
	c.Answer(core.CallAnswerPayload{From: "2", To: "1"})

	// a stray re-offer mid-call is dropped, not forwarded, and must not
	// rearm the ring timer against the live call
	c.Offer(offer("1", "2"))
	assert.Len(t, s.all(), 2)
	assert.Equal(t, 1, c.ActiveCalls())

	time.Sleep(80 * time.Millisecond)
	for _, ev := range s.all() {
		assert.NotEqual(t, core.EvCallEnd, ev.Event)
	}

	// the disconnect backstop still fires for the answered call
	c.HandleDisconnect("2")
	last := s.all()[len(s.all())-1]
	assert.Equal(t, core.EvCallEnd, last.Event)
	assert.Equal(t, domain.UserID("1"), last.To)
}

func TestCallAnswerWithoutOfferIgnored(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Answer(core.CallAnswerPayload{From: "2", To: "1"})
	assert.Empty(t, s.all())
}

func TestCallRejectScenario(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Offer(offer("1", "2"))
	c.Reject(core.CallControlPayload{From: "2", To: "1"})

	ev := s.all()
	require.Len(t, ev, 2)
	assert.Equal(t, core.EvCallReject, ev[1].Event)
	assert.Equal(t, domain.UserID("1"), ev[1].To)
	assert.Zero(t, c.ActiveCalls())

	// a late answer for that pair is dropped
	c.Answer(core.CallAnswerPayload{From: "2", To: "1"})
	assert.Len(t, s.all(), 2)
}

func TestCallEndClearsWatch(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Offer(offer("1", "2"))
	c.End(core.CallControlPayload{From: "1", To: "2"})
	assert.Zero(t, c.ActiveCalls())
}

func TestCallRingTimeout(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, 30*time.Millisecond)

	c.Offer(offer("1", "2"))

	require.Eventually(t, func() bool {
		ends := 0
		for _, ev := range s.all() {
			if ev.Event == core.EvCallEnd {
				ends++
			}
		}
		return ends == 2
	}, time.Second, 5*time.Millisecond, "timeout must end the call toward both sides")

	assert.Zero(t, c.ActiveCalls())
	for _, ev := range s.all() {
		if ev.Event == core.EvCallEnd {
			p := ev.V.(core.CallControlPayload)
			assert.Equal(t, "timeout", p.Reason)
		}
	}
}

func TestCallAnswerStopsRingTimer(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, 30*time.Millisecond)

	c.Offer(offer("1", "2"))
	c.Answer(core.CallAnswerPayload{From: "2", To: "1"})

	time.Sleep(80 * time.Millisecond)
	for _, ev := range s.all() {
		assert.NotEqual(t, core.EvCallEnd, ev.Event, "answered call must not time out")
	}
}

func TestCallDisconnectTeardown(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.Offer(offer("1", "2"))
	c.Answer(core.CallAnswerPayload{From: "2", To: "1"})
	c.HandleDisconnect("2")

	ev := s.all()
	last := ev[len(ev)-1]
	assert.Equal(t, core.EvCallEnd, last.Event)
	assert.Equal(t, domain.UserID("1"), last.To)
	p := last.V.(core.CallControlPayload)
	assert.Equal(t, "disconnected", p.Reason)
	assert.Zero(t, c.ActiveCalls())
}

func TestCallDisconnectWithoutCallIsQuiet(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	c.HandleDisconnect("2")
	assert.Empty(t, s.all())
}

func TestCallCandidateForwardedUnconditionally(t *testing.T) {
	s := &fakeUserSender{}
	c := NewCallCoordinator(s, time.Minute)

	// no offer yet: candidates still pass through, buffering is the
	// receiver's job
	c.Candidate(core.IceCandidatePayload{From: "1", To: "2", Candidate: webrtc.ICECandidateInit{Candidate: "candidate:0"}})
	ev := s.all()
	require.Len(t, ev, 1)
	assert.Equal(t, core.EvIceCandidate, ev[0].Event)
}
