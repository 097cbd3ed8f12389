package client

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

func testOffer(from domain.UserID) core.CallOfferPayload {
	return core.CallOfferPayload{
		From:     from,
		FromName: "Bob",
		To:       "1",
		CallType: domain.CallVideo,
		Offer:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
}

func testAnswer(from domain.UserID) core.CallAnswerPayload {
	return core.CallAnswerPayload{
		From:   from,
		To:     "1",
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
	}
}

func cand(n string) core.IceCandidatePayload {
	return core.IceCandidatePayload{From: "2", To: "1", Candidate: webrtc.ICECandidateInit{Candidate: n}}
}

func TestCallStateCallerHappyPath(t *testing.T) {
	s := NewCallState()
	require.Equal(t, domain.CallIdle, s.Phase())

	require.NoError(t, s.StartOffer("2", domain.CallVoice))
	assert.Equal(t, domain.CallOffering, s.Phase())

	_, err := s.HandleAnswer(testAnswer("2"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallActive, s.Phase())
}

func TestCallStateCalleeHappyPath(t *testing.T) {
	s := NewCallState()

	require.NoError(t, s.HandleOffer(testOffer("2")))
	assert.Equal(t, domain.CallRinging, s.Phase())

	_, err := s.Accept()
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnecting, s.Phase())

	require.NoError(t, s.Activate())
	assert.Equal(t, domain.CallActive, s.Phase())
}

func TestCallStateOnlyOfferingFromIdle(t *testing.T) {
	s := NewCallState()

	_, err := s.Accept()
	assert.ErrorIs(t, err, ErrBadTransition)
	_, err = s.HandleAnswer(testAnswer("2"))
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, domain.CallIdle, s.Phase())
}

func TestCallStateBusyRejectsSecondOffer(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.HandleOffer(testOffer("2")))

	err := s.HandleOffer(testOffer("3"))
	assert.ErrorIs(t, err, ErrCallBusy)
	assert.Equal(t, domain.UserID("2"), s.Peer())

	assert.ErrorIs(t, s.StartOffer("3", domain.CallVoice), ErrCallBusy)
}

func TestCallStateNoActiveWithoutAnswer(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.StartOffer("2", domain.CallVoice))

	// only a call_answer moves offering forward; anything else is rejected
	assert.ErrorIs(t, s.Activate(), ErrBadTransition)
	_, err := s.Accept()
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, domain.CallOffering, s.Phase())
}

func TestCallStateRejectScenario(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.StartOffer("2", domain.CallVoice))

	require.NoError(t, s.HandleReject("2"))
	assert.Equal(t, domain.CallEnded, s.Phase())

	// no call_answer is ever processed for that pair afterwards
	_, err := s.HandleAnswer(testAnswer("2"))
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, domain.CallEnded, s.Phase())
}

func TestCallStateRejectFromWrongPeerIgnored(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.StartOffer("2", domain.CallVoice))

	assert.Error(t, s.HandleReject("3"))
	assert.Equal(t, domain.CallOffering, s.Phase())
}

func TestCallStateAnswerFromWrongPeerIgnored(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.StartOffer("2", domain.CallVoice))

	_, err := s.HandleAnswer(testAnswer("3"))
	assert.ErrorIs(t, err, ErrWrongPeer)
	assert.Equal(t, domain.CallOffering, s.Phase())
}

func TestCallStateEarlyCandidatesBuffered(t *testing.T) {
	s := NewCallState()
	var applied []string
	s.SetCandidateSink(func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	})

	require.NoError(t, s.HandleOffer(testOffer("2")))

	// candidates race ahead of the accept: buffered, not applied, not dropped
	require.NoError(t, s.HandleCandidate(cand("candidate:0")))
	require.NoError(t, s.HandleCandidate(cand("candidate:1")))
	assert.Empty(t, applied)
	assert.Equal(t, 2, s.PendingCandidates())

	flushed, err := s.Accept()
	require.NoError(t, err)
	require.Len(t, flushed, 2)
	assert.Equal(t, "candidate:0", flushed[0].Candidate)
	assert.Equal(t, "candidate:1", flushed[1].Candidate)
	assert.Zero(t, s.PendingCandidates())

	// after the remote description is set, candidates apply directly
	require.NoError(t, s.HandleCandidate(cand("candidate:2")))
	assert.Equal(t, []string{"candidate:2"}, applied)
}

func TestCallStateStaleCandidateAfterEnd(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.HandleOffer(testOffer("2")))
	s.End()

	require.NoError(t, s.HandleCandidate(cand("candidate:9")))
	assert.Zero(t, s.PendingCandidates(), "stale candidates dropped after teardown")
}

func TestCallStateResetAllowsNextCall(t *testing.T) {
	s := NewCallState()
	require.NoError(t, s.StartOffer("2", domain.CallVoice))
	s.End()
	assert.Equal(t, domain.CallEnded, s.Phase())

	s.Reset()
	assert.Equal(t, domain.CallIdle, s.Phase())
	require.NoError(t, s.StartOffer("3", domain.CallVideo))
}

func TestCallStateEndFromAnyPhase(t *testing.T) {
	for _, setup := range []func(*CallState){
		func(s *CallState) { _ = s.StartOffer("2", domain.CallVoice) },
		func(s *CallState) { _ = s.HandleOffer(testOffer("2")) },
		func(s *CallState) { _ = s.HandleOffer(testOffer("2")); _, _ = s.Accept() },
	} {
		s := NewCallState()
		setup(s)
		s.End()
		assert.Equal(t, domain.CallEnded, s.Phase())
	}
}

func TestCallPhaseTransitionTable(t *testing.T) {
	assert.True(t, domain.CallIdle.CanTransition(domain.CallOffering))
	assert.True(t, domain.CallIdle.CanTransition(domain.CallRinging))
	assert.True(t, domain.CallRinging.CanTransition(domain.CallConnecting))
	assert.True(t, domain.CallOffering.CanTransition(domain.CallActive))
	assert.True(t, domain.CallActive.CanTransition(domain.CallEnded))

	assert.False(t, domain.CallIdle.CanTransition(domain.CallActive))
	assert.False(t, domain.CallRinging.CanTransition(domain.CallActive))
	assert.False(t, domain.CallOffering.CanTransition(domain.CallConnecting))
}
