package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

type fakeStore struct {
	markReadErr error
	markedRooms []domain.RoomID
}

func (s *fakeStore) GetOrCreateRoom(ctx context.Context, a, b domain.UserID) (domain.RoomID, error) {
	return domain.PairRoomID(a, b), nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, m domain.Message) (*domain.Message, error) {
	m.ID = 1
	m.Timestamp = time.Now()
	return &m, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, room domain.RoomID, page, pageSize int) (*core.MessagePage, error) {
	return &core.MessagePage{Page: page}, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, room domain.RoomID, userID domain.UserID) error {
	if s.markReadErr != nil {
		return s.markReadErr
	}
	s.markedRooms = append(s.markedRooms, room)
	return nil
}

func chatFixture(t *testing.T, st core.MessageStore) (*ChatPipeline, map[core.ConnID]*fakeConn) {
	t.Helper()
	reg := NewRegistry()
	conns := make(map[core.ConnID]*fakeConn)
	for _, cid := range []core.ConnID{"a1", "b1"} {
		c := &fakeConn{}
		conns[cid] = c
		reg.Bind(cid, c, nil)
	}
	reg.Identify("a1", "1")
	reg.Identify("b1", "2")
	reg.Join("a1", "chat_1_2")
	reg.Join("b1", "chat_1_2")
	relay := NewRelay(reg, nil)
	typing := NewTypingTracker(relay, time.Minute)
	return NewChatPipeline(relay, typing, st), conns
}

func sendReq(id int64) core.SendMessagePayload {
	return core.SendMessagePayload{
		RoomID:     "chat_1_2",
		SenderID:   "1",
		SenderName: "Alice",
		ReceiverID: "2",
		Message: domain.Message{
			ID:          id,
			RoomID:      "chat_1_2",
			SenderID:    "1",
			Content:     "hello",
			Kind:        domain.MessageText,
			Timestamp:   time.Now(),
			ClientToken: "tok-1",
		},
	}
}

func TestChatRoundTrip(t *testing.T) {
	chat, conns := chatFixture(t, &fakeStore{})

	require.NoError(t, chat.Deliver("a1", sendReq(1)))

	// B gets exactly one receive_message with the content and sender
	var got core.ReceiveMessagePayload
	assert.Equal(t, core.EvReceiveMessage, conns["b1"].last(t, &got))
	assert.Equal(t, 1, conns["b1"].count())
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, domain.RoomID("chat_1_2"), got.RoomID)
	assert.Equal(t, domain.UserID("1"), got.SenderID)
	assert.Equal(t, "tok-1", got.ClientToken)

	// A gets exactly one message_delivered confirming the same content/sender
	var ack core.MessageDeliveredPayload
	assert.Equal(t, core.EvMessageDelivered, conns["a1"].last(t, &ack))
	assert.Equal(t, 1, conns["a1"].count())
	assert.Equal(t, "hello", ack.Content)
	assert.Equal(t, domain.UserID("1"), ack.SenderID)
}

func TestChatRejectsUnpersisted(t *testing.T) {
	chat, conns := chatFixture(t, &fakeStore{})

	err := chat.Deliver("a1", sendReq(0))
	assert.ErrorIs(t, err, ErrNotPersisted)
	assert.Zero(t, conns["b1"].count(), "no relay emission without a durable id")
	assert.Zero(t, conns["a1"].count())
}

func TestChatValidation(t *testing.T) {
	chat, _ := chatFixture(t, &fakeStore{})

	req := sendReq(1)
	req.RoomID = ""
	assert.ErrorIs(t, chat.Deliver("a1", req), ErrEmptyRoom)

	req = sendReq(1)
	req.SenderID = ""
	assert.ErrorIs(t, chat.Deliver("a1", req), ErrEmptySender)
}

func TestChatOfflineRecipientIsNotAnError(t *testing.T) {
	st := &fakeStore{}
	reg := NewRegistry()
	a := &fakeConn{}
	reg.Bind("a1", a, nil)
	reg.Identify("a1", "1")
	reg.Join("a1", "chat_1_2")
	relay := NewRelay(reg, nil)
	chat := NewChatPipeline(relay, NewTypingTracker(relay, time.Minute), st)

	require.NoError(t, chat.Deliver("a1", sendReq(1)))
	// sender still gets the delivery ack for its optimistic echo
	assert.Equal(t, core.EvMessageDelivered, a.last(t, nil))
}

func TestMarkReadPersistsBeforeBroadcast(t *testing.T) {
	st := &fakeStore{}
	chat, conns := chatFixture(t, st)

	req := core.MarkReadPayload{RoomID: "chat_1_2", UserID: "2"}
	require.NoError(t, chat.MarkRead(context.Background(), "b1", req))

	assert.Equal(t, []domain.RoomID{"chat_1_2"}, st.markedRooms)
	var got core.MarkReadPayload
	assert.Equal(t, core.EvMessagesRead, conns["a1"].last(t, &got))
	assert.Equal(t, domain.UserID("2"), got.UserID)
}

func TestMarkReadStoreFailureSuppressesBroadcast(t *testing.T) {
	st := &fakeStore{markReadErr: errors.New("store down")}
	chat, conns := chatFixture(t, st)

	err := chat.MarkRead(context.Background(), "b1", core.MarkReadPayload{RoomID: "chat_1_2", UserID: "2"})
	require.Error(t, err)
	assert.Zero(t, conns["a1"].count(), "messages_read must not fan out on store failure")
}
