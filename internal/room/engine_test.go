package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom-backend/internal/model"
)

// memLedger is an in-memory Ledger for tests.
type memLedger struct {
	mu    sync.Mutex
	rooms map[string]*model.Room
}

func newMemLedger() *memLedger {
	return &memLedger{rooms: make(map[string]*model.Room)}
}

func (l *memLedger) Find(_ context.Context, code string) (*model.Room, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rooms[code]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (l *memLedger) Save(_ context.Context, room *model.Room) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *room
	l.rooms[room.Code] = &cp
	return nil
}

func (l *memLedger) Delete(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rooms, code)
	return nil
}

func (l *memLedger) hostOf(code string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rooms[code]; ok {
		return row.HostID
	}
	return ""
}

// sentEvent is one Publish call as seen by a recording publisher.
type sentEvent struct {
	conns   []string
	event   string
	payload any
}

func (ev sentEvent) sentTo(connID string) bool {
	for _, id := range ev.conns {
		if id == connID {
			return true
		}
	}
	return false
}

type recordPublisher struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (p *recordPublisher) Publish(connIDs []string, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := make([]string, len(connIDs))
	copy(conns, connIDs)
	p.sent = append(p.sent, sentEvent{conns: conns, event: event, payload: payload})
}

func (p *recordPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

// eventsTo returns all events of a type delivered to a connection.
func (p *recordPublisher) eventsTo(connID, event string) []sentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentEvent
	for _, ev := range p.sent {
		if ev.event == event && ev.sentTo(connID) {
			out = append(out, ev)
		}
	}
	return out
}

// last returns the most recent event of a type, to anyone.
func (p *recordPublisher) last(event string) (sentEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.sent) - 1; i >= 0; i-- {
		if p.sent[i].event == event {
			return p.sent[i], true
		}
	}
	return sentEvent{}, false
}

func newTestEngine(t *testing.T) (*Engine, *memLedger, *recordPublisher) {
	t.Helper()
	ledger := newMemLedger()
	pub := &recordPublisher{}
	e := NewEngine(NewMemoryStore(), ledger, pub, nil, time.Second)
	return e, ledger, pub
}

func join(e *Engine, connID, code, userID, username string) {
	e.Join(connID, JoinPayload{RoomCode: code, UserID: userID, Username: username})
}

func TestJoinCreatesRoomAndHost(t *testing.T) {
	e, ledger, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")

	st, ok := e.store.Get("483920")
	require.True(t, ok)
	assert.Equal(t, "u1", st.Host)
	require.Len(t, st.Participants, 1)
	assert.Equal(t, "u1", ledger.hostOf("483920"), "first join should create the durable record")

	require.Len(t, pub.eventsTo("c1", EventBoardHistory), 1)
	require.Len(t, pub.eventsTo("c1", EventUpdatePermissions), 1)
	require.Len(t, pub.eventsTo("c1", EventHostChanged), 1)
	assert.Empty(t, pub.eventsTo("c1", EventTimerUpdate), "idle timer must not be sent on join")

	peers := pub.eventsTo("c1", EventExistingPeers)
	require.Len(t, peers, 1)
	assert.Empty(t, peers[0].payload.(ExistingPeersPayload).UserIDs)
}

func TestJoinCatchUp(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	e.Draw("c1", DrawPayload{RoomCode: "483920", X: 0.1, Y: 0.2, PrevX: 0.1, PrevY: 0.1, Color: "#000", LineWidth: 2})
	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: 60000})
	pub.reset()

	join(e, "c2", "483920", "u2", "bob")

	history := pub.eventsTo("c2", EventBoardHistory)
	require.Len(t, history, 1)
	assert.Len(t, history[0].payload.([]BoardOp), 1)

	require.Len(t, pub.eventsTo("c2", EventTimerUpdate), 1, "active timer must be part of catch-up")

	peers := pub.eventsTo("c2", EventExistingPeers)
	require.Len(t, peers, 1)
	assert.Equal(t, []string{"u1"}, peers[0].payload.(ExistingPeersPayload).UserIDs)

	newPeers := pub.eventsTo("c1", EventNewPeer)
	require.Len(t, newPeers, 1)
	assert.Equal(t, "u2", newPeers[0].payload.(NewPeerPayload).UserID)
	assert.Empty(t, pub.eventsTo("c2", EventNewPeer), "joiner must not see itself as a new peer")
}

func TestRejoinReplacesStaleEntry(t *testing.T) {
	e, _, _ := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	join(e, "c3", "483920", "u1", "alice")

	st, _ := e.store.Get("483920")
	require.Len(t, st.Participants, 2)
	assert.Equal(t, "u2", st.Participants[0].UserID)
	assert.Equal(t, "u1", st.Participants[1].UserID)
	assert.Equal(t, "c3", st.Participants[1].ConnectionID)

	// The stale connection is no longer registered; its late disconnect
	// must not touch the room.
	e.Disconnect("c1")
	st, ok := e.store.Get("483920")
	require.True(t, ok)
	assert.Len(t, st.Participants, 2)
}

func TestGuestJoinMintsUserID(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.Join("c1", JoinPayload{RoomCode: "483920", Username: "guest"})

	st, _ := e.store.Get("483920")
	require.Len(t, st.Participants, 1)
	assert.NotEmpty(t, st.Participants[0].UserID)
	assert.Equal(t, st.Participants[0].UserID, st.Host)
}

func TestHostFailoverFIFO(t *testing.T) {
	e, ledger, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	join(e, "c3", "483920", "u3", "carol")
	pub.reset()

	e.Disconnect("c1")

	st, _ := e.store.Get("483920")
	assert.Equal(t, "u2", st.Host, "oldest remaining participant becomes host")
	assert.Equal(t, "u2", ledger.hostOf("483920"))

	ev, ok := pub.last(EventHostChanged)
	require.True(t, ok)
	assert.Equal(t, "u2", ev.payload.(HostChangedPayload).NewHostID)
	assert.ElementsMatch(t, []string{"c2", "c3"}, ev.conns)
}

func TestNonHostLeaveKeepsHost(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.Disconnect("c2")

	st, _ := e.store.Get("483920")
	assert.Equal(t, "u1", st.Host)
	_, changed := pub.last(EventHostChanged)
	assert.False(t, changed)
}

func TestLastLeaveTearsDown(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	closed := ""
	e.SetOnRoomClosed(func(code string) { closed = code })

	join(e, "c1", "483920", "u1", "alice")
	e.Disconnect("c1")

	assert.Equal(t, 0, e.store.Len())
	assert.Empty(t, ledger.hostOf("483920"))
	assert.Equal(t, "483920", closed)
}

func TestEndRoomHostOnly(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.EndRoom("c2", "483920")
	assert.Equal(t, 1, e.store.Len(), "non-host must not end the room")

	e.EndRoom("c1", "483920")
	assert.Equal(t, 0, e.store.Len())

	ev, ok := pub.last(EventRoomEnded)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ev.conns)
}

func TestEndRoomAuthorizedAgainstLedger(t *testing.T) {
	e, ledger, _ := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")

	// Durable record says someone else owns this room; the in-memory
	// host must not be able to end it.
	require.NoError(t, ledger.Save(context.Background(), &model.Room{Code: "483920", HostID: "other"}))
	e.EndRoom("c1", "483920")
	assert.Equal(t, 1, e.store.Len())
}

func TestTransferHost(t *testing.T) {
	e, ledger, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.TransferHost("c1", TransferHostPayload{RoomCode: "483920", NewHostID: "nobody"})
	st, _ := e.store.Get("483920")
	assert.Equal(t, "u1", st.Host, "host must stay a current participant")

	e.TransferHost("c2", TransferHostPayload{RoomCode: "483920", NewHostID: "u2"})
	assert.Equal(t, "u1", st.Host, "only the ledger host may transfer")

	e.TransferHost("c1", TransferHostPayload{RoomCode: "483920", NewHostID: "u2"})
	assert.Equal(t, "u2", st.Host)
	assert.Equal(t, "u2", ledger.hostOf("483920"))

	ev, ok := pub.last(EventHostChanged)
	require.True(t, ok)
	assert.Equal(t, "u2", ev.payload.(HostChangedPayload).NewHostID)
}

func TestDrawPermissionGate(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	stroke := DrawPayload{RoomCode: "483920", X: 0.5, Y: 0.5, Color: "#f00", LineWidth: 3}

	e.Draw("c2", stroke)
	st, _ := e.store.Get("483920")
	assert.Empty(t, st.Board, "ungranted participant must not mutate the board")
	assert.Empty(t, pub.eventsTo("c1", EventDraw))

	e.GrantPermission("c1", PermissionPayload{RoomCode: "483920", UserID: "u2"})
	perms, ok := pub.last(EventUpdatePermissions)
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, perms.payload.([]string))

	e.Draw("c2", stroke)
	assert.Len(t, st.Board, 1)
	require.Len(t, pub.eventsTo("c1", EventDraw), 1)
	assert.Empty(t, pub.eventsTo("c2", EventDraw), "author already rendered the stroke")

	e.RevokePermission("c1", PermissionPayload{RoomCode: "483920", UserID: "u2"})
	e.Draw("c2", stroke)
	assert.Len(t, st.Board, 1)
}

func TestGrantIsHostOnly(t *testing.T) {
	e, _, _ := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")

	e.GrantPermission("c2", PermissionPayload{RoomCode: "483920", UserID: "u2"})

	st, _ := e.store.Get("483920")
	assert.Empty(t, st.AllowedDrawers)
}

func TestBoardLogOrderAndUndo(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	e.Draw("c1", DrawPayload{RoomCode: "483920", X: 0.1, Y: 0.1})
	e.AddText("c1", AddTextPayload{RoomCode: "483920", X: 0.2, Y: 0.2, Text: "hi"})
	pub.reset()

	st, _ := e.store.Get("483920")
	require.Len(t, st.Board, 2)
	assert.Equal(t, OpDraw, st.Board[0].Type)
	assert.Equal(t, OpText, st.Board[1].Type)

	e.UndoBoard("c1", "483920")
	require.Len(t, st.Board, 1)
	assert.Equal(t, OpDraw, st.Board[0].Type)
	history, ok := pub.last(EventBoardHistory)
	require.True(t, ok)
	assert.Len(t, history.payload.([]BoardOp), 1)

	e.ClearBoard("c1", "483920")
	assert.Empty(t, st.Board)
	_, cleared := pub.last(EventClearBoard)
	assert.True(t, cleared)

	// Undo on an empty board is a no-op.
	pub.reset()
	e.UndoBoard("c1", "483920")
	_, sent := pub.last(EventBoardHistory)
	assert.False(t, sent)
}

func TestImageObjectLifecycle(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	img := ImageObject{ID: "img-1", X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2, Payload: "data:image/png;base64,AAAA"}
	e.AddImage("c1", AddImagePayload{RoomCode: "483920", Image: img})

	st, _ := e.store.Get("483920")
	require.Len(t, st.Board, 1)

	e.MoveImage("c1", MoveImagePayload{RoomCode: "483920", ID: "img-1", X: 0.7, Y: 0.8})
	assert.Equal(t, 0.7, st.Board[0].Image.X)
	assert.Equal(t, 0.8, st.Board[0].Image.Y)
	assert.Len(t, st.Board, 1, "a move must not grow the log")

	e.MoveImage("c1", MoveImagePayload{RoomCode: "483920", ID: "gone", X: 0.5, Y: 0.5})
	assert.Equal(t, 0.7, st.Board[0].Image.X)

	e.DeleteImage("c1", DeleteImagePayload{RoomCode: "483920", ID: "img-1"})
	assert.Empty(t, st.Board)
	del, ok := pub.last(EventDeleteImageObject)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, del.conns, "deletes go to everyone, author included")
}

func TestSignalingScopedToRoom(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "111111", "u1", "alice")
	join(e, "c2", "111111", "u2", "bob")
	join(e, "c3", "222222", "u3", "carol")
	pub.reset()

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	e.RelayOffer("c1", OfferPayload{To: "u2", Offer: offer})
	got := pub.eventsTo("c2", EventWebRTCOffer)
	require.Len(t, got, 1)
	relayed := got[0].payload.(SignalRelayPayload)
	assert.Equal(t, "u1", relayed.From)
	assert.Equal(t, offer, relayed.Payload)

	// Same user id as a target in another room must be unreachable.
	pub.reset()
	e.RelayOffer("c1", OfferPayload{To: "u3", Offer: offer})
	assert.Empty(t, pub.eventsTo("c3", EventWebRTCOffer))

	pub.reset()
	e.RelayIce("c2", IcePayload{To: "u1", Candidate: json.RawMessage(`{"candidate":"c"}`)})
	ice := pub.eventsTo("c1", EventWebRTCIce)
	require.Len(t, ice, 1)
	assert.Equal(t, "u2", ice[0].payload.(SignalRelayPayload).From)
}

func TestChatAndTypingRelay(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.SendMessage("c1", ChatMessagePayload{Room: "483920", Author: "alice", Message: "hello"})
	ev, ok := pub.last(EventReceiveMessage)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ev.conns, "chat echoes back to the sender")
	assert.Equal(t, "hello", ev.payload.(ChatMessagePayload).Message)

	e.RelayTyping("c1", EventTyping, TypingPayload{RoomCode: "483920", Username: "alice"})
	typing, ok := pub.last(EventTyping)
	require.True(t, ok)
	assert.Equal(t, []string{"c2"}, typing.conns, "typing indicators skip the sender")
}

func TestDispatchRoutesAndSurvivesGarbage(t *testing.T) {
	e, _, pub := newTestEngine(t)

	e.Dispatch("c1", []byte(`not json`))
	e.Dispatch("c1", []byte(`{"type":"draw","payload":"not an object"}`))
	e.Dispatch("c1", []byte(`{"type":"no_such_event","payload":{}}`))

	e.Dispatch("c1", []byte(`{"type":"join","payload":{"roomCode":"483920","userId":"u1","username":"alice"}}`))
	st, ok := e.store.Get("483920")
	require.True(t, ok)
	assert.Equal(t, "u1", st.Host)

	pub.reset()
	e.Dispatch("c1", []byte(`{"type":"start_timer","payload":{"roomCode":"483920","duration":60000}}`))
	_, sent := pub.last(EventTimerUpdate)
	assert.True(t, sent)

	e.Dispatch("c1", []byte(`{"type":"leave_room","payload":{"roomCode":"483920"}}`))
	assert.Equal(t, 0, e.store.Len())
}

// staleStore hands out one pre-captured state before delegating,
// reproducing the window where a join resolves a room that teardown is
// about to remove from the store.
type staleStore struct {
	Store
	mu    sync.Mutex
	stale *RoomState
}

func (s *staleStore) GetOrCreate(code string) *RoomState {
	s.mu.Lock()
	st := s.stale
	s.stale = nil
	s.mu.Unlock()
	if st != nil {
		return st
	}
	return s.Store.GetOrCreate(code)
}

func TestJoinRetriesAfterTeardown(t *testing.T) {
	ledger := newMemLedger()
	pub := &recordPublisher{}
	store := &staleStore{Store: NewMemoryStore()}
	e := NewEngine(store, ledger, pub, nil, time.Second)

	join(e, "c1", "483920", "u1", "alice")
	stale, ok := store.Get("483920")
	require.True(t, ok)

	// Last participant leaves; the room is gone.
	e.Disconnect("c1")
	_, ok = store.Get("483920")
	require.False(t, ok)

	// The next join resolved the room just before teardown and now holds
	// a dead state.
	store.mu.Lock()
	store.stale = stale
	store.mu.Unlock()

	join(e, "c2", "483920", "u2", "bob")

	st, ok := e.store.Get("483920")
	require.True(t, ok, "join must land in a room the store knows about")
	require.NotSame(t, stale, st)
	require.Len(t, st.Participants, 1)
	assert.Equal(t, "u2", st.Host)
	assert.Empty(t, stale.Participants, "the dead state must stay untouched")

	// The room works for the new participant.
	pub.reset()
	e.StartTimer("c2", StartTimerPayload{RoomCode: "483920", Duration: 60000})
	_, sent := pub.last(EventTimerUpdate)
	assert.True(t, sent)
}

func TestJoinDisconnectRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		e, _, _ := newTestEngine(t)
		join(e, "c1", "483920", "u1", "alice")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.Disconnect("c1")
		}()
		go func() {
			defer wg.Done()
			join(e, "c2", "483920", "u2", "bob")
		}()
		wg.Wait()

		// Whichever side wins, the joiner must end up in a live room.
		st, ok := e.store.Get("483920")
		require.True(t, ok)
		require.Len(t, st.Participants, 1)
		assert.Equal(t, "u2", st.Participants[0].UserID)

		code, tracked := e.roomOf("c2")
		require.True(t, tracked)
		assert.Equal(t, "483920", code)
	}
}

func TestClearBoardCatchUpIsEmptyList(t *testing.T) {
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	e.Draw("c1", DrawPayload{RoomCode: "483920", X: 0.1, Y: 0.2, Color: "#000", LineWidth: 2})
	e.ClearBoard("c1", "483920")
	pub.reset()

	join(e, "c2", "483920", "u2", "bob")

	history := pub.eventsTo("c2", EventBoardHistory)
	require.Len(t, history, 1)
	ops, isOps := history[0].payload.([]BoardOp)
	require.True(t, isOps)
	require.NotNil(t, ops, "a cleared board must serialize as [], not null")
	assert.Empty(t, ops)

	data, err := json.Marshal(ops)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
