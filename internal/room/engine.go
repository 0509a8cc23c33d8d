package room

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyroom-backend/internal/ai"
	"studyroom-backend/internal/model"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// Publisher delivers fully-formed events to a set of connections. The
// engine computes recipients from room membership; the transport behind
// this interface only writes.
type Publisher interface {
	Publish(connIDs []string, event string, payload any)
}

// Engine is the room coordination engine: it serializes all mutation of
// a room's state, fans out derived events, and keeps the durable ledger
// in step on host changes and teardown. One engine serves the whole
// process; rooms are independent and proceed in parallel.
type Engine struct {
	store      Store
	ledger     Ledger
	pub        Publisher
	gen        ai.Generator
	genTimeout time.Duration

	mu     sync.RWMutex
	byConn map[string]string // connection id -> room code

	onRoomClosed func(code string)
}

// NewEngine creates an Engine.
func NewEngine(store Store, ledger Ledger, pub Publisher, gen ai.Generator, genTimeout time.Duration) *Engine {
	return &Engine{
		store:      store,
		ledger:     ledger,
		pub:        pub,
		gen:        gen,
		genTimeout: genTimeout,
		byConn:     make(map[string]string),
	}
}

// SetOnRoomClosed registers a hook called after a room is torn down,
// for transport-side cleanup (chat history, etc).
func (e *Engine) SetOnRoomClosed(fn func(code string)) {
	e.onRoomClosed = fn
}

// Dispatch decodes one inbound message and runs its handler. A failing
// event never takes the process down; malformed input and references to
// dead rooms are dropped silently per the engine's failure policy.
func (e *Engine) Dispatch(connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Type {
	case EventJoin:
		var p JoinPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.Join(connID, p)
		}
	case EventLeaveRoom:
		e.Disconnect(connID)
	case EventDraw:
		var p DrawPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.Draw(connID, p)
		}
	case EventClearBoard:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.ClearBoard(connID, p.RoomCode)
		}
	case EventAddText:
		var p AddTextPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.AddText(connID, p)
		}
	case EventAddImageObject:
		var p AddImagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.AddImage(connID, p)
		}
	case EventMoveImageObject:
		var p MoveImagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.MoveImage(connID, p)
		}
	case EventDeleteImageObject:
		var p DeleteImagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.DeleteImage(connID, p)
		}
	case EventUndoBoard:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.UndoBoard(connID, p.RoomCode)
		}
	case EventGrantPermission:
		var p PermissionPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.GrantPermission(connID, p)
		}
	case EventRevokePermission:
		var p PermissionPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.RevokePermission(connID, p)
		}
	case EventStartTimer:
		var p StartTimerPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.StartTimer(connID, p)
		}
	case EventPauseTimer:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.PauseTimer(connID, p.RoomCode)
		}
	case EventResumeTimer:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.ResumeTimer(connID, p.RoomCode)
		}
	case EventResetTimer:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.ResetTimer(connID, p.RoomCode)
		}
	case EventTransferHost:
		var p TransferHostPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.TransferHost(connID, p)
		}
	case EventEndRoom:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.EndRoom(connID, p.RoomCode)
		}
	case EventGenerateQuiz:
		var p GenerateQuizPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.GenerateQuiz(connID, p)
		}
	case EventSubmitQuiz:
		var p SubmitQuizPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.SubmitQuiz(connID, p)
		}
	case EventEndQuiz:
		var p RoomCodePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.EndQuiz(connID, p.RoomCode)
		}
	case EventWebRTCOffer:
		var p OfferPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.RelayOffer(connID, p)
		}
	case EventWebRTCAnswer:
		var p AnswerPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.RelayAnswer(connID, p)
		}
	case EventWebRTCIce:
		var p IcePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.RelayIce(connID, p)
		}
	case EventTyping, EventStopTyping:
		var p TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.RelayTyping(connID, env.Type, p)
		}
	case EventSendMessage:
		var p ChatMessagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			e.SendMessage(connID, p)
		}
	default:
		log.Printf("[Engine] Unknown event type: %s", env.Type)
	}
}

// roomOf returns the room code a connection is joined to.
func (e *Engine) roomOf(connID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	code, ok := e.byConn[connID]
	return code, ok
}

// Join adds a connection to a room, creating the room if this is its
// first participant. The joiner receives a full catch-up snapshot
// (board history, permission set, timer if active, current host, peer
// list) before any live event, then the rest of the room is notified.
func (e *Engine) Join(connID string, p JoinPayload) {
	if p.RoomCode == "" {
		return
	}

	userID := p.UserID
	if userID == "" {
		// Guest join. Mint an id so rejoin dedup and signaling stay addressable.
		userID = uuid.NewString()
	}

	// Teardown of the last participant can race this join: the state
	// resolved here may be marked closed by the time we hold its lock.
	// Retry against the store until we lock a live room.
	var st *RoomState
	for {
		st = e.store.GetOrCreate(p.RoomCode)
		st.mu.Lock()
		if !st.closed {
			break
		}
		st.mu.Unlock()
	}
	defer st.mu.Unlock()

	// A rejoining user replaces their stale entry and is appended at the
	// end, so FIFO host promotion reflects the rejoin.
	for i, existing := range st.Participants {
		if existing.UserID == userID {
			e.mu.Lock()
			delete(e.byConn, existing.ConnectionID)
			e.mu.Unlock()
			st.Participants = append(st.Participants[:i], st.Participants[i+1:]...)
			break
		}
	}

	st.Participants = append(st.Participants, Participant{
		ConnectionID: connID,
		UserID:       userID,
		Username:     p.Username,
	})

	e.mu.Lock()
	e.byConn[connID] = p.RoomCode
	e.mu.Unlock()

	if st.Host == "" {
		st.Host = userID
	}
	e.syncLedgerOnJoin(st)

	// Catch-up for the new connection only, history before live stream.
	joiner := []string{connID}
	e.pub.Publish(joiner, EventBoardHistory, st.Board)
	e.pub.Publish(joiner, EventUpdatePermissions, st.drawerList())
	if st.Timer.Active() {
		e.pub.Publish(joiner, EventTimerUpdate, st.Timer)
	}
	e.pub.Publish(joiner, EventHostChanged, HostChangedPayload{NewHostID: st.Host})

	peers := make([]string, 0, len(st.Participants)-1)
	for _, other := range st.Participants {
		if other.ConnectionID != connID {
			peers = append(peers, other.UserID)
		}
	}
	e.pub.Publish(joiner, EventExistingPeers, ExistingPeersPayload{UserIDs: peers})

	others := st.connIDsExcept(connID)
	e.pub.Publish(others, EventNewPeer, NewPeerPayload{UserID: userID})
	e.pub.Publish(others, EventSystemMessage, SystemMessagePayload{
		Message: p.Username + " joined the room",
	})

	e.pub.Publish(st.connIDs(), EventUpdateParticipants, st.Participants)

	log.Printf("[Room %s] %s joined (%d participants)", st.Code, p.Username, len(st.Participants))
}

// syncLedgerOnJoin makes the durable record match the in-memory host.
// Rooms joined ad hoc (no scheduled record) get one created here so
// end_room authorization has a row to check.
func (e *Engine) syncLedgerOnJoin(st *RoomState) {
	row, err := e.ledger.Find(context.Background(), st.Code)
	if err != nil {
		log.Printf("[Room %s] Ledger lookup failed: %v", st.Code, err)
		return
	}

	if row == nil {
		row = &model.Room{
			Code:      st.Code,
			HostID:    st.Host,
			IsActive:  true,
			ExpiresAt: timeNow().Add(roomExpiry),
		}
	} else if row.HostID == st.Host {
		return
	} else {
		row.HostID = st.Host
	}

	if err := e.ledger.Save(context.Background(), row); err != nil {
		log.Printf("[Room %s] Ledger save failed: %v", st.Code, err)
	}
}

// Disconnect removes a connection from its room. The leave_room event
// and a dropped socket take the same path; disconnection is not an
// error. The participant at index 0 of the remaining join-ordered list
// is promoted if the host left; an emptied room is torn down.
func (e *Engine) Disconnect(connID string) {
	e.mu.Lock()
	code, ok := e.byConn[connID]
	if ok {
		delete(e.byConn, connID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()

	var removed Participant
	found := false
	for i, p := range st.Participants {
		if p.ConnectionID == connID {
			removed = p
			st.Participants = append(st.Participants[:i], st.Participants[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		st.mu.Unlock()
		return
	}

	if len(st.Participants) == 0 {
		st.closed = true
		st.mu.Unlock()
		e.teardown(code)
		return
	}

	if removed.UserID == st.Host {
		st.Host = st.Participants[0].UserID
		e.persistHost(st.Code, st.Host)
		e.pub.Publish(st.connIDs(), EventHostChanged, HostChangedPayload{NewHostID: st.Host})
		e.pub.Publish(st.connIDs(), EventSystemMessage, SystemMessagePayload{
			Message: st.Participants[0].Username + " is now the host",
		})
	}

	e.pub.Publish(st.connIDs(), EventUpdateParticipants, st.Participants)
	e.pub.Publish(st.connIDs(), EventSystemMessage, SystemMessagePayload{
		Message: removed.Username + " left the room",
	})

	log.Printf("[Room %s] %s left (%d remaining)", st.Code, removed.Username, len(st.Participants))
	st.mu.Unlock()
}

// persistHost writes the current host to the ledger.
func (e *Engine) persistHost(code, hostID string) {
	row, err := e.ledger.Find(context.Background(), code)
	if err != nil || row == nil {
		return
	}
	row.HostID = hostID
	if err := e.ledger.Save(context.Background(), row); err != nil {
		log.Printf("[Room %s] Ledger host update failed: %v", code, err)
	}
}

// teardown drops all state for a room, in memory and durable.
func (e *Engine) teardown(code string) {
	e.store.Delete(code)
	if err := e.ledger.Delete(context.Background(), code); err != nil {
		log.Printf("[Room %s] Ledger delete failed: %v", code, err)
	}
	if e.onRoomClosed != nil {
		e.onRoomClosed(code)
	}
}

// EndRoom ends a room for everyone. Authorization is checked against
// the durable ledger, not the in-memory host, so a stale in-memory
// value after a restart cannot end someone else's room.
func (e *Engine) EndRoom(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()

	requester, ok := st.participantByConn(connID)
	if !ok {
		st.mu.Unlock()
		return
	}

	row, err := e.ledger.Find(context.Background(), code)
	if err != nil || row == nil || row.HostID != requester.UserID {
		st.mu.Unlock()
		return
	}

	conns := st.connIDs()
	e.pub.Publish(conns, EventRoomEnded, nil)

	e.mu.Lock()
	for _, id := range conns {
		delete(e.byConn, id)
	}
	e.mu.Unlock()

	st.Participants = nil
	st.closed = true
	st.mu.Unlock()

	e.teardown(code)
	log.Printf("[Room %s] Ended by host %s", code, requester.UserID)
}

// TransferHost hands host privileges to another current participant.
// Same ledger-backed authorization as EndRoom.
func (e *Engine) TransferHost(connID string, p TransferHostPayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	requester, ok := st.participantByConn(connID)
	if !ok {
		return
	}

	row, err := e.ledger.Find(context.Background(), p.RoomCode)
	if err != nil || row == nil || row.HostID != requester.UserID {
		return
	}

	// The host must always be a current participant.
	newHost, ok := st.participantByUser(p.NewHostID)
	if !ok {
		return
	}

	st.Host = newHost.UserID
	row.HostID = newHost.UserID
	if err := e.ledger.Save(context.Background(), row); err != nil {
		log.Printf("[Room %s] Ledger host update failed: %v", p.RoomCode, err)
	}

	e.pub.Publish(st.connIDs(), EventHostChanged, HostChangedPayload{NewHostID: newHost.UserID})
	e.pub.Publish(st.connIDs(), EventSystemMessage, SystemMessagePayload{
		Message: newHost.Username + " is now the host",
	})
}

// RelayTyping forwards a typing indicator to everyone but the sender.
func (e *Engine) RelayTyping(connID, event string, p TypingPayload) {
	code, ok := e.roomOf(connID)
	if !ok {
		return
	}
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e.pub.Publish(st.connIDsExcept(connID), event, p)
}

// SendMessage relays a chat message to the whole room, sender included.
func (e *Engine) SendMessage(connID string, p ChatMessagePayload) {
	code, ok := e.roomOf(connID)
	if !ok {
		return
	}
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e.pub.Publish(st.connIDs(), EventReceiveMessage, p)
}
