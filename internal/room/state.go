package room

import (
	"sort"
	"sync"
)

// Participant is one live connection inside a room.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
}

// Board op kinds are the same names the ops travel under on the wire, so
// a client replays history with the handlers it already has.
const (
	OpDraw  = EventDraw
	OpText  = EventAddText
	OpImage = EventAddImageObject
)

// DrawOp one stroke segment, coordinates normalized to [0,1].
type DrawOp struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	PrevX     float64 `json:"prevX"`
	PrevY     float64 `json:"prevY"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
}

// TextOp one text placement.
type TextOp struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
}

// BoardOp is one entry of the append-only board log. Exactly one of the
// pointers is set, matching Type. Draw and text ops are anonymous; image
// ops carry the caller-generated id used by move/delete.
type BoardOp struct {
	Type  string       `json:"type"`
	Draw  *DrawOp      `json:"draw,omitempty"`
	Text  *TextOp      `json:"text,omitempty"`
	Image *ImageObject `json:"image,omitempty"`
}

// TimerState countdown state, reconstructible from this one snapshot.
// While running, clients derive the live countdown from EndTimeEpochMs;
// otherwise RemainingMs is authoritative.
type TimerState struct {
	DurationMs     int64 `json:"durationMs"`
	EndTimeEpochMs int64 `json:"endTimeEpochMs"`
	RemainingMs    int64 `json:"remainingMs"`
	IsRunning      bool  `json:"isRunning"`
	IsPaused       bool  `json:"isPaused"`
}

// Active reports whether a timer has been started and not reset.
func (t TimerState) Active() bool {
	return t.IsRunning || t.IsPaused
}

// Question one generated quiz question.
type Question struct {
	Type          string   `json:"type"` // mcq | truefalse | fill
	Question      string   `json:"question"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// LeaderboardEntry one user's score.
type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Quiz holds the active quiz and its leaderboard. Entries keep insertion
// order; resubmission overwrites in place so ties keep first-submit
// order when the broadcast is sorted.
type Quiz struct {
	Questions   []Question
	Leaderboard []LeaderboardEntry
	byUser      map[string]int // userID -> Leaderboard index
}

// NewQuiz creates a quiz with an empty leaderboard.
func NewQuiz(questions []Question) *Quiz {
	return &Quiz{
		Questions: questions,
		byUser:    make(map[string]int),
	}
}

// RecordScore writes or overwrites a user's leaderboard entry.
func (q *Quiz) RecordScore(userID, username string, score int) {
	if i, ok := q.byUser[userID]; ok {
		q.Leaderboard[i].Username = username
		q.Leaderboard[i].Score = score
		return
	}
	q.byUser[userID] = len(q.Leaderboard)
	q.Leaderboard = append(q.Leaderboard, LeaderboardEntry{
		UserID:   userID,
		Username: username,
		Score:    score,
	})
}

// RoomState is the authoritative in-memory state of one live room. All
// access goes through mu; operations on the same room are strictly
// serialized while different rooms proceed in parallel.
type RoomState struct {
	mu sync.Mutex

	// closed is set under mu when the room is torn down. A Join that
	// resolved this state before teardown re-checks it after locking
	// and retries against the store instead of mutating a dead room.
	closed bool

	Code           string
	Host           string
	Participants   []Participant
	AllowedDrawers map[string]struct{}
	Board          []BoardOp
	Timer          TimerState
	Quiz           *Quiz
}

func newRoomState(code string) *RoomState {
	return &RoomState{
		Code:           code,
		AllowedDrawers: make(map[string]struct{}),
		Board:          make([]BoardOp, 0),
	}
}

// connIDs returns every connection id in the room.
func (st *RoomState) connIDs() []string {
	ids := make([]string, 0, len(st.Participants))
	for _, p := range st.Participants {
		ids = append(ids, p.ConnectionID)
	}
	return ids
}

// connIDsExcept returns every connection id in the room except one.
func (st *RoomState) connIDsExcept(connID string) []string {
	ids := make([]string, 0, len(st.Participants))
	for _, p := range st.Participants {
		if p.ConnectionID != connID {
			ids = append(ids, p.ConnectionID)
		}
	}
	return ids
}

// participantByConn returns the participant for a connection id.
func (st *RoomState) participantByConn(connID string) (Participant, bool) {
	for _, p := range st.Participants {
		if p.ConnectionID == connID {
			return p, true
		}
	}
	return Participant{}, false
}

// participantByUser returns the participant for a user id.
func (st *RoomState) participantByUser(userID string) (Participant, bool) {
	for _, p := range st.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// mayDraw reports whether a user may mutate the board: the host always
// may, everyone else needs a grant.
func (st *RoomState) mayDraw(userID string) bool {
	if userID == st.Host {
		return true
	}
	_, ok := st.AllowedDrawers[userID]
	return ok
}

// isHostConn reports whether a connection belongs to the current host.
func (st *RoomState) isHostConn(connID string) bool {
	p, ok := st.participantByConn(connID)
	return ok && p.UserID == st.Host
}

// drawerList returns the permission set as a sorted slice for
// full-state sync.
func (st *RoomState) drawerList() []string {
	ids := make([]string, 0, len(st.AllowedDrawers))
	for id := range st.AllowedDrawers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
