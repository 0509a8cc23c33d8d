package room

import "encoding/json"

// Wire event names. These are the protocol contract with the client and
// must not be renamed.
const (
	// Inbound
	EventJoin              = "join"
	EventLeaveRoom         = "leave_room"
	EventDraw              = "draw"
	EventClearBoard        = "clear_board"
	EventAddText           = "add_text"
	EventAddImageObject    = "add_image_object"
	EventMoveImageObject   = "move_image_object"
	EventDeleteImageObject = "delete_image_object"
	EventUndoBoard         = "undo_board"
	EventGrantPermission   = "grant_permission"
	EventRevokePermission  = "revoke_permission"
	EventStartTimer        = "start_timer"
	EventPauseTimer        = "pause_timer"
	EventResumeTimer       = "resume_timer"
	EventResetTimer        = "reset_timer"
	EventTransferHost      = "transfer_host"
	EventEndRoom           = "end_room"
	EventGenerateQuiz      = "generate_room_quiz"
	EventSubmitQuiz        = "submit_quiz"
	EventEndQuiz           = "end_quiz"
	EventWebRTCOffer       = "webrtc_offer"
	EventWebRTCAnswer      = "webrtc_answer"
	EventWebRTCIce         = "webrtc_ice"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
	EventSendMessage       = "send_message"

	// Outbound
	EventUpdateParticipants = "update_participants"
	EventBoardHistory       = "board_history"
	EventTimerUpdate        = "timer_update"
	EventUpdatePermissions  = "update_permissions"
	EventHostChanged        = "host_changed"
	EventSystemMessage      = "system_message"
	EventRoomEnded          = "room_ended"
	EventQuizStarted        = "quiz_started"
	EventQuizEnded          = "quiz_ended"
	EventLeaderboardUpdate  = "leaderboard_update"
	EventExistingPeers      = "existing_peers"
	EventNewPeer            = "new_peer"
	EventReceiveMessage     = "receive_message"
)

// Envelope is the framing for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads.

type JoinPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type RoomCodePayload struct {
	RoomCode string `json:"roomCode"`
}

type DrawPayload struct {
	RoomCode  string  `json:"roomCode"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	PrevX     float64 `json:"prevX"`
	PrevY     float64 `json:"prevY"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
}

type AddTextPayload struct {
	RoomCode  string  `json:"roomCode"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	Color     string  `json:"color"`
	LineWidth float64 `json:"lineWidth"`
}

// ImageObject positions and sizes are normalized to [0,1].
type ImageObject struct {
	ID      string  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Payload string  `json:"payload"`
}

type AddImagePayload struct {
	RoomCode string      `json:"roomCode"`
	Image    ImageObject `json:"image"`
}

type MoveImagePayload struct {
	RoomCode string  `json:"roomCode"`
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type DeleteImagePayload struct {
	RoomCode string `json:"roomCode"`
	ID       string `json:"id"`
}

type PermissionPayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
}

type StartTimerPayload struct {
	RoomCode string `json:"roomCode"`
	Duration int64  `json:"duration"` // milliseconds
}

type TransferHostPayload struct {
	RoomCode  string `json:"roomCode"`
	NewHostID string `json:"newHostId"`
}

type GenerateQuizPayload struct {
	RoomCode      string `json:"roomCode"`
	Topic         string `json:"topic"`
	QuestionCount int    `json:"questionCount"`
	QuestionType  string `json:"questionType"`
}

// SubmitQuizPayload answers may be null for skipped questions.
type SubmitQuizPayload struct {
	RoomCode string    `json:"roomCode"`
	Answers  []*string `json:"answers"`
}

type OfferPayload struct {
	To    string          `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

type AnswerPayload struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

type IcePayload struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type TypingPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type ChatMessagePayload struct {
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

// Outbound payloads.

type HostChangedPayload struct {
	NewHostID string `json:"newHostId"`
}

type SystemMessagePayload struct {
	Message string `json:"message"`
}

type QuizStartedPayload struct {
	Questions []Question `json:"questions"`
}

type ExistingPeersPayload struct {
	UserIDs []string `json:"userIds"`
}

type NewPeerPayload struct {
	UserID string `json:"userId"`
}

// SignalRelayPayload wraps a relayed WebRTC blob with the sender's
// registry-backed identity. The server never looks inside Payload.
type SignalRelayPayload struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}
