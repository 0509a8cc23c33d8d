package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	out string
	err error
}

func (g stubGenerator) Generate(context.Context, string) (string, error) {
	return g.out, g.err
}

const stubQuizJSON = `Sure! Here are your questions:
[
  {"type": "MCQ", "question": "Capital of France?", "options": ["Paris", "Lyon", "Nice", "Lille"], "correctAnswer": "Paris"},
  {"type": "true/false", "question": "The sky is green.", "correctAnswer": "false"},
  {"type": "fill", "question": "2 + 2 = ___", "correctAnswer": "4"}
]
Let me know if you need more.`

func newQuizEngine(t *testing.T, gen stubGenerator) (*Engine, *recordPublisher) {
	t.Helper()
	pub := &recordPublisher{}
	e := NewEngine(NewMemoryStore(), newMemLedger(), pub, gen, time.Second)
	return e, pub
}

func strPtr(s string) *string { return &s }

func TestGenerateQuizStartsQuiz(t *testing.T) {
	e, pub := newQuizEngine(t, stubGenerator{out: stubQuizJSON})

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.GenerateQuiz("c1", GenerateQuizPayload{RoomCode: "483920", Topic: "geography", QuestionCount: 3})

	require.Eventually(t, func() bool {
		_, ok := pub.last(EventQuizStarted)
		return ok
	}, time.Second, 5*time.Millisecond)

	ev, _ := pub.last(EventQuizStarted)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ev.conns)
	questions := ev.payload.(QuizStartedPayload).Questions
	require.Len(t, questions, 3)
	assert.Equal(t, "mcq", questions[0].Type)
	assert.Equal(t, "truefalse", questions[1].Type)
	assert.Equal(t, "False", questions[1].CorrectAnswer)
	assert.Equal(t, []string{"True", "False"}, questions[1].Options)

	st, _ := e.store.Get("483920")
	st.mu.Lock()
	defer st.mu.Unlock()
	require.NotNil(t, st.Quiz)
	assert.Len(t, st.Quiz.Questions, 3)
}

func TestGenerateQuizHostOnly(t *testing.T) {
	e, pub := newQuizEngine(t, stubGenerator{out: stubQuizJSON})

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.GenerateQuiz("c2", GenerateQuizPayload{RoomCode: "483920", Topic: "geography"})

	time.Sleep(50 * time.Millisecond)
	_, started := pub.last(EventQuizStarted)
	assert.False(t, started)
}

func TestGenerateQuizFailureNotifiesRequesterOnly(t *testing.T) {
	e, pub := newQuizEngine(t, stubGenerator{err: errors.New("upstream down")})

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	pub.reset()

	e.GenerateQuiz("c1", GenerateQuizPayload{RoomCode: "483920", Topic: "geography"})

	require.Eventually(t, func() bool {
		_, ok := pub.last(EventSystemMessage)
		return ok
	}, time.Second, 5*time.Millisecond)

	ev, _ := pub.last(EventSystemMessage)
	assert.Equal(t, []string{"c1"}, ev.conns, "failure is private to the requester")
	_, started := pub.last(EventQuizStarted)
	assert.False(t, started)
}

func TestSubmitQuizScoringAndLeaderboard(t *testing.T) {
	e, pub := newQuizEngine(t, stubGenerator{})

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")

	st, _ := e.store.Get("483920")
	st.mu.Lock()
	st.Quiz = NewQuiz([]Question{
		{Type: "mcq", Question: "Capital of France?", CorrectAnswer: "Paris"},
		{Type: "fill", Question: "2 + 2 = ___", CorrectAnswer: "4"},
	})
	st.mu.Unlock()
	pub.reset()

	// Whitespace and case never cost points; nil answers never score.
	e.SubmitQuiz("c2", SubmitQuizPayload{RoomCode: "483920", Answers: []*string{strPtr("  paris "), nil}})

	ev, ok := pub.last(EventLeaderboardUpdate)
	require.True(t, ok)
	board := ev.payload.([]LeaderboardEntry)
	require.Len(t, board, 1)
	assert.Equal(t, 1, board[0].Score)
	assert.Equal(t, "bob", board[0].Username)

	// Ties keep first-submission order.
	e.SubmitQuiz("c1", SubmitQuizPayload{RoomCode: "483920", Answers: []*string{strPtr("Paris"), nil}})
	ev, _ = pub.last(EventLeaderboardUpdate)
	board = ev.payload.([]LeaderboardEntry)
	require.Len(t, board, 2)
	assert.Equal(t, "u2", board[0].UserID)
	assert.Equal(t, "u1", board[1].UserID)

	// Resubmission overwrites rather than appending.
	e.SubmitQuiz("c1", SubmitQuizPayload{RoomCode: "483920", Answers: []*string{strPtr("Paris"), strPtr("4")}})
	ev, _ = pub.last(EventLeaderboardUpdate)
	board = ev.payload.([]LeaderboardEntry)
	require.Len(t, board, 2)
	assert.Equal(t, "u1", board[0].UserID)
	assert.Equal(t, 2, board[0].Score)

	// Extra answers past the question count are ignored.
	e.SubmitQuiz("c2", SubmitQuizPayload{RoomCode: "483920", Answers: []*string{strPtr("Paris"), strPtr("5"), strPtr("extra")}})
	ev, _ = pub.last(EventLeaderboardUpdate)
	board = ev.payload.([]LeaderboardEntry)
	assert.Equal(t, 1, board[1].Score)
}

func TestSubmitWithoutActiveQuiz(t *testing.T) {
	e, pub := newQuizEngine(t, stubGenerator{})

	join(e, "c1", "483920", "u1", "alice")
	pub.reset()

	e.SubmitQuiz("c1", SubmitQuizPayload{RoomCode: "483920", Answers: []*string{strPtr("x")}})
	_, sent := pub.last(EventLeaderboardUpdate)
	assert.False(t, sent)
}

func TestEndQuiz(t *testing.T) {
	e, pub := newQuizEngine(t, stubGenerator{})

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")

	st, _ := e.store.Get("483920")
	st.mu.Lock()
	st.Quiz = NewQuiz([]Question{{Type: "fill", Question: "q", CorrectAnswer: "a"}})
	st.mu.Unlock()
	e.SubmitQuiz("c2", SubmitQuizPayload{RoomCode: "483920", Answers: []*string{strPtr("a")}})
	pub.reset()

	e.EndQuiz("c2", "483920")
	_, ended := pub.last(EventQuizEnded)
	assert.False(t, ended, "only the host may end the quiz")

	e.EndQuiz("c1", "483920")
	ev, ok := pub.last(EventQuizEnded)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ev.conns)
	assert.Nil(t, ev.payload)

	st.mu.Lock()
	assert.Nil(t, st.Quiz)
	st.mu.Unlock()

	// A second end_quiz has nothing to end.
	pub.reset()
	e.EndQuiz("c1", "483920")
	_, again := pub.last(EventQuizEnded)
	assert.False(t, again)
}

func TestParseQuestionsRejectsJunk(t *testing.T) {
	_, err := parseQuestions("no array here")
	assert.Error(t, err)

	_, err = parseQuestions(`[{"type":"mcq","question":"","correctAnswer":""}]`)
	assert.Error(t, err, "questions without text or answer are unusable")

	qs, err := parseQuestions(`[{"type":"weird","question":"q","correctAnswer":"a"}]`)
	require.NoError(t, err)
	assert.Equal(t, "mcq", qs[0].Type, "unknown types fall back to mcq")
}

func TestNormalizeQuestionType(t *testing.T) {
	assert.Equal(t, "mcq", normalizeQuestionType("MCQ"))
	assert.Equal(t, "mcq", normalizeQuestionType("Multiple Choice"))
	assert.Equal(t, "truefalse", normalizeQuestionType("True/False"))
	assert.Equal(t, "truefalse", normalizeQuestionType("true_false"))
	assert.Equal(t, "fill", normalizeQuestionType(" Fill "))
	assert.Equal(t, "mixed", normalizeQuestionType(""))
	assert.Equal(t, "mixed", normalizeQuestionType("mixed"))
}
