package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"studyroom-backend/internal/ai"
)

const (
	defaultQuestionCount = 5
	maxQuestionCount     = 20
)

// GenerateQuiz asks the content generator for a question set and starts
// a quiz with it. Host-only. The generator call runs off the room lock
// with a deadline, so a slow upstream never stalls the room; when the
// response lands the room is looked up again and the result is dropped
// if the room emptied in the meantime.
func (e *Engine) GenerateQuiz(connID string, p GenerateQuizPayload) {
	if strings.TrimSpace(p.Topic) == "" || e.gen == nil {
		return
	}

	count := p.QuestionCount
	if count <= 0 {
		count = defaultQuestionCount
	}
	if count > maxQuestionCount {
		count = maxQuestionCount
	}
	qtype := normalizeQuestionType(p.QuestionType)

	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	if !st.isHostConn(connID) {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.genTimeout)
		defer cancel()

		questions, err := e.generateQuestions(ctx, p.Topic, count, qtype)
		if err != nil {
			log.Printf("[Room %s] Quiz generation failed: %v", p.RoomCode, err)
			e.pub.Publish([]string{connID}, EventSystemMessage, SystemMessagePayload{
				Message: "Quiz generation failed. Please try again.",
			})
			return
		}

		st, ok := e.store.Get(p.RoomCode)
		if !ok {
			// Room emptied while generating.
			return
		}

		st.mu.Lock()
		defer st.mu.Unlock()

		// Starting a new quiz replaces any previous one.
		st.Quiz = NewQuiz(questions)
		e.pub.Publish(st.connIDs(), EventQuizStarted, QuizStartedPayload{Questions: questions})
		log.Printf("[Room %s] Quiz started: %d questions on %q", p.RoomCode, len(questions), p.Topic)
	}()
}

// SubmitQuiz scores one participant's answer sheet against the active
// quiz and broadcasts the updated leaderboard. Resubmission overwrites
// the previous score.
func (e *Engine) SubmitQuiz(connID string, p SubmitQuizPayload) {
	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.Quiz == nil {
		return
	}

	submitter, ok := st.participantByConn(connID)
	if !ok {
		return
	}

	score := scoreAnswers(st.Quiz.Questions, p.Answers)
	st.Quiz.RecordScore(submitter.UserID, submitter.Username, score)
	e.pub.Publish(st.connIDs(), EventLeaderboardUpdate, sortedLeaderboard(st.Quiz))
}

// EndQuiz closes the active quiz and broadcasts the final standings.
// Host-only.
func (e *Engine) EndQuiz(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) || st.Quiz == nil {
		return
	}

	// Clients already hold the standings from leaderboard_update.
	st.Quiz = nil
	e.pub.Publish(st.connIDs(), EventQuizEnded, nil)
}

// generateQuestions calls the generator and parses its response.
func (e *Engine) generateQuestions(ctx context.Context, topic string, count int, qtype string) ([]Question, error) {
	raw, err := e.gen.Generate(ctx, buildQuizPrompt(topic, count, qtype))
	if err != nil {
		return nil, err
	}
	return parseQuestions(raw)
}

func buildQuizPrompt(topic string, count int, qtype string) string {
	return fmt.Sprintf(`Generate %d quiz questions about "%s".
Question type: %s (mcq = multiple choice with exactly 4 options, truefalse = true or false, fill = fill in the blank, mixed = a mix of all three).
Respond with ONLY a JSON array, no markdown fences and no explanation. Each element must have this shape:
{"type": "mcq", "question": "...", "options": ["...", "...", "...", "..."], "correctAnswer": "..."}
For truefalse questions correctAnswer must be exactly "True" or "False" and options must be ["True", "False"].
For fill questions omit the options field.
correctAnswer must exactly match one of the options when options are present.`, count, topic, qtype)
}

// parseQuestions extracts the JSON array from a model response, which
// often arrives wrapped in prose or markdown fences, and normalizes
// each question.
func parseQuestions(raw string) ([]Question, error) {
	arr, err := ai.ExtractJSONArray(raw)
	if err != nil {
		return nil, err
	}

	var questions []Question
	if err := json.Unmarshal(arr, &questions); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}

	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		q.Type = normalizeQuestionType(q.Type)
		if q.Type == "mixed" {
			q.Type = "mcq"
		}
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
			continue
		}
		if q.Type == "truefalse" {
			if strings.EqualFold(strings.TrimSpace(q.CorrectAnswer), "true") {
				q.CorrectAnswer = "True"
			} else {
				q.CorrectAnswer = "False"
			}
			q.Options = []string{"True", "False"}
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable questions in response")
	}
	return out, nil
}

// normalizeQuestionType maps the free-form type strings models and
// clients produce onto the three canonical kinds, defaulting to mixed.
func normalizeQuestionType(t string) string {
	key := strings.ToLower(strings.TrimSpace(t))
	for _, sep := range []string{"/", "_", "-", " "} {
		key = strings.ReplaceAll(key, sep, "")
	}
	switch key {
	case "mcq", "multiplechoice":
		return "mcq"
	case "truefalse":
		return "truefalse"
	case "fill", "fillintheblank", "fillblank":
		return "fill"
	case "mixed", "":
		return "mixed"
	default:
		return "mcq"
	}
}

// scoreAnswers counts exact matches, ignoring case and surrounding
// whitespace. Nil or missing answers never score; extra answers past
// the question count are ignored.
func scoreAnswers(questions []Question, answers []*string) int {
	score := 0
	for i, q := range questions {
		if i >= len(answers) || answers[i] == nil {
			continue
		}
		given := strings.TrimSpace(*answers[i])
		if given == "" {
			continue
		}
		if strings.EqualFold(given, strings.TrimSpace(q.CorrectAnswer)) {
			score++
		}
	}
	return score
}

// sortedLeaderboard returns a copy sorted by score descending; ties
// keep first-submission order.
func sortedLeaderboard(q *Quiz) []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(q.Leaderboard))
	copy(out, q.Leaderboard)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
