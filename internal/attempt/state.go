package attempt

import (
	"sort"

	"exam_portal_backend/internal/model"
)

// State 答题状态：NotStarted / InProgress / Submitted 三者之一
type State interface {
	Name() string
}

type NotStarted struct{}

func (NotStarted) Name() string { return "not_started" }

type InProgress struct {
	Attempt   model.ExamAttempt
	Exam      model.Exam
	Questions []model.Question
	Answers   map[string]model.UserAnswer

	position map[string]int
}

func (*InProgress) Name() string { return "in_progress" }

type Submitted struct {
	Attempt model.ExamAttempt
}

func (*Submitted) Name() string { return "submitted" }

func newInProgress(attempt model.ExamAttempt, snap *ExamSnapshot) *InProgress {
	st := &InProgress{
		Attempt:   attempt,
		Exam:      snap.Exam,
		Questions: snap.Questions,
		Answers:   make(map[string]model.UserAnswer),
		position:  make(map[string]int, len(snap.Questions)),
	}
	for i, q := range snap.Questions {
		st.position[q.ID] = i
	}
	return st
}

func (s *InProgress) question(id string) (model.Question, bool) {
	i, ok := s.position[id]
	if !ok {
		return model.Question{}, false
	}
	return s.Questions[i], true
}

// orderedAnswers 按题目顺序输出已作答记录
func (s *InProgress) orderedAnswers() []model.UserAnswer {
	out := make([]model.UserAnswer, 0, len(s.Answers))
	for _, a := range s.Answers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.position[out[i].QuestionID] < s.position[out[j].QuestionID]
	})
	return out
}
