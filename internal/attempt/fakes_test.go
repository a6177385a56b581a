package attempt

import (
	"context"
	"errors"
	"sync"
	"time"

	"exam_portal_backend/internal/model"
	"exam_portal_backend/pkg/retry"

	"gorm.io/datatypes"
)

var errBackend = errors.New("backend unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeExams struct {
	exams         map[string]*model.Exam
	questions     map[string][]model.Question
	questionReads int
}

func (f *fakeExams) GetExam(_ context.Context, examID string) (*model.Exam, error) {
	e, ok := f.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExams) ListQuestions(_ context.Context, examID string) ([]model.Question, error) {
	f.questionReads++
	return f.questions[examID], nil
}

// fakeAttempts 记录所有写入；failSave/failFinalize 为剩余失败次数，-1 表示一直失败
type fakeAttempts struct {
	mu           sync.Mutex
	created      []model.ExamAttempt
	saved        map[string][]model.UserAnswer
	finalized    []model.ExamAttempt
	submitted    map[string]*model.ExamAttempt
	failSave     int
	failFinalize int
	saveCalls    int
	finalCalls   int
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		saved:     make(map[string][]model.UserAnswer),
		submitted: make(map[string]*model.ExamAttempt),
	}
}

func (f *fakeAttempts) FindSubmittedAttempt(_ context.Context, userID uint, examID string) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.submitted {
		if a.UserID == userID && a.ExamID == examID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAttempts) CreateAttempt(_ context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *a)
	return nil
}

func (f *fakeAttempts) SaveAnswers(_ context.Context, attemptID string, answers []model.UserAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSave != 0 {
		if f.failSave > 0 {
			f.failSave--
		}
		return errBackend
	}
	f.saved[attemptID] = append([]model.UserAnswer(nil), answers...)
	return nil
}

func (f *fakeAttempts) FinalizeAttempt(_ context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalCalls++
	if f.failFinalize != 0 {
		if f.failFinalize > 0 {
			f.failFinalize--
		}
		return errBackend
	}
	cp := *a
	f.finalized = append(f.finalized, cp)
	f.submitted[a.ID] = &cp
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (p *recordingPublisher) Publish(_ context.Context, s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
}

func floatPtr(v float64) *float64 { return &v }

func single(id string, key, order int) model.Question {
	q := model.Question{
		ExamID:        "exam-1",
		Prompt:        "Q " + id,
		Options:       datatypes.JSONSlice[string]{"a", "b", "c", "d"},
		Type:          model.QuestionSingle,
		CorrectAnswer: datatypes.NewJSONType(model.Answer{Options: []int{key}}),
		Marks:         4,
		NegativeMarks: 1,
		Order:         order,
	}
	q.ID = id
	return q
}

func integer(id string, value float64, order int) model.Question {
	q := model.Question{
		ExamID:        "exam-1",
		Prompt:        "Q " + id,
		Type:          model.QuestionInteger,
		CorrectAnswer: datatypes.NewJSONType(model.Answer{Value: floatPtr(value)}),
		Marks:         4,
		Order:         order,
	}
	q.ID = id
	return q
}

var examStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *fakeClock
	exams    *fakeExams
	attempts *fakeAttempts
	backup   *MemoryBackup
	pub      *recordingPublisher
	mgr      *Manager
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.AnswerRetry = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1.5, Timeout: time.Second}
	p.SubmitRetry = retry.Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 1.5, Timeout: time.Second}
	return p
}

// newFixture 一场 9:00-12:00 的考试，三道题，时钟停在开考时刻
func newFixture() *fixture {
	start := examStart
	end := start.Add(3 * time.Hour)
	exam := &model.Exam{Title: "Mock test", DurationMinutes: 180, StartAt: &start, EndAt: &end, IsActive: true}
	exam.ID = "exam-1"

	f := &fixture{
		clock: &fakeClock{now: start},
		exams: &fakeExams{
			exams: map[string]*model.Exam{"exam-1": exam},
			questions: map[string][]model.Question{
				"exam-1": {single("q1", 0, 1), single("q2", 2, 2), integer("q3", 42, 3)},
			},
		},
		attempts: newFakeAttempts(),
		backup:   NewMemoryBackup(),
		pub:      &recordingPublisher{},
	}
	f.mgr = NewManager(7, Deps{
		Exams:     f.exams,
		Attempts:  f.attempts,
		Backup:    f.backup,
		Publisher: f.pub,
		Clock:     f.clock,
	}, fastPolicy())
	return f
}
