package service

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/pkg/database"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
		LogLevel: "silent",
	}, true)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type repos struct {
	users     *repository.UserRepository
	exams     *repository.ExamRepository
	questions *repository.QuestionRepository
	attempts  *repository.AttemptRepository
	rankings  *repository.RankingRepository
}

func newRepos(db *gorm.DB) repos {
	questions := repository.NewQuestionRepository(db)
	return repos{
		users:     repository.NewUserRepository(db),
		exams:     repository.NewExamRepository(db, questions),
		questions: questions,
		attempts:  repository.NewAttemptRepository(db),
		rankings:  repository.NewRankingRepository(db),
	}
}

var examStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// seedExam 两道题：单选 4 分（错扣 1 分），数值题 3 分
func seedExam(t *testing.T, r repos) (*model.Exam, []*model.Question) {
	t.Helper()
	end := examStart.Add(2 * time.Hour)
	start := examStart
	exam := &model.Exam{Title: "Mock Test", DurationMinutes: 90, StartAt: &start, EndAt: &end, IsActive: true}
	if err := r.exams.Create(exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}

	seven := 7.0
	qs := []*model.Question{
		{
			ExamID:        exam.ID,
			Prompt:        "2 + 2 = ?",
			Options:       datatypes.JSONSlice[string]{"4", "5"},
			Type:          model.QuestionSingle,
			CorrectAnswer: datatypes.NewJSONType(model.Answer{Options: []int{0}}),
			Marks:         4,
			NegativeMarks: 1,
			Order:         1,
		},
		{
			ExamID:        exam.ID,
			Prompt:        "3 + 4 = ?",
			Type:          model.QuestionInteger,
			CorrectAnswer: datatypes.NewJSONType(model.Answer{Value: &seven}),
			Marks:         3,
			Order:         2,
		},
	}
	for _, q := range qs {
		if err := r.questions.Create(q); err != nil {
			t.Fatalf("create question: %v", err)
		}
	}
	return exam, qs
}

func seedUser(t *testing.T, r repos, name string) *model.User {
	t.Helper()
	u := &model.User{Name: name, Email: strings.ToLower(name) + "@example.com", Password: "x", Role: model.Student}
	if err := r.users.Create(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}
