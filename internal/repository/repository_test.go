package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/pkg/database"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
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

func single(examID string, order int, correct int) *model.Question {
	return &model.Question{
		ExamID:        examID,
		Prompt:        fmt.Sprintf("q%d", order),
		Options:       datatypes.JSONSlice[string]{"a", "b", "c", "d"},
		Type:          model.QuestionSingle,
		CorrectAnswer: datatypes.NewJSONType(model.Answer{Options: []int{correct}}),
		Marks:         4,
		NegativeMarks: 1,
		Order:         order,
	}
}

func seedExam(t *testing.T, db *gorm.DB) (*ExamRepository, *model.Exam) {
	t.Helper()
	questions := NewQuestionRepository(db)
	exams := NewExamRepository(db, questions)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	exam := &model.Exam{Title: "Mock Test", DurationMinutes: 120, StartAt: &start, EndAt: &end, IsActive: true}
	if err := exams.Create(exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}
	return exams, exam
}

func seedAttempt(t *testing.T, repo *AttemptRepository, examID string, userID uint) *model.ExamAttempt {
	t.Helper()
	a := &model.ExamAttempt{
		ID:        fmt.Sprintf("1772355600000-%08x", userID),
		ExamID:    examID,
		UserID:    userID,
		StartTime: time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC),
	}
	if err := repo.CreateAttempt(context.Background(), a); err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	return a
}

func answer(questionID string, opt int, marks float64) model.UserAnswer {
	return model.UserAnswer{
		QuestionID:  questionID,
		Answer:      datatypes.NewJSONType(model.Answer{Options: []int{opt}}),
		MarksEarned: marks,
		Status:      model.StatusAnswered,
	}
}

func TestQuestionRepository_OrderAndCount(t *testing.T) {
	db := newTestDB(t)
	exams, exam := seedExam(t, db)
	ctx := context.Background()

	for _, order := range []int{3, 1, 2} {
		if err := exams.Questions.Create(single(exam.ID, order, 0)); err != nil {
			t.Fatalf("create question: %v", err)
		}
	}

	qs, err := exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, q := range qs {
		if q.Order != i+1 {
			t.Fatalf("question %d has order %d", i, q.Order)
		}
	}

	got, _ := exams.FindByID(exam.ID)
	if got.QuestionCount != 3 {
		t.Fatalf("question count = %d, want 3", got.QuestionCount)
	}

	if err := exams.Questions.Delete(qs[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = exams.FindByID(exam.ID)
	if got.QuestionCount != 2 {
		t.Fatalf("question count after delete = %d, want 2", got.QuestionCount)
	}
}

func TestQuestionRepository_RejectsMalformedRow(t *testing.T) {
	db := newTestDB(t)
	exams, exam := seedExam(t, db)

	bad := single(exam.ID, 1, 9)
	if err := exams.Questions.Create(bad); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := exams.ListQuestions(context.Background(), exam.ID)
	if !errors.Is(err, model.ErrInvalidQuestion) {
		t.Fatalf("err = %v, want ErrInvalidQuestion", err)
	}
}

func TestExamRepository_GetExamNotFound(t *testing.T) {
	db := newTestDB(t)
	exams, _ := seedExam(t, db)

	_, err := exams.GetExam(context.Background(), "missing")
	if !errors.Is(err, attempt.ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestExamRepository_ListActive(t *testing.T) {
	db := newTestDB(t)
	exams, open := seedExam(t, db)

	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pastEnd := past.Add(time.Hour)
	ended := &model.Exam{Title: "Old", StartAt: &past, EndAt: &pastEnd, IsActive: true}
	inactive := &model.Exam{Title: "Draft"}
	completed := &model.Exam{Title: "Done", IsActive: true, IsCompleted: true}
	for _, e := range []*model.Exam{ended, inactive, completed} {
		if err := exams.Create(e); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := exams.ListActive(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(list) != 1 || list[0].ID != open.ID {
		t.Fatalf("active exams = %+v, want only %s", list, open.ID)
	}

	if err := exams.SetFlags("missing", map[string]interface{}{"is_completed": true}); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("SetFlags on missing exam: %v", err)
	}
}

func TestAttemptRepository_SaveAnswersUpserts(t *testing.T) {
	db := newTestDB(t)
	_, exam := seedExam(t, db)
	repo := NewAttemptRepository(db)
	ctx := context.Background()
	a := seedAttempt(t, repo, exam.ID, 7)

	if err := repo.SaveAnswers(ctx, a.ID, []model.UserAnswer{answer("q1", 0, 4), answer("q2", 1, -1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveAnswers(ctx, a.ID, []model.UserAnswer{answer("q1", 2, -1), answer("q2", 1, -1)}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := repo.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 2 {
		t.Fatalf("answers = %d, want 2 (one row per question)", len(got.Answers))
	}
	byID := map[string]model.UserAnswer{}
	for _, ans := range got.Answers {
		byID[ans.QuestionID] = ans
	}
	if sel := byID["q1"].Answer.Data().Options; len(sel) != 1 || sel[0] != 2 {
		t.Fatalf("q1 answer = %v, want last write [2]", sel)
	}
	if byID["q1"].MarksEarned != -1 {
		t.Fatalf("q1 marks = %v, want -1", byID["q1"].MarksEarned)
	}
}

func TestAttemptRepository_SaveAnswersPreconditions(t *testing.T) {
	db := newTestDB(t)
	_, exam := seedExam(t, db)
	repo := NewAttemptRepository(db)
	ctx := context.Background()
	a := seedAttempt(t, repo, exam.ID, 7)

	if err := repo.SaveAnswers(ctx, "missing", []model.UserAnswer{answer("q1", 0, 4)}); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("unknown attempt: %v", err)
	}

	end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a.EndTime = &end
	a.IsSubmitted = true
	if err := repo.FinalizeAttempt(ctx, a); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := repo.SaveAnswers(ctx, a.ID, []model.UserAnswer{answer("q1", 0, 4)}); !errors.Is(err, ErrAttemptFrozen) {
		t.Fatalf("frozen attempt: %v", err)
	}
}

func TestAttemptRepository_Finalize(t *testing.T) {
	db := newTestDB(t)
	_, exam := seedExam(t, db)
	repo := NewAttemptRepository(db)
	ctx := context.Background()
	a := seedAttempt(t, repo, exam.ID, 7)

	if err := repo.SaveAnswers(ctx, a.ID, []model.UserAnswer{answer("q1", 0, 4), answer("stale", 0, 4)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if sub, err := repo.FindSubmittedAttempt(ctx, 7, exam.ID); err != nil || sub != nil {
		t.Fatalf("submitted before finalize = %v, %v", sub, err)
	}

	end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	final := *a
	final.EndTime = &end
	final.IsSubmitted = true
	final.Score = 58.3333
	final.TotalMarks = 7
	final.Answers = []model.UserAnswer{
		answer("q1", 0, 4),
		{QuestionID: "q2", Status: model.StatusNotAttempted},
	}
	if err := repo.FinalizeAttempt(ctx, &final); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := repo.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsSubmitted || got.Score != 58.3333 || got.TotalMarks != 7 {
		t.Fatalf("finalized attempt = %+v", got)
	}
	if len(got.Answers) != 2 {
		t.Fatalf("answers = %d, want the reconciled 2", len(got.Answers))
	}

	sub, err := repo.FindSubmittedAttempt(ctx, 7, exam.ID)
	if err != nil || sub == nil || sub.ID != a.ID {
		t.Fatalf("submitted attempt = %v, %v", sub, err)
	}

	t.Run("retry of the same finalisation succeeds", func(t *testing.T) {
		again := final
		if err := repo.FinalizeAttempt(ctx, &again); err != nil {
			t.Fatalf("idempotent finalize: %v", err)
		}
	})

	t.Run("a different finalisation is refused", func(t *testing.T) {
		later := end.Add(time.Hour)
		other := final
		other.EndTime = &later
		other.Score = 100
		if err := repo.FinalizeAttempt(ctx, &other); !errors.Is(err, ErrAttemptFrozen) {
			t.Fatalf("err = %v, want ErrAttemptFrozen", err)
		}
		got, _ := repo.GetAttempt(ctx, a.ID)
		if got.Score != 58.3333 {
			t.Fatalf("score changed to %v", got.Score)
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		missing := final
		missing.ID = "missing"
		if err := repo.FinalizeAttempt(ctx, &missing); !errors.Is(err, ErrAttemptNotFound) {
			t.Fatalf("err = %v, want ErrAttemptNotFound", err)
		}
	})
}

func TestAttemptRepository_CreateIsRetrySafe(t *testing.T) {
	db := newTestDB(t)
	_, exam := seedExam(t, db)
	repo := NewAttemptRepository(db)
	ctx := context.Background()
	a := seedAttempt(t, repo, exam.ID, 7)

	again := *a
	if err := repo.CreateAttempt(ctx, &again); err != nil {
		t.Fatalf("repeated create: %v", err)
	}
	var n int64
	db.Model(&model.ExamAttempt{}).Where("id = ?", a.ID).Count(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	foreign := *a
	foreign.UserID = 8
	if err := repo.CreateAttempt(ctx, &foreign); !errors.Is(err, ErrAttemptIDTaken) {
		t.Fatalf("foreign create: %v, want ErrAttemptIDTaken", err)
	}

	end := a.StartTime.Add(time.Hour)
	final := *a
	final.EndTime = &end
	final.IsSubmitted = true
	if err := repo.FinalizeAttempt(ctx, &final); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := repo.CreateAttempt(ctx, &again); !errors.Is(err, ErrAttemptFrozen) {
		t.Fatalf("create over submitted: %v, want ErrAttemptFrozen", err)
	}
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// lostAckAttempts 第一次写入真正提交，但向调用方报告超时
type lostAckAttempts struct {
	*AttemptRepository
	creates int
}

func (l *lostAckAttempts) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	l.creates++
	if err := l.AttemptRepository.CreateAttempt(ctx, a); err != nil {
		return err
	}
	if l.creates == 1 {
		return context.DeadlineExceeded
	}
	return nil
}

func TestStartExamSurvivesLostCreateAck(t *testing.T) {
	db := newTestDB(t)
	exams, exam := seedExam(t, db)
	if err := NewQuestionRepository(db).Create(single(exam.ID, 1, 0)); err != nil {
		t.Fatalf("create question: %v", err)
	}
	attempts := &lostAckAttempts{AttemptRepository: NewAttemptRepository(db)}

	policy := attempt.DefaultPolicy()
	policy.AnswerRetry.InitialDelay = time.Millisecond
	mgr := attempt.NewManager(7, attempt.Deps{
		Exams:    exams,
		Attempts: attempts,
		Clock:    fixedClock(exam.StartAt.Add(time.Minute)),
	}, policy)

	out, err := mgr.StartExam(context.Background(), exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !mgr.Attempting() || attempts.creates != 2 {
		t.Fatalf("attempting = %v, creates = %d", mgr.Attempting(), attempts.creates)
	}
	var n int64
	db.Model(&model.ExamAttempt{}).Where("user_id = ?", 7).Count(&n)
	if n != 1 {
		t.Fatalf("attempt rows = %d, want 1", n)
	}
	if _, err := attempts.GetAttempt(context.Background(), out.Attempt.ID); err != nil {
		t.Fatalf("stored attempt: %v", err)
	}
}

func TestRankingRepository_Replace(t *testing.T) {
	db := newTestDB(t)
	exams, exam := seedExam(t, db)
	repo := NewRankingRepository(db)
	ctx := context.Background()

	first := []model.Ranking{
		{ExamID: exam.ID, UserID: 2, DisplayName: "b", Score: 50, Rank: 2},
		{ExamID: exam.ID, UserID: 1, DisplayName: "a", Score: 90, Rank: 1},
	}
	if err := repo.Replace(ctx, exam.ID, first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	second := []model.Ranking{
		{ExamID: exam.ID, UserID: 3, DisplayName: "c", Score: 70, Rank: 1},
		{ExamID: exam.ID, UserID: 2, DisplayName: "b", Score: 70, Rank: 1},
		{ExamID: exam.ID, UserID: 1, DisplayName: "a", Score: 60, Rank: 3},
	}
	if err := repo.Replace(ctx, exam.ID, second); err != nil {
		t.Fatalf("replace again: %v", err)
	}

	list, err := repo.ListByExam(ctx, exam.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []uint{2, 3, 1}
	if len(list) != len(want) {
		t.Fatalf("rankings = %d, want %d", len(list), len(want))
	}
	for i, r := range list {
		if r.UserID != want[i] {
			t.Fatalf("position %d user = %d, want %d", i, r.UserID, want[i])
		}
	}

	got, _ := exams.FindByID(exam.ID)
	if !got.ResultReleased {
		t.Fatal("exam not marked as released")
	}
}

func TestUserRepository_NamesByIDs(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)

	for _, name := range []string{"Asha", "Ravi"} {
		u := &model.User{Name: name, Email: strings.ToLower(name) + "@example.com", Password: "x", Role: model.Student}
		if err := users.Create(u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	names, err := users.NamesByIDs([]uint{1, 2, 99})
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if names[1] != "Asha" || names[2] != "Ravi" || len(names) != 2 {
		t.Fatalf("names = %v", names)
	}

	if _, err := users.FindByEmail("nobody@example.com"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("missing email: %v", err)
	}
}
