package attempt

import (
	"context"
	"errors"
	"testing"

	"exam_portal_backend/internal/model"

	"github.com/shopspring/decimal"
)

func TestSubmitExamWithoutAttempt(t *testing.T) {
	f := newFixture()
	if _, err := f.mgr.SubmitExam(context.Background()); !errors.Is(err, ErrNoActiveAttempt) {
		t.Fatalf("SubmitExam() error = %v, want ErrNoActiveAttempt", err)
	}
}

func TestSubmitExamCompleteness(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	out, err := f.mgr.StartExam(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}

	f.mgr.SubmitAnswer(ctx, "q1", model.Answer{Options: []int{0}})
	f.mgr.SubmitAnswer(ctx, "q1", model.Answer{Options: []int{0}})
	if err := f.mgr.MarkVisited(ctx, "q2"); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.MarkForReview(ctx, "q1", true); err != nil {
		t.Fatal(err)
	}

	got, err := f.mgr.SubmitExam(ctx)
	if err != nil {
		t.Fatalf("SubmitExam() error: %v", err)
	}

	want := []struct {
		id     string
		status model.AnswerStatus
	}{
		{"q1", model.StatusMarkedForReview},
		{"q2", model.StatusVisited},
		{"q3", model.StatusNotAttempted},
	}
	if len(got.Answers) != len(want) {
		t.Fatalf("answers = %d, want %d", len(got.Answers), len(want))
	}
	for i, w := range want {
		a := got.Answers[i]
		if a.QuestionID != w.id || a.Status != w.status {
			t.Errorf("answer[%d] = %s/%s, want %s/%s", i, a.QuestionID, a.Status, w.id, w.status)
		}
		if a.AttemptID != out.Attempt.ID {
			t.Errorf("answer[%d] attempt = %s", i, a.AttemptID)
		}
	}
	if got.Answers[1].MarksEarned != 0 || got.Answers[2].MarksEarned != 0 {
		t.Error("unanswered questions earned marks")
	}
	if !got.IsSubmitted || got.EndTime == nil || !got.EndTime.Equal(f.clock.Now()) {
		t.Errorf("attempt not frozen: %+v", got)
	}
	if len(f.attempts.finalized) != 1 {
		t.Fatalf("finalized %d times, want 1", len(f.attempts.finalized))
	}
}

func TestReconcileStatuses(t *testing.T) {
	snap := &ExamSnapshot{Questions: []model.Question{single("q1", 0, 1), single("q2", 0, 2), single("q3", 0, 3), single("q4", 0, 4)}}
	st := newInProgress(model.ExamAttempt{ID: "a1"}, snap)
	st.Answers["q1"] = model.UserAnswer{AttemptID: "a1", QuestionID: "q1", MarksEarned: 4}

	tests := []struct {
		name    string
		visited []string
		review  []string
		want    []model.AnswerStatus
	}{
		{"nothing tracked", nil, nil,
			[]model.AnswerStatus{model.StatusAnswered, model.StatusNotAttempted, model.StatusNotAttempted, model.StatusNotAttempted}},
		{"answered and flagged", nil, []string{"q1"},
			[]model.AnswerStatus{model.StatusMarkedForReview, model.StatusNotAttempted, model.StatusNotAttempted, model.StatusNotAttempted}},
		{"visited with and without flag", []string{"q2", "q3"}, []string{"q3"},
			[]model.AnswerStatus{model.StatusAnswered, model.StatusVisited, model.StatusMarkedForReview, model.StatusNotAttempted}},
		{"flag without visit", nil, []string{"q4"},
			[]model.AnswerStatus{model.StatusAnswered, model.StatusNotAttempted, model.StatusNotAttempted, model.StatusNotAttempted}},
	}
	toSet := func(ids []string) map[string]bool {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		return set
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reconcile(st, toSet(tt.visited), toSet(tt.review))
			if len(got) != len(tt.want) {
				t.Fatalf("entries = %d, want %d", len(got), len(tt.want))
			}
			for i, w := range tt.want {
				if got[i].Status != w {
					t.Errorf("%s status = %s, want %s", got[i].QuestionID, got[i].Status, w)
				}
			}
		})
	}
}

func TestSubmitExamAggregation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.mgr.StartExam(ctx, "exam-1"); err != nil {
		t.Fatal(err)
	}

	f.mgr.SubmitAnswer(ctx, "q1", model.Answer{Options: []int{0}}) // +4
	f.mgr.SubmitAnswer(ctx, "q2", model.Answer{Options: []int{3}}) // -1
	f.mgr.SubmitAnswer(ctx, "q3", model.Answer{Value: floatPtr(42)})

	got, err := f.mgr.SubmitExam(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalMarks != 7 {
		t.Errorf("total = %v, want 7", got.TotalMarks)
	}
	// 7 / 12 * 100
	if got.Score != 58.3333 {
		t.Errorf("score = %v, want 58.3333", got.Score)
	}

	persisted := f.attempts.finalized[0]
	sum := decimal.Zero
	for _, a := range persisted.Answers {
		sum = sum.Add(decimal.NewFromFloat(a.MarksEarned))
	}
	if !sum.Equal(decimal.NewFromFloat(persisted.TotalMarks)) {
		t.Errorf("sum of marks %s != stored total %v", sum, persisted.TotalMarks)
	}
}

func TestAggregate(t *testing.T) {
	q := func(marks float64) model.Question { return model.Question{Marks: marks} }
	a := func(earned float64) model.UserAnswer { return model.UserAnswer{MarksEarned: earned} }

	tests := []struct {
		name       string
		questions  []model.Question
		answers    []model.UserAnswer
		wantScore  float64
		wantEarned float64
	}{
		{"no questions", nil, nil, 0, 0},
		{"zero possible marks", []model.Question{q(0)}, []model.UserAnswer{a(0)}, 0, 0},
		{"full marks", []model.Question{q(4), q(4)}, []model.UserAnswer{a(4), a(4)}, 100, 8},
		{"negative total", []model.Question{q(4), q(4)}, []model.UserAnswer{a(-1), a(-1)}, -25, -2},
		{"fractional marks", []model.Question{q(0.1), q(0.2)}, []model.UserAnswer{a(0.1), a(0.2)}, 100, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, earned := aggregate(tt.questions, tt.answers)
			if score != tt.wantScore || earned != tt.wantEarned {
				t.Errorf("aggregate() = %v, %v, want %v, %v", score, earned, tt.wantScore, tt.wantEarned)
			}
		})
	}
}

func TestSubmitExamClearsBackup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	out, err := f.mgr.StartExam(ctx, "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	f.mgr.SubmitAnswer(ctx, "q1", model.Answer{Options: []int{1}})
	_ = f.mgr.MarkVisited(ctx, "q1")
	_ = f.mgr.MarkForReview(ctx, "q1", true)

	if _, err := f.mgr.SubmitExam(ctx); err != nil {
		t.Fatal(err)
	}
	for _, key := range BackupKeys(out.Attempt.ID) {
		if _, ok, _ := f.backup.Get(ctx, key); ok {
			t.Errorf("backup key %s still present", key)
		}
	}
	if _, ok := f.mgr.State().(*Submitted); !ok {
		t.Errorf("state = %s, want submitted", f.mgr.State().Name())
	}
	if f.mgr.Attempting() {
		t.Error("attempting flag still set")
	}
	if _, err := f.mgr.SubmitExam(ctx); !errors.Is(err, ErrNoActiveAttempt) {
		t.Errorf("second submit error = %v, want ErrNoActiveAttempt", err)
	}

	// 已交卷后再次开考应跳转
	again, err := f.mgr.StartExam(ctx, "exam-1")
	if err != nil || !again.AlreadyCompleted {
		t.Errorf("restart = %+v, %v, want redirect", again, err)
	}
}

func TestSubmitExamRetryBudget(t *testing.T) {
	t.Run("transient failures recover", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		if _, err := f.mgr.StartExam(ctx, "exam-1"); err != nil {
			t.Fatal(err)
		}
		f.attempts.failFinalize = 4

		if _, err := f.mgr.SubmitExam(ctx); err != nil {
			t.Fatalf("SubmitExam() error: %v", err)
		}
		if f.attempts.finalCalls != 5 {
			t.Errorf("finalize calls = %d, want 5", f.attempts.finalCalls)
		}
	})

	t.Run("persistent failure surfaces and keeps attempt", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		out, err := f.mgr.StartExam(ctx, "exam-1")
		if err != nil {
			t.Fatal(err)
		}
		f.mgr.SubmitAnswer(ctx, "q1", model.Answer{Options: []int{0}})
		f.attempts.failFinalize = -1

		if _, err := f.mgr.SubmitExam(ctx); !errors.Is(err, errBackend) {
			t.Fatalf("SubmitExam() error = %v, want backend error", err)
		}
		if f.attempts.finalCalls != 5 {
			t.Errorf("finalize calls = %d, want 5", f.attempts.finalCalls)
		}
		if _, ok := f.mgr.State().(*InProgress); !ok {
			t.Errorf("state = %s, want in_progress", f.mgr.State().Name())
		}
		if _, ok, _ := f.backup.Get(ctx, answersKey(out.Attempt.ID)); !ok {
			t.Error("backup cleared after failed submit")
		}

		f.attempts.failFinalize = 0
		if _, err := f.mgr.SubmitExam(ctx); err != nil {
			t.Fatalf("retry after outage: %v", err)
		}
	})
}

func TestReconcileEmptyAnswerShape(t *testing.T) {
	st := &InProgress{
		Attempt:   model.ExamAttempt{ID: "a1"},
		Questions: []model.Question{integer("q9", 1, 1)},
		Answers:   map[string]model.UserAnswer{},
	}
	got := reconcile(st, nil, map[string]bool{"q9": true})
	if len(got) != 1 || got[0].Status != model.StatusMarkedForReview {
		t.Fatalf("reconcile() = %+v", got)
	}
	if got[0].Answer.Data().Value != nil || len(got[0].Answer.Data().Options) != 0 {
		t.Error("unanswered entry should carry an empty answer")
	}
}
