package attempt

import (
	"context"
	"fmt"

	"exam_portal_backend/internal/model"
	"exam_portal_backend/pkg/retry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SubmitExam 交卷：补齐每道题的作答状态，汇总得分并持久化。
// 持久化失败时保持 InProgress，调用方可以再次提交。
func (m *Manager) SubmitExam(ctx context.Context) (*model.ExamAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state.(*InProgress)
	if !ok {
		return nil, ErrNoActiveAttempt
	}

	visited, err := readIDSet(ctx, m.backup, visitedKey(st.Attempt.ID))
	if err != nil {
		m.log.Warn("Visited set unreadable, treating as empty", zap.String("attemptId", st.Attempt.ID), zap.Error(err))
	}
	review, err := readIDSet(ctx, m.backup, reviewKey(st.Attempt.ID))
	if err != nil {
		m.log.Warn("Review set unreadable, treating as empty", zap.String("attemptId", st.Attempt.ID), zap.Error(err))
	}

	answers := reconcile(st, visited, review)
	score, total := aggregate(st.Questions, answers)

	now := m.clock.Now()
	final := st.Attempt
	final.EndTime = &now
	final.IsSubmitted = true
	final.Score = score
	final.TotalMarks = total
	final.Answers = answers

	err = retry.Do(ctx, m.policy.SubmitRetry, func(ctx context.Context) error {
		return m.attempts.FinalizeAttempt(ctx, &final)
	}, m.retryHook("finalize_attempt"))
	if err != nil {
		m.log.Error("Failed to submit exam", zap.String("attemptId", final.ID), zap.Error(err))
		return nil, fmt.Errorf("submit attempt %s: %w", final.ID, err)
	}

	if err := m.backup.Remove(ctx, BackupKeys(final.ID)...); err != nil {
		m.log.Warn("Failed to clear answer backup", zap.String("attemptId", final.ID), zap.Error(err))
	}

	m.state = &Submitted{Attempt: final}
	m.attempting = false
	m.log.Info("Exam submitted",
		zap.String("attemptId", final.ID),
		zap.Float64("score", final.Score),
		zap.Float64("totalMarks", final.TotalMarks))

	if m.pub != nil {
		m.pub.Publish(ctx, Snapshot{
			AttemptID: final.ID,
			ExamID:    final.ExamID,
			UserID:    m.userID,
			Answered:  len(st.Answers),
			Submitted: true,
			At:        now,
		})
	}

	out := final
	return &out, nil
}

// reconcile 为每道题生成且只生成一条记录，顺序与题目顺序一致
func reconcile(st *InProgress, visited, review map[string]bool) []model.UserAnswer {
	out := make([]model.UserAnswer, 0, len(st.Questions))
	for _, q := range st.Questions {
		if a, ok := st.Answers[q.ID]; ok {
			a.Status = model.StatusAnswered
			if review[q.ID] {
				a.Status = model.StatusMarkedForReview
			}
			out = append(out, a)
			continue
		}

		// 未作答的题只有浏览过才区分 visited / marked_for_review
		a := model.UserAnswer{
			AttemptID:  st.Attempt.ID,
			QuestionID: q.ID,
			Answer:     datatypes.NewJSONType(model.Answer{}),
			Status:     model.StatusNotAttempted,
		}
		switch {
		case visited[q.ID] && review[q.ID]:
			a.Status = model.StatusMarkedForReview
		case visited[q.ID]:
			a.Status = model.StatusVisited
		}
		out = append(out, a)
	}
	return out
}

// aggregate 返回百分制得分和得分总和。
// 得分不做截断，负分卷面会得到负百分比；总分为 0 时得分为 0。
func aggregate(questions []model.Question, answers []model.UserAnswer) (score, earned float64) {
	possible := decimal.Zero
	for _, q := range questions {
		possible = possible.Add(decimal.NewFromFloat(q.Marks))
	}
	sum := decimal.Zero
	for _, a := range answers {
		sum = sum.Add(decimal.NewFromFloat(a.MarksEarned))
	}

	earned = sum.InexactFloat64()
	if possible.IsZero() {
		return 0, earned
	}
	return sum.Mul(decimal.NewFromInt(100)).Div(possible).Round(4).InexactFloat64(), earned
}
