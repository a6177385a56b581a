package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SnapshotInvalidator 题目变更后清除共享快照缓存
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, examID string) error
}

type ExamService struct {
	Exams     *repository.ExamRepository
	Questions *repository.QuestionRepository
	Cache     SnapshotInvalidator
	Storage   *StorageService
	now       func() time.Time
}

func NewExamService(exams *repository.ExamRepository, questions *repository.QuestionRepository, cache SnapshotInvalidator, storage *StorageService) *ExamService {
	return &ExamService{Exams: exams, Questions: questions, Cache: cache, Storage: storage, now: time.Now}
}

type ExamReq struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	DurationMinutes *int       `json:"durationMinutes"`
	StartAt         *time.Time `json:"startAt"`
	EndAt           *time.Time `json:"endAt"`
	IsActive        *bool      `json:"isActive"`
	Subjects        []string   `json:"subjects"`
}

type QuestionReq struct {
	SubjectID     string             `json:"subjectId"`
	Prompt        string             `json:"prompt" binding:"required"`
	PromptAlt     string             `json:"promptAlt"`
	Options       []string           `json:"options"`
	Type          model.QuestionType `json:"type" binding:"required"`
	CorrectAnswer model.Answer       `json:"correctAnswer"`
	Marks         float64            `json:"marks"`
	NegativeMarks float64            `json:"negativeMarks"`
	Order         int                `json:"order"`
}

// ExamDetail 学生视角的考试详情，不含标准答案；开考前只有考试信息
type ExamDetail struct {
	Exam               *model.Exam            `json:"exam"`
	QuestionsAvailable bool                   `json:"questionsAvailable"`
	Questions          []model.PublicQuestion `json:"questions"`
}

func applyExamReq(exam *model.Exam, req ExamReq) error {
	if req.Title != nil {
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = *req.Description
	}
	if req.DurationMinutes != nil {
		exam.DurationMinutes = *req.DurationMinutes
	}
	if req.StartAt != nil {
		exam.StartAt = req.StartAt
	}
	if req.EndAt != nil {
		exam.EndAt = req.EndAt
	}
	if req.IsActive != nil {
		exam.IsActive = *req.IsActive
	}
	if req.Subjects != nil {
		exam.Subjects = datatypes.JSONSlice[string](req.Subjects)
	}

	if exam.Title == "" {
		return fmt.Errorf("%w: title is required", util.ErrInvalidExam)
	}
	if exam.DurationMinutes < 0 {
		return fmt.Errorf("%w: durationMinutes must not be negative", util.ErrInvalidExam)
	}
	if exam.HasWindow() && !exam.EndAt.After(*exam.StartAt) {
		return fmt.Errorf("%w: endAt must be after startAt", util.ErrInvalidExam)
	}
	return nil
}

func (s *ExamService) CreateExam(creatorID uint, req ExamReq) (*model.Exam, error) {
	exam := &model.Exam{CreatorID: creatorID}
	if err := applyExamReq(exam, req); err != nil {
		return nil, err
	}
	if err := s.Exams.Create(exam); err != nil {
		return nil, err
	}
	logger.Log.Info("Exam created", zap.String("examId", exam.ID), zap.Uint("creatorId", creatorID))
	return exam, nil
}

func (s *ExamService) UpdateExam(ctx context.Context, examID string, req ExamReq) (*model.Exam, error) {
	exam, err := s.findExam(examID)
	if err != nil {
		return nil, err
	}
	if err := applyExamReq(exam, req); err != nil {
		return nil, err
	}
	if err := s.Exams.Update(exam); err != nil {
		return nil, err
	}
	s.invalidate(ctx, examID)
	return exam, nil
}

func (s *ExamService) DeleteExam(ctx context.Context, examID string) error {
	if _, err := s.findExam(examID); err != nil {
		return err
	}
	if err := s.Exams.Delete(examID); err != nil {
		return err
	}
	s.invalidate(ctx, examID)
	if s.Storage != nil {
		if err := s.Storage.Delete(ctx, rankingArchiveName(examID)); err != nil {
			logger.Log.Warn("Failed to remove ranking archive", zap.String("examId", examID), zap.Error(err))
		}
	}
	return nil
}

// CompleteExam 标记考试结束，之后不再出现在学生列表中
func (s *ExamService) CompleteExam(examID string) error {
	err := s.Exams.SetFlags(examID, map[string]interface{}{"is_completed": true, "is_active": false})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return attempt.ErrExamNotFound
	}
	return err
}

func (s *ExamService) ListActive() ([]model.Exam, error) {
	return s.Exams.ListActive(s.now())
}

func (s *ExamService) ListAll(page, limit int) ([]model.Exam, int64, error) {
	return s.Exams.List(page, limit)
}

func (s *ExamService) GetDetail(ctx context.Context, examID string) (*ExamDetail, error) {
	exam, err := s.Exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	detail := &ExamDetail{Exam: exam, Questions: []model.PublicQuestion{}}
	if !exam.IsActive || !exam.HasWindow() || s.now().Before(*exam.StartAt) {
		return detail, nil
	}

	qs, err := s.Questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	detail.QuestionsAvailable = true
	detail.Questions = make([]model.PublicQuestion, len(qs))
	for i := range qs {
		detail.Questions[i] = qs[i].Public()
	}
	return detail, nil
}

// AdminQuestions 管理端查看，含标准答案
func (s *ExamService) AdminQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	if _, err := s.Exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.Questions.ListByExam(ctx, examID)
}

func buildQuestion(q *model.Question, req QuestionReq) error {
	q.SubjectID = req.SubjectID
	q.Prompt = req.Prompt
	q.PromptAlt = req.PromptAlt
	q.Options = datatypes.JSONSlice[string](req.Options)
	q.Type = req.Type
	q.CorrectAnswer = datatypes.NewJSONType(req.CorrectAnswer)
	q.Marks = req.Marks
	q.NegativeMarks = req.NegativeMarks
	q.Order = req.Order
	return q.Validate()
}

func (s *ExamService) AddQuestion(ctx context.Context, examID string, req QuestionReq) (*model.Question, error) {
	if _, err := s.findExam(examID); err != nil {
		return nil, err
	}
	q := &model.Question{ExamID: examID}
	if err := buildQuestion(q, req); err != nil {
		return nil, err
	}
	if err := s.Questions.Create(q); err != nil {
		return nil, err
	}
	s.invalidate(ctx, examID)
	return q, nil
}

func (s *ExamService) UpdateQuestion(ctx context.Context, questionID string, req QuestionReq) (*model.Question, error) {
	q, err := s.Questions.FindByID(questionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := buildQuestion(q, req); err != nil {
		return nil, err
	}
	if err := s.Questions.Update(q); err != nil {
		return nil, err
	}
	s.invalidate(ctx, q.ExamID)
	return q, nil
}

func (s *ExamService) DeleteQuestion(ctx context.Context, questionID string) error {
	q, err := s.Questions.FindByID(questionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrQuestionNotFound
	}
	if err != nil {
		return err
	}
	if err := s.Questions.Delete(questionID); err != nil {
		return err
	}
	s.invalidate(ctx, q.ExamID)
	return nil
}

func (s *ExamService) findExam(examID string) (*model.Exam, error) {
	exam, err := s.Exams.FindByID(examID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", attempt.ErrExamNotFound, examID)
	}
	return exam, err
}

func (s *ExamService) invalidate(ctx context.Context, examID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, examID); err != nil {
		logger.Log.Warn("Failed to invalidate exam snapshot", zap.String("examId", examID), zap.Error(err))
	}
}
