package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/internal/model"

	"gorm.io/gorm"
)

type ExamRepository struct {
	DB        *gorm.DB
	Questions *QuestionRepository
}

func NewExamRepository(db *gorm.DB, questions *QuestionRepository) *ExamRepository {
	return &ExamRepository{DB: db, Questions: questions}
}

func (r *ExamRepository) Create(exam *model.Exam) error {
	return r.DB.Create(exam).Error
}

func (r *ExamRepository) FindByID(id string) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.First(&exam, "id = ?", id).Error
	return &exam, err
}

func (r *ExamRepository) Update(exam *model.Exam) error {
	return r.DB.Save(exam).Error
}

// Delete 删除考试及其题目；已有答题记录保留，用于成绩追溯
func (r *ExamRepository) Delete(id string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exam_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Exam{}, "id = ?", id).Error
	})
}

func (r *ExamRepository) List(page, limit int) ([]model.Exam, int64, error) {
	var total int64
	if err := r.DB.Model(&model.Exam{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var exams []model.Exam
	query := r.DB.Order("start_at desc, created_at desc")
	if limit > 0 {
		query = query.Offset((page - 1) * limit).Limit(limit)
	}
	err := query.Find(&exams).Error
	return exams, total, err
}

// ListActive 学生可见的考试：已启用且尚未结束
func (r *ExamRepository) ListActive(now time.Time) ([]model.Exam, error) {
	var exams []model.Exam
	err := r.DB.Where("is_active = ? AND is_completed = ?", true, false).
		Where("end_at IS NULL OR end_at >= ?", now).
		Order("start_at asc").
		Find(&exams).Error
	return exams, err
}

func (r *ExamRepository) SetFlags(id string, fields map[string]interface{}) error {
	res := r.DB.Model(&model.Exam{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetExam 供答题流程使用，找不到时返回 attempt.ErrExamNotFound
func (r *ExamRepository) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.WithContext(ctx).First(&exam, "id = ?", examID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", attempt.ErrExamNotFound, examID)
	}
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *ExamRepository) ListQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	return r.Questions.ListByExam(ctx, examID)
}
