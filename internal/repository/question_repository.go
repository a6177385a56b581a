package repository

import (
	"context"

	"exam_portal_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

var byOrder = clause.OrderBy{Columns: []clause.OrderByColumn{
	{Column: clause.Column{Name: "order"}},
	{Column: clause.Column{Name: "created_at"}},
}}

// Create 新增题目并同步考试的题目数
func (r *QuestionRepository) Create(q *model.Question) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(q).Error; err != nil {
			return err
		}
		return syncQuestionCount(tx, q.ExamID)
	})
}

func (r *QuestionRepository) FindByID(id string) (*model.Question, error) {
	var q model.Question
	err := r.DB.First(&q, "id = ?", id).Error
	return &q, err
}

func (r *QuestionRepository) Update(q *model.Question) error {
	return r.DB.Save(q).Error
}

func (r *QuestionRepository) Delete(id string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var q model.Question
		if err := tx.First(&q, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&q).Error; err != nil {
			return err
		}
		return syncQuestionCount(tx, q.ExamID)
	})
}

// ListByExam 按顺序返回题目，每道题在这里完成结构校验
func (r *QuestionRepository) ListByExam(ctx context.Context, examID string) ([]model.Question, error) {
	var qs []model.Question
	if err := r.DB.WithContext(ctx).Where("exam_id = ?", examID).Clauses(byOrder).Find(&qs).Error; err != nil {
		return nil, err
	}
	for i := range qs {
		if err := qs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return qs, nil
}

func syncQuestionCount(tx *gorm.DB, examID string) error {
	var n int64
	if err := tx.Model(&model.Question{}).Where("exam_id = ?", examID).Count(&n).Error; err != nil {
		return err
	}
	return tx.Model(&model.Exam{}).Where("id = ?", examID).Update("question_count", n).Error
}
