package model

import (
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
	QuestionInteger  QuestionType = "integer"
)

// Answer 同时用于标准答案和学生作答：选择题使用 Options（选项下标），数值题使用 Value
type Answer struct {
	Options []int    `json:"options,omitempty"`
	Value   *float64 `json:"value,omitempty"`
}

// swagger:model Question
type Question struct {
	UUIDBase
	ExamID        string                      `gorm:"index;type:varchar(36)" json:"examId"`
	SubjectID     string                      `gorm:"size:64" json:"subjectId"`
	Prompt        string                      `gorm:"type:text;not null" json:"prompt"`
	PromptAlt     string                      `gorm:"type:text" json:"promptAlt,omitempty"`
	Options       datatypes.JSONSlice[string] `json:"options"`
	Type          QuestionType                `gorm:"size:20;not null" json:"type"`
	CorrectAnswer datatypes.JSONType[Answer]  `json:"correctAnswer"`
	Marks         float64                     `gorm:"default:0" json:"marks"`
	NegativeMarks float64                     `gorm:"default:0" json:"negativeMarks"`
	Order         int                         `gorm:"default:0" json:"order"`
}

func (Question) TableName() string {
	return "questions"
}

var ErrInvalidQuestion = errors.New("invalid question")

// Validate 在读写边界校验题目结构，之后的逻辑不再重复判断
func (q *Question) Validate() error {
	key := q.CorrectAnswer.Data()
	inRange := func(idx []int) error {
		for _, i := range idx {
			if i < 0 || i >= len(q.Options) {
				return fmt.Errorf("%w: %s: option index %d out of range", ErrInvalidQuestion, q.ID, i)
			}
		}
		return nil
	}

	if q.Marks < 0 || q.NegativeMarks < 0 {
		return fmt.Errorf("%w: %s: marks must not be negative", ErrInvalidQuestion, q.ID)
	}

	switch q.Type {
	case QuestionSingle:
		if len(key.Options) != 1 {
			return fmt.Errorf("%w: %s: single choice needs exactly one correct option", ErrInvalidQuestion, q.ID)
		}
		return inRange(key.Options)
	case QuestionMultiple:
		if len(key.Options) == 0 {
			return fmt.Errorf("%w: %s: multiple choice needs at least one correct option", ErrInvalidQuestion, q.ID)
		}
		return inRange(key.Options)
	case QuestionInteger:
		if key.Value == nil {
			return fmt.Errorf("%w: %s: integer question needs a correct value", ErrInvalidQuestion, q.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidQuestion, q.ID, q.Type)
	}
}

// PublicQuestion 学生答题时可见的题目（不含标准答案）
type PublicQuestion struct {
	ID            string       `json:"id"`
	SubjectID     string       `json:"subjectId"`
	Prompt        string       `json:"prompt"`
	PromptAlt     string       `json:"promptAlt,omitempty"`
	Options       []string     `json:"options"`
	Type          QuestionType `json:"type"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negativeMarks"`
	Order         int          `json:"order"`
}

func (q *Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:            q.ID,
		SubjectID:     q.SubjectID,
		Prompt:        q.Prompt,
		PromptAlt:     q.PromptAlt,
		Options:       []string(q.Options),
		Type:          q.Type,
		Marks:         q.Marks,
		NegativeMarks: q.NegativeMarks,
		Order:         q.Order,
	}
}
