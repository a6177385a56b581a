package model

import (
	"time"

	"gorm.io/datatypes"
)

type AnswerStatus string

const (
	StatusAnswered        AnswerStatus = "answered"
	StatusVisited         AnswerStatus = "visited"
	StatusMarkedForReview AnswerStatus = "marked_for_review"
	StatusNotAttempted    AnswerStatus = "not_attempted"
)

// swagger:model ExamAttempt
type ExamAttempt struct {
	ID          string       `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ExamID      string       `gorm:"index;type:varchar(36)" json:"examId"`
	UserID      uint         `gorm:"index" json:"userId"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	IsSubmitted bool         `gorm:"default:false;index" json:"isSubmitted"`
	Score       float64      `gorm:"default:0" json:"score"`
	TotalMarks  float64      `gorm:"default:0" json:"totalMarks"`
	Answers     []UserAnswer `gorm:"foreignKey:AttemptID;references:ID" json:"answers"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}

// swagger:model UserAnswer
type UserAnswer struct {
	ID          uint                       `gorm:"primaryKey;autoIncrement" json:"-"`
	AttemptID   string                     `gorm:"uniqueIndex:idx_attempt_question;type:varchar(64)" json:"attemptId"`
	QuestionID  string                     `gorm:"uniqueIndex:idx_attempt_question;type:varchar(36)" json:"questionId"`
	Answer      datatypes.JSONType[Answer] `json:"answer"`
	MarksEarned float64                    `gorm:"default:0" json:"marksEarned"`
	Status      AnswerStatus               `gorm:"size:20" json:"status,omitempty"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
}

func (UserAnswer) TableName() string {
	return "attempt_answers"
}
