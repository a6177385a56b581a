// Package scoring 计算单题得分，纯函数，不依赖持久化
package scoring

import (
	"math"
	"sort"

	"exam_portal_backend/internal/model"
)

// IsEmpty 判断作答是否为空（未作答不扣分）
func IsEmpty(q model.Question, a model.Answer) bool {
	if q.Type == model.QuestionInteger {
		return a.Value == nil
	}
	return len(a.Options) == 0
}

// Score 返回本题得分：答对得满分，答错扣除负分，未作答或未知题型得 0
func Score(q model.Question, a model.Answer) float64 {
	if IsEmpty(q, a) {
		return 0
	}

	var correct bool
	key := q.CorrectAnswer.Data()
	switch q.Type {
	case model.QuestionSingle:
		correct = len(a.Options) == 1 && len(key.Options) == 1 && a.Options[0] == key.Options[0]
	case model.QuestionMultiple:
		correct = sameSet(a.Options, key.Options)
	case model.QuestionInteger:
		correct = key.Value != nil && *a.Value == *key.Value
	default:
		return 0
	}

	if correct {
		return q.Marks
	}
	if q.NegativeMarks == 0 {
		return 0
	}
	return -math.Abs(q.NegativeMarks)
}

// sameSet 精确集合比较，不给部分分；重复下标视为同一个
func sameSet(a, b []int) bool {
	x, y := dedupe(a), dedupe(b)
	if len(x) != len(y) || len(x) == 0 {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func dedupe(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}
