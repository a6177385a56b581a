package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/util"
)

func at(min int) *time.Time {
	t := examStart.Add(time.Duration(min) * time.Minute)
	return &t
}

func TestRank(t *testing.T) {
	names := map[uint]string{1: "Asha", 2: "Ravi", 3: "Meera", 4: "Kabir"}

	tests := []struct {
		name      string
		attempts  []model.ExamAttempt
		wantUsers []uint
		wantRanks []int
	}{
		{
			name:      "empty",
			attempts:  nil,
			wantUsers: []uint{},
			wantRanks: []int{},
		},
		{
			name: "equal scores share a rank and skip the next",
			attempts: []model.ExamAttempt{
				{UserID: 1, Score: 80, EndTime: at(50)},
				{UserID: 2, Score: 90, EndTime: at(60)},
				{UserID: 3, Score: 80, EndTime: at(40)},
				{UserID: 4, Score: 70, EndTime: at(30)},
			},
			wantUsers: []uint{2, 3, 1, 4},
			wantRanks: []int{1, 2, 2, 4},
		},
		{
			name: "best attempt per user counts",
			attempts: []model.ExamAttempt{
				{UserID: 1, Score: 40, EndTime: at(20)},
				{UserID: 1, Score: 95, EndTime: at(70)},
				{UserID: 2, Score: 90, EndTime: at(30)},
			},
			wantUsers: []uint{1, 2},
			wantRanks: []int{1, 2},
		},
		{
			name: "missing end time falls back to user id",
			attempts: []model.ExamAttempt{
				{UserID: 3, Score: 50},
				{UserID: 2, Score: 50, EndTime: at(10)},
			},
			wantUsers: []uint{2, 3},
			wantRanks: []int{1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rank("exam-1", tt.attempts, names)
			if len(got) != len(tt.wantUsers) {
				t.Fatalf("rankings = %d, want %d", len(got), len(tt.wantUsers))
			}
			for i, r := range got {
				if r.UserID != tt.wantUsers[i] || r.Rank != tt.wantRanks[i] {
					t.Fatalf("position %d = user %d rank %d, want user %d rank %d",
						i, r.UserID, r.Rank, tt.wantUsers[i], tt.wantRanks[i])
				}
				if r.ExamID != "exam-1" || r.DisplayName != names[r.UserID] {
					t.Fatalf("position %d = %+v", i, r)
				}
			}
		})
	}
}

func TestRankingService_ReleaseAndList(t *testing.T) {
	r := newRepos(newTestDB(t))
	exam, _ := seedExam(t, r)
	ctx := context.Background()
	dir := t.TempDir()
	storage := NewStorageService(&config.Config{Storage: config.StorageConfig{Type: "local", LocalPath: dir}})
	svc := NewRankingService(r.exams, r.attempts, r.rankings, r.users, storage)

	asha := seedUser(t, r, "Asha")
	ravi := seedUser(t, r, "Ravi")
	for i, u := range []*model.User{asha, ravi} {
		a := &model.ExamAttempt{ID: "a" + u.Name, ExamID: exam.ID, UserID: u.ID, StartTime: examStart}
		if err := r.attempts.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("create attempt: %v", err)
		}
		a.IsSubmitted = true
		a.EndTime = at(30 + i)
		a.Score = float64(60 + 20*i)
		if err := r.attempts.FinalizeAttempt(ctx, a); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	}

	if _, err := svc.List(ctx, exam.ID); !errors.Is(err, util.ErrResultsNotReleased) {
		t.Fatalf("list before release: %v", err)
	}

	res, err := svc.ReleaseResults(ctx, exam.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(res.Rankings) != 2 || res.Rankings[0].UserID != ravi.ID || res.Rankings[0].DisplayName != "Ravi" {
		t.Fatalf("rankings = %+v", res.Rankings)
	}
	if res.ArchiveURL != "/uploads/rankings/"+exam.ID+".csv" {
		t.Fatalf("archive url = %q", res.ArchiveURL)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "rankings", exam.ID+".csv"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 || lines[0] != "rank,user_id,name,score" || !strings.HasPrefix(lines[1], "1,") {
		t.Fatalf("archive = %q", raw)
	}

	list, err := svc.List(ctx, exam.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("list after release = %v, %v", list, err)
	}

	if _, err := svc.ReleaseResults(ctx, "missing"); err == nil {
		t.Fatal("release of unknown exam succeeded")
	}
}
