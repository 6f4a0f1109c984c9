package internal_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/exam-sync/internal"
	"github.com/koopa0/exam-sync/internal/storage"
	apperrors "github.com/koopa0/exam-sync/pkg/errors"
)

// recordingNotifier 記錄所有通知的測試替身
type recordingNotifier struct {
	mu      sync.Mutex
	scoped  []scopedEvent
	signals []string
}

type scopedEvent struct {
	examID string
	event  internal.EventName
}

func (n *recordingNotifier) BroadcastScoped(examID string, event internal.EventName, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scoped = append(n.scoped, scopedEvent{examID: examID, event: event})
}

func (n *recordingNotifier) SignalChange(examID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, examID)
}

func (n *recordingNotifier) scopedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.scoped)
}

// newRosterFixture 建立名冊引擎與預設場次
func newRosterFixture(t *testing.T, rooms ...*storage.Room) (*internal.Roster, *storage.Memory, *recordingNotifier) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := storage.NewMemory()
	notifier := &recordingNotifier{}

	ctx := context.Background()
	require.NoError(t, store.CreateExam(ctx, &storage.Exam{ID: "E1", Title: "期末考"}))

	for _, room := range rooms {
		require.NoError(t, store.CreateRoom(ctx, room))
	}

	return internal.NewRoster(store, notifier, nil, logger), store, notifier
}

// TestRoster_AddStudent 測試座位分配
func TestRoster_AddStudent(t *testing.T) {
	tests := []struct {
		name     string
		rooms    []*storage.Room
		setup    func(t *testing.T, roster *internal.Roster)
		examID   string
		roomID   string
		student  storage.Student
		validate func(t *testing.T, entry *storage.RosterEntry, err error, notifier *recordingNotifier)
	}{
		{
			name: "first student takes seat one",
			rooms: []*storage.Room{
				{ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 4},
			},
			examID:  "E1",
			roomID:  "R1",
			student: storage.Student{ID: "S1", Name: "王小明"},
			validate: func(t *testing.T, entry *storage.RosterEntry, err error, notifier *recordingNotifier) {
				require.NoError(t, err)
				assert.Equal(t, 1, entry.SeatIndex)
				assert.Equal(t, "S1", entry.StudentID)

				require.Len(t, notifier.scoped, 1)
				assert.Equal(t, "E1", notifier.scoped[0].examID)
				assert.Equal(t, internal.EventSeatStatusUpdated, notifier.scoped[0].event)
				assert.Equal(t, []string{"E1"}, notifier.signals)
			},
		},
		{
			name: "unknown room fails with invalid room and no broadcast",
			rooms: []*storage.Room{
				{ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 4},
			},
			examID:  "E1",
			roomID:  "does-not-exist",
			student: storage.Student{ID: "S1", Name: "王小明"},
			validate: func(t *testing.T, entry *storage.RosterEntry, err error, notifier *recordingNotifier) {
				require.Error(t, err)
				assert.True(t, apperrors.IsInvalidRoom(err))
				assert.Nil(t, entry)
				assert.Empty(t, notifier.scoped)
				assert.Empty(t, notifier.signals)
			},
		},
		{
			name: "already assigned student is rejected with placement detail",
			rooms: []*storage.Room{
				{ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 4},
				{ID: "R2", ExamID: "E1", Label: "二號試場", Index: 2, Capacity: 4},
			},
			setup: func(t *testing.T, roster *internal.Roster) {
				_, err := roster.AddStudent(context.Background(), "E1", "R1", storage.Student{ID: "S1", Name: "王小明"})
				require.NoError(t, err)
			},
			examID:  "E1",
			roomID:  "R2",
			student: storage.Student{ID: "S1", Name: "王小明"},
			validate: func(t *testing.T, entry *storage.RosterEntry, err error, notifier *recordingNotifier) {
				require.Error(t, err)
				assert.True(t, apperrors.IsAlreadyAssigned(err))

				var appErr *apperrors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Contains(t, appErr.Details, "room=R1")
				assert.Contains(t, appErr.Details, "seat=1")

				// 失敗的異動不產生額外通知（只有 setup 那一次）
				assert.Len(t, notifier.scoped, 1)
			},
		},
		{
			name: "full room is rejected",
			rooms: []*storage.Room{
				{ID: "R2", ExamID: "E1", Label: "二號試場", Index: 1, Capacity: 1},
			},
			setup: func(t *testing.T, roster *internal.Roster) {
				_, err := roster.AddStudent(context.Background(), "E1", "R2", storage.Student{ID: "S1", Name: "王小明"})
				require.NoError(t, err)
			},
			examID:  "E1",
			roomID:  "R2",
			student: storage.Student{ID: "S2", Name: "李小華"},
			validate: func(t *testing.T, entry *storage.RosterEntry, err error, notifier *recordingNotifier) {
				require.Error(t, err)
				assert.True(t, apperrors.IsRoomFull(err))
				assert.Len(t, notifier.scoped, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roster, _, notifier := newRosterFixture(t, tt.rooms...)
			if tt.setup != nil {
				tt.setup(t, roster)
			}

			entry, err := roster.AddStudent(context.Background(), tt.examID, tt.roomID, tt.student)
			tt.validate(t, entry, err, notifier)
		})
	}
}

// TestRoster_LowestFreeSeat 測試最低空位選取
func TestRoster_LowestFreeSeat(t *testing.T) {
	roster, _, _ := newRosterFixture(t, &storage.Room{
		ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 3,
	})
	ctx := context.Background()

	e1, err := roster.AddStudent(ctx, "E1", "R1", storage.Student{ID: "S1", Name: "王小明"})
	require.NoError(t, err)
	assert.Equal(t, 1, e1.SeatIndex)

	e2, err := roster.AddStudent(ctx, "E1", "R1", storage.Student{ID: "S2", Name: "李小華"})
	require.NoError(t, err)
	assert.Equal(t, 2, e2.SeatIndex)

	// 釋放一號座位後，下一位考生補回最低空位
	require.NoError(t, roster.DeleteStudent(ctx, "E1", "S1"))

	e3, err := roster.AddStudent(ctx, "E1", "R1", storage.Student{ID: "S3", Name: "張大同"})
	require.NoError(t, err)
	assert.Equal(t, 1, e3.SeatIndex)
}

// TestRoster_DeleteStudent 測試座位釋放
func TestRoster_DeleteStudent(t *testing.T) {
	roster, store, notifier := newRosterFixture(t, &storage.Room{
		ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 2,
	})
	ctx := context.Background()

	_, err := roster.AddStudent(ctx, "E1", "R1", storage.Student{ID: "S1", Name: "王小明"})
	require.NoError(t, err)

	t.Run("delete assigned student", func(t *testing.T) {
		require.NoError(t, roster.DeleteStudent(ctx, "E1", "S1"))

		_, err := store.FindEntryByStudent(ctx, "E1", "S1")
		assert.True(t, apperrors.IsNotFound(err))
		assert.Equal(t, 2, notifier.scopedCount())
	})

	t.Run("delete unassigned student fails", func(t *testing.T) {
		err := roster.DeleteStudent(ctx, "E1", "S1")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotAssigned(err))

		// 失敗不產生通知
		assert.Equal(t, 2, notifier.scopedCount())
	})
}

// TestRoster_CapacityInvariant 測試並發下的容量不變量
//
// 容量 c 的試場面對任意數量的並發 addStudent，成功數永遠
// 不超過 c，其餘全部以 RoomFull 失敗。
func TestRoster_CapacityInvariant(t *testing.T) {
	const (
		capacity    = 5
		numAttempts = 20
	)

	roster, store, _ := newRosterFixture(t, &storage.Room{
		ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: capacity,
	})

	var (
		wg        sync.WaitGroup
		succeeded int32
		roomFull  int32
	)

	for i := 0; i < numAttempts; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			_, err := roster.AddStudent(context.Background(), "E1", "R1", storage.Student{
				ID:   fmt.Sprintf("S%d", id),
				Name: fmt.Sprintf("考生%d", id),
			})

			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case apperrors.IsRoomFull(err):
				atomic.AddInt32(&roomFull, 1)
			default:
				t.Errorf("非預期錯誤: %v", err)
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(capacity), succeeded)
	assert.Equal(t, int32(numAttempts-capacity), roomFull)

	// 存儲層的記錄數與座位索引也必須一致
	entries, err := store.ListEntriesByRoom(context.Background(), "E1", "R1")
	require.NoError(t, err)
	require.Len(t, entries, capacity)

	seen := make(map[int]bool)
	for _, entry := range entries {
		assert.GreaterOrEqual(t, entry.SeatIndex, 1)
		assert.LessOrEqual(t, entry.SeatIndex, capacity)
		assert.False(t, seen[entry.SeatIndex], "座位 %d 被重複分配", entry.SeatIndex)
		seen[entry.SeatIndex] = true
	}
}

// TestRoster_UniquenessInvariant 測試並發下的唯一不變量
func TestRoster_UniquenessInvariant(t *testing.T) {
	roster, store, _ := newRosterFixture(t,
		&storage.Room{ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 10},
		&storage.Room{ID: "R2", ExamID: "E1", Label: "二號試場", Index: 2, Capacity: 10},
	)

	var (
		wg        sync.WaitGroup
		succeeded int32
	)

	// 同一考生被並發分配到兩個試場，只能有一次成功
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			roomID := "R1"
			if id%2 == 0 {
				roomID = "R2"
			}

			_, err := roster.AddStudent(context.Background(), "E1", roomID, storage.Student{
				ID: "S1", Name: "王小明",
			})
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			} else {
				assert.True(t, apperrors.IsAlreadyAssigned(err))
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(1), succeeded)

	entries, err := store.ListEntriesByExam(context.Background(), "E1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestRoster_IndependentExams 測試不同場次互不阻塞
func TestRoster_IndependentExams(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := storage.NewMemory()
	notifier := &recordingNotifier{}
	roster := internal.NewRoster(store, notifier, nil, logger)

	ctx := context.Background()
	for _, examID := range []string{"E1", "E2"} {
		require.NoError(t, store.CreateExam(ctx, &storage.Exam{ID: examID, Title: "考試"}))
		require.NoError(t, store.CreateRoom(ctx, &storage.Room{
			ID: "R1", ExamID: examID, Label: "一號試場", Index: 1, Capacity: 5,
		}))
	}

	var wg sync.WaitGroup
	for _, examID := range []string{"E1", "E2"} {
		wg.Add(1)
		go func(examID string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := roster.AddStudent(ctx, examID, "R1", storage.Student{
					ID:   fmt.Sprintf("S%d", i),
					Name: fmt.Sprintf("考生%d", i),
				})
				assert.NoError(t, err)
			}
		}(examID)
	}

	wg.Wait()

	for _, examID := range []string{"E1", "E2"} {
		entries, err := store.ListEntriesByExam(ctx, examID)
		require.NoError(t, err)
		assert.Len(t, entries, 5)
	}
}
