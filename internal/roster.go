package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/exam-sync/internal/storage"
	apperrors "github.com/koopa0/exam-sync/pkg/errors"
)

// 系統設計問題：
//   多位監考員同時對同一場次加人/移人，如何保證座位不超賣、
//   考生不重複分配？
//
// 核心挑戰：
//   1. 容量不變量：容量 c 的試場永遠不能有第 c+1 個成功分配
//   2. 唯一不變量：一個考生在一個場次內至多佔一個座位
//   3. 吞吐：不同場次的異動不能互相阻塞
//
// 設計方案：
//   ✅ 場次級互斥鎖（lock striping）- 檢查與寫入在同一臨界區，
//      兩個並發 addStudent 不可能都看到「還有空位」
//   ✅ 存儲層唯一約束兜底 - 防禦多實例部署或繞過引擎的寫入
//   ✅ 成功後才廣播 - 失敗的異動不產生任何通知

// Notifier 變更通知接口（由 Hub 實現）
type Notifier interface {
	BroadcastScoped(examID string, event EventName, payload map[string]any)
	SignalChange(examID string)
}

// Roster 名冊異動引擎
//
// 擁有對共享場次/試場狀態的不變量檢查操作。讀寫都經過存儲
// 協作者；成功的異動觸發扇出，讓所有關注的連接重新同步。
type Roster struct {
	store    storage.Store
	notifier Notifier
	cache    storage.Cache // 可為 nil（未啟用快照快取）
	logger   *slog.Logger

	mu        sync.Mutex
	examLocks map[string]*sync.Mutex
}

// NewRoster 創建名冊異動引擎
func NewRoster(store storage.Store, notifier Notifier, cache storage.Cache, logger *slog.Logger) *Roster {
	return &Roster{
		store:     store,
		notifier:  notifier,
		cache:     cache,
		logger:    logger,
		examLocks: make(map[string]*sync.Mutex),
	}
}

// examLock 取得場次專屬的互斥鎖
//
// 鎖粒度：每場次一把。同場次的異動串行化，不同場次互不阻塞。
// 鎖永不回收——場次數量有限且每把鎖只佔幾十個位元組。
func (r *Roster) examLock(examID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, exists := r.examLocks[examID]
	if !exists {
		lock = &sync.Mutex{}
		r.examLocks[examID] = lock
	}
	return lock
}

// AddStudent 將考生分配到試場的最低空位
//
// 檢查順序（全部在場次鎖內）：
//  1. 試場必須存在於該場次 → ErrInvalidRoom
//  2. 考生不能已有座位 → ErrStudentAlreadyAssigned
//     （錯誤詳情帶現有位置，供 UI 顯示）
//  3. 已佔座位數必須小於容量 → ErrRoomFull
//  4. 選最低索引的空位、建立記錄
//  5. 成功後廣播範圍事件 + 全域變更訊號
func (r *Roster) AddStudent(ctx context.Context, examID, roomID string, student storage.Student) (*storage.RosterEntry, error) {
	lock := r.examLock(examID)
	lock.Lock()
	defer lock.Unlock()

	room, err := r.store.GetRoom(ctx, examID, roomID)
	if err != nil {
		return nil, err
	}

	if existing, err := r.store.FindEntryByStudent(ctx, examID, student.ID); err == nil {
		return nil, apperrors.ErrStudentAlreadyAssigned.WithDetails(
			fmt.Sprintf("room=%s seat=%d", existing.RoomID, existing.SeatIndex))
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	entries, err := r.store.ListEntriesByRoom(ctx, examID, roomID)
	if err != nil {
		return nil, err
	}

	if len(entries) >= room.Capacity {
		return nil, apperrors.ErrRoomFull.WithDetails(
			fmt.Sprintf("room=%s capacity=%d", roomID, room.Capacity))
	}

	seat := lowestFreeSeat(entries, room.Capacity)
	if seat == 0 {
		// 座位數與記錄數不一致只可能來自繞過引擎的寫入
		return nil, apperrors.ErrRoomFull.WithDetails(
			fmt.Sprintf("room=%s capacity=%d", roomID, room.Capacity))
	}

	entry := &storage.RosterEntry{
		ID:          uuid.NewString(),
		ExamID:      examID,
		RoomID:      roomID,
		StudentID:   student.ID,
		StudentName: student.Name,
		SeatIndex:   seat,
		AssignedAt:  time.Now(),
	}

	if err := r.store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}

	r.logger.Info("考生已分配座位",
		"exam_id", examID,
		"room_id", roomID,
		"student_id", student.ID,
		"seat_index", seat)

	r.notifyChanged(ctx, examID, roomID)

	return entry, nil
}

// DeleteStudent 移除考生的座位分配
func (r *Roster) DeleteStudent(ctx context.Context, examID, studentID string) error {
	lock := r.examLock(examID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := r.store.DeleteEntryByStudent(ctx, examID, studentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.ErrStudentNotAssigned
		}
		return err
	}

	r.logger.Info("考生座位已釋放",
		"exam_id", examID,
		"room_id", entry.RoomID,
		"student_id", studentID,
		"seat_index", entry.SeatIndex)

	r.notifyChanged(ctx, examID, entry.RoomID)

	return nil
}

// notifyChanged 異動成功後的通知流程
//
// 通知不攜帶名冊內容（notify-then-pull）：先讓快照快取失效，
// 再發範圍事件與全域訊號，客戶端收到後重拉快照。
func (r *Roster) notifyChanged(ctx context.Context, examID, roomID string) {
	if r.cache != nil {
		if err := r.cache.Del(ctx, examID); err != nil {
			r.logger.Warn("快照快取失效失敗", "exam_id", examID, "error", err)
		}
	}

	r.notifier.BroadcastScoped(examID, EventSeatStatusUpdated, map[string]any{
		"roomId": roomID,
	})
	r.notifier.SignalChange(examID)
}

// lowestFreeSeat 選出最低索引的空位（1..capacity），無空位時返回 0
func lowestFreeSeat(entries []*storage.RosterEntry, capacity int) int {
	occupied := make(map[int]bool, len(entries))
	for _, e := range entries {
		occupied[e.SeatIndex] = true
	}

	for seat := 1; seat <= capacity; seat++ {
		if !occupied[seat] {
			return seat
		}
	}
	return 0
}
