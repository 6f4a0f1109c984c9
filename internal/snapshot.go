package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/koopa0/exam-sync/internal/storage"
)

// Snapshot 場次的即時物化視圖
//
// 通知不帶資料，客戶端收到變更事件後透過快照 API 拉取這份
// 視圖。快照允許最終一致：異動成功後立刻取的快照必然反映
// 該異動；變更通知到達前取的快照可能落後一步。
type Snapshot struct {
	ExamID        string         `json:"exam_id"`
	Rooms         []SnapshotRoom `json:"rooms"`
	TotalCapacity int            `json:"total_capacity"`
	TotalOccupied int            `json:"total_occupied"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// SnapshotRoom 試場視圖
type SnapshotRoom struct {
	RoomID   string         `json:"room_id"`
	Label    string         `json:"label"`
	Capacity int            `json:"capacity"`
	Occupied int            `json:"occupied"`
	Seats    []SnapshotSeat `json:"seats"`
}

// SnapshotSeat 座位視圖
type SnapshotSeat struct {
	Index       int    `json:"index"`
	Occupied    bool   `json:"occupied"`
	StudentID   string `json:"student_id,omitempty"`
	StudentName string `json:"student_name,omitempty"`
}

// Assembler 快照組裝器接口
//
// 必須可與名冊異動並發調用。
type Assembler interface {
	GetSnapshot(ctx context.Context, examID string) (*Snapshot, error)
}

// StoreAssembler 從存儲組裝快照
type StoreAssembler struct {
	store storage.Store
}

// NewStoreAssembler 創建快照組裝器
func NewStoreAssembler(store storage.Store) *StoreAssembler {
	return &StoreAssembler{store: store}
}

// GetSnapshot 組裝場次快照
func (a *StoreAssembler) GetSnapshot(ctx context.Context, examID string) (*Snapshot, error) {
	if _, err := a.store.GetExam(ctx, examID); err != nil {
		return nil, err
	}

	rooms, err := a.store.ListRooms(ctx, examID)
	if err != nil {
		return nil, err
	}

	entries, err := a.store.ListEntriesByExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	// 按試場分組
	byRoom := make(map[string][]*storage.RosterEntry, len(rooms))
	for _, entry := range entries {
		byRoom[entry.RoomID] = append(byRoom[entry.RoomID], entry)
	}

	snapshot := &Snapshot{
		ExamID:      examID,
		Rooms:       make([]SnapshotRoom, 0, len(rooms)),
		GeneratedAt: time.Now(),
	}

	for _, room := range rooms {
		occupants := make(map[int]*storage.RosterEntry, len(byRoom[room.ID]))
		for _, entry := range byRoom[room.ID] {
			occupants[entry.SeatIndex] = entry
		}

		view := SnapshotRoom{
			RoomID:   room.ID,
			Label:    room.Label,
			Capacity: room.Capacity,
			Occupied: len(occupants),
			Seats:    make([]SnapshotSeat, 0, room.Capacity),
		}

		for seat := 1; seat <= room.Capacity; seat++ {
			sv := SnapshotSeat{Index: seat}
			if entry, ok := occupants[seat]; ok {
				sv.Occupied = true
				sv.StudentID = entry.StudentID
				sv.StudentName = entry.StudentName
			}
			view.Seats = append(view.Seats, sv)
		}

		snapshot.Rooms = append(snapshot.Rooms, view)
		snapshot.TotalCapacity += room.Capacity
		snapshot.TotalOccupied += view.Occupied
	}

	return snapshot, nil
}

// CachedAssembler 帶快取的快照組裝器（Cache-Aside）
//
// 讀取先查快取，Miss 時委派給內層組裝器並回填。快取在名冊
// 異動成功時由異動引擎主動失效。快取層任何錯誤都不阻擋讀取，
// 只是退化為直接組裝。
type CachedAssembler struct {
	inner  Assembler
	cache  storage.Cache
	logger *slog.Logger
}

// NewCachedAssembler 創建帶快取的快照組裝器
func NewCachedAssembler(inner Assembler, cache storage.Cache, logger *slog.Logger) *CachedAssembler {
	return &CachedAssembler{
		inner:  inner,
		cache:  cache,
		logger: logger,
	}
}

// GetSnapshot 組裝場次快照（優先走快取）
func (a *CachedAssembler) GetSnapshot(ctx context.Context, examID string) (*Snapshot, error) {
	data, err := a.cache.Get(ctx, examID)
	if err != nil {
		a.logger.Warn("讀取快照快取失敗", "exam_id", examID, "error", err)
	} else if data != nil {
		var snapshot Snapshot
		if err := json.Unmarshal(data, &snapshot); err == nil {
			return &snapshot, nil
		}
		a.logger.Warn("快照快取內容損壞", "exam_id", examID)
	}

	snapshot, err := a.inner.GetSnapshot(ctx, examID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snapshot); err == nil {
		if err := a.cache.Set(ctx, examID, data); err != nil {
			a.logger.Warn("寫入快照快取失敗", "exam_id", examID, "error", err)
		}
	}

	return snapshot, nil
}
