package storage

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/koopa0/exam-sync/pkg/errors"
)

// Memory 內存存儲實現（V1 架構）
//
// 使用場景：
//   - 開發環境快速測試
//   - 單元測試（隔離外部依賴）
//
// 系統設計權衡：
//   ✅ 優點：零延遲、零依賴、簡單直觀
//   ❌ 缺點：不持久化（重啟丟失）、無法分布式、內存受限
type Memory struct {
	mu      sync.RWMutex
	exams   map[string]*Exam
	rooms   map[string]map[string]*Room        // examID -> roomID -> Room
	entries map[string]map[string]*RosterEntry // examID -> studentID -> RosterEntry
}

// NewMemory 創建內存存儲實例
func NewMemory() *Memory {
	return &Memory{
		exams:   make(map[string]*Exam),
		rooms:   make(map[string]map[string]*Room),
		entries: make(map[string]map[string]*RosterEntry),
	}
}

// CreateExam 建立場次
func (m *Memory) CreateExam(ctx context.Context, exam *Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *exam
	m.exams[exam.ID] = &e
	return nil
}

// GetExam 讀取場次
func (m *Memory) GetExam(ctx context.Context, examID string) (*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exam, exists := m.exams[examID]
	if !exists {
		return nil, apperrors.ErrExamNotFound
	}

	// 返回副本，防止外部修改
	e := *exam
	return &e, nil
}

// CreateRoom 建立試場
func (m *Memory) CreateRoom(ctx context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[room.ExamID] == nil {
		m.rooms[room.ExamID] = make(map[string]*Room)
	}
	r := *room
	m.rooms[room.ExamID][room.ID] = &r
	return nil
}

// GetRoom 讀取場次內的試場
func (m *Memory) GetRoom(ctx context.Context, examID, roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, exists := m.rooms[examID][roomID]
	if !exists {
		return nil, apperrors.ErrInvalidRoom
	}

	r := *room
	return &r, nil
}

// ListRooms 列出場次內的所有試場
func (m *Memory) ListRooms(ctx context.Context, examID string) ([]*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms[examID]))
	for _, room := range m.rooms[examID] {
		r := *room
		rooms = append(rooms, &r)
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].Index < rooms[j].Index
	})

	return rooms, nil
}

// FindEntryByStudent 查詢考生的座位記錄
func (m *Memory) FindEntryByStudent(ctx context.Context, examID, studentID string) (*RosterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[examID][studentID]
	if !exists {
		return nil, apperrors.ErrEntryNotFound
	}

	e := *entry
	return &e, nil
}

// ListEntriesByRoom 列出試場內的座位記錄
func (m *Memory) ListEntriesByRoom(ctx context.Context, examID, roomID string) ([]*RosterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*RosterEntry
	for _, entry := range m.entries[examID] {
		if entry.RoomID != roomID {
			continue
		}
		e := *entry
		entries = append(entries, &e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SeatIndex < entries[j].SeatIndex
	})

	return entries, nil
}

// ListEntriesByExam 列出場次內的所有座位記錄
func (m *Memory) ListEntriesByExam(ctx context.Context, examID string) ([]*RosterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*RosterEntry, 0, len(m.entries[examID]))
	for _, entry := range m.entries[examID] {
		e := *entry
		entries = append(entries, &e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RoomID != entries[j].RoomID {
			return entries[i].RoomID < entries[j].RoomID
		}
		return entries[i].SeatIndex < entries[j].SeatIndex
	})

	return entries, nil
}

// CreateEntry 建立座位記錄
//
// 與 Postgres 實現的唯一約束對齊：(exam, student) 與
// (exam, room, seat) 衝突都映射為重複分配。
func (m *Memory) CreateEntry(ctx context.Context, entry *RosterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.ExamID][entry.StudentID]; exists {
		return apperrors.ErrStudentAlreadyAssigned
	}

	for _, existing := range m.entries[entry.ExamID] {
		if existing.RoomID == entry.RoomID && existing.SeatIndex == entry.SeatIndex {
			return apperrors.ErrStudentAlreadyAssigned
		}
	}

	if m.entries[entry.ExamID] == nil {
		m.entries[entry.ExamID] = make(map[string]*RosterEntry)
	}

	e := *entry
	m.entries[entry.ExamID][entry.StudentID] = &e
	return nil
}

// DeleteEntryByStudent 刪除考生的座位記錄
func (m *Memory) DeleteEntryByStudent(ctx context.Context, examID, studentID string) (*RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[examID][studentID]
	if !exists {
		return nil, apperrors.ErrEntryNotFound
	}

	delete(m.entries[examID], studentID)
	if len(m.entries[examID]) == 0 {
		delete(m.entries, examID)
	}

	e := *entry
	return &e, nil
}
