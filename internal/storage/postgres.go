package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/exam-sync/pkg/errors"
)

// Postgres PostgreSQL 存儲實現（V2 架構）
//
// 系統設計考量：
//
//  1. 表結構設計：
//     - exams：場次（id 主鍵）
//     - rooms：試場（exam_id 外鍵、capacity、display index）
//     - roster_entries：座位記錄
//
//  2. 唯一約束（不變量的最後防線）：
//     - UNIQUE (exam_id, student_id)：一個考生一個座位
//     - UNIQUE (exam_id, room_id, seat_index)：一個座位一個考生
//     單進程下名冊引擎的場次鎖已足夠，約束用於防禦多實例部署
//     或繞過引擎的直接寫入。
//
//  3. 併發控制：
//     - pgxpool 連接池（調用方配置上限）
//     - 單筆 INSERT/DELETE 本身是原子的，無需顯式事務
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 創建 PostgreSQL 存儲實例
//
// 連接池由調用方管理生命週期（建立、Close）。
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// CreateExam 建立場次
func (p *Postgres) CreateExam(ctx context.Context, exam *Exam) error {
	query := `
		INSERT INTO exams (id, title, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query, exam.ID, exam.Title, exam.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "create exam")
	}
	return nil
}

// GetExam 讀取場次
func (p *Postgres) GetExam(ctx context.Context, examID string) (*Exam, error) {
	query := `SELECT id, title, created_at FROM exams WHERE id = $1`

	var exam Exam
	err := p.pool.QueryRow(ctx, query, examID).Scan(&exam.ID, &exam.Title, &exam.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrExamNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "get exam")
	}

	return &exam, nil
}

// CreateRoom 建立試場
func (p *Postgres) CreateRoom(ctx context.Context, room *Room) error {
	query := `
		INSERT INTO rooms (id, exam_id, label, display_index, capacity)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := p.pool.Exec(ctx, query, room.ID, room.ExamID, room.Label, room.Index, room.Capacity)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "create room")
	}
	return nil
}

// GetRoom 讀取場次內的試場
func (p *Postgres) GetRoom(ctx context.Context, examID, roomID string) (*Room, error) {
	query := `
		SELECT id, exam_id, label, display_index, capacity
		FROM rooms
		WHERE exam_id = $1 AND id = $2
	`

	var room Room
	err := p.pool.QueryRow(ctx, query, examID, roomID).Scan(
		&room.ID, &room.ExamID, &room.Label, &room.Index, &room.Capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrInvalidRoom
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "get room")
	}

	return &room, nil
}

// ListRooms 列出場次內的所有試場
func (p *Postgres) ListRooms(ctx context.Context, examID string) ([]*Room, error) {
	query := `
		SELECT id, exam_id, label, display_index, capacity
		FROM rooms
		WHERE exam_id = $1
		ORDER BY display_index
	`

	rows, err := p.pool.Query(ctx, query, examID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list rooms")
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.ExamID, &room.Label, &room.Index, &room.Capacity); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan room")
		}
		rooms = append(rooms, &room)
	}

	return rooms, rows.Err()
}

// FindEntryByStudent 查詢考生的座位記錄
func (p *Postgres) FindEntryByStudent(ctx context.Context, examID, studentID string) (*RosterEntry, error) {
	query := `
		SELECT id, exam_id, room_id, student_id, student_name, seat_index, assigned_at
		FROM roster_entries
		WHERE exam_id = $1 AND student_id = $2
	`

	var entry RosterEntry
	err := p.pool.QueryRow(ctx, query, examID, studentID).Scan(
		&entry.ID, &entry.ExamID, &entry.RoomID,
		&entry.StudentID, &entry.StudentName, &entry.SeatIndex, &entry.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrEntryNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "find entry")
	}

	return &entry, nil
}

// ListEntriesByRoom 列出試場內的座位記錄
func (p *Postgres) ListEntriesByRoom(ctx context.Context, examID, roomID string) ([]*RosterEntry, error) {
	query := `
		SELECT id, exam_id, room_id, student_id, student_name, seat_index, assigned_at
		FROM roster_entries
		WHERE exam_id = $1 AND room_id = $2
		ORDER BY seat_index
	`

	return p.queryEntries(ctx, query, examID, roomID)
}

// ListEntriesByExam 列出場次內的所有座位記錄
func (p *Postgres) ListEntriesByExam(ctx context.Context, examID string) ([]*RosterEntry, error) {
	query := `
		SELECT id, exam_id, room_id, student_id, student_name, seat_index, assigned_at
		FROM roster_entries
		WHERE exam_id = $1
		ORDER BY room_id, seat_index
	`

	return p.queryEntries(ctx, query, examID)
}

// queryEntries 查詢座位記錄（內部使用）
func (p *Postgres) queryEntries(ctx context.Context, query string, args ...any) ([]*RosterEntry, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list entries")
	}
	defer rows.Close()

	var entries []*RosterEntry
	for rows.Next() {
		var entry RosterEntry
		if err := rows.Scan(
			&entry.ID, &entry.ExamID, &entry.RoomID,
			&entry.StudentID, &entry.StudentName, &entry.SeatIndex, &entry.AssignedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "scan entry")
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// CreateEntry 建立座位記錄
//
// 錯誤處理：
//   - PostgreSQL 錯誤碼 23505（unique_violation）：
//     → uq_roster_student 約束 → ErrStudentAlreadyAssigned
//     → uq_roster_seat 約束 → 同座位被搶先寫入，同樣映射為重複分配
//       （名冊引擎持有場次鎖時不會發生，留作多實例部署的防線）
func (p *Postgres) CreateEntry(ctx context.Context, entry *RosterEntry) error {
	query := `
		INSERT INTO roster_entries (id, exam_id, room_id, student_id, student_name, seat_index, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := p.pool.Exec(ctx, query,
		entry.ID, entry.ExamID, entry.RoomID,
		entry.StudentID, entry.StudentName, entry.SeatIndex, entry.AssignedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrStudentAlreadyAssigned
		}
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "create entry")
	}

	return nil
}

// DeleteEntryByStudent 刪除考生的座位記錄
func (p *Postgres) DeleteEntryByStudent(ctx context.Context, examID, studentID string) (*RosterEntry, error) {
	query := `
		DELETE FROM roster_entries
		WHERE exam_id = $1 AND student_id = $2
		RETURNING id, exam_id, room_id, student_id, student_name, seat_index, assigned_at
	`

	var entry RosterEntry
	err := p.pool.QueryRow(ctx, query, examID, studentID).Scan(
		&entry.ID, &entry.ExamID, &entry.RoomID,
		&entry.StudentID, &entry.StudentName, &entry.SeatIndex, &entry.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrEntryNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "delete entry")
	}

	return &entry, nil
}
