// Package storage 基于SQLite的危机归档，只追加。
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite单写者
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crisis_history (
		id TEXT PRIMARY KEY,
		crisis_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		status TEXT NOT NULL,
		successful INTEGER NOT NULL DEFAULT 0,
		methods TEXT, -- JSON array
		outcome_text TEXT,
		attempt_count INTEGER DEFAULT 0,
		start_time INTEGER NOT NULL, -- unix nano
		end_time INTEGER NOT NULL -- unix nano
	);

	CREATE INDEX IF NOT EXISTS idx_history_entity ON crisis_history(entity_id);
	CREATE INDEX IF NOT EXISTS idx_history_crisis ON crisis_history(crisis_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Append 在一个事务中写入归档记录
func (s *Storage) Append(records ...models.CrisisHistory) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO crisis_history (id, crisis_id, template_id, entity_id, status, successful, methods, outcome_text, attempt_count, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备语句失败: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		methodsJSON, _ := json.Marshal(r.Methods)
		if _, err := stmt.Exec(r.ID, r.CrisisID, r.TemplateID, r.EntityID, string(r.Status), r.Successful,
			string(methodsJSON), r.OutcomeText, r.AttemptCount, r.StartTime.UnixNano(), r.EndTime.UnixNano()); err != nil {
			return fmt.Errorf("写入危机归档失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交危机归档失败: %w", err)
	}
	return nil
}

const historyColumns = `id, crisis_id, template_id, entity_id, status, successful, methods, outcome_text, attempt_count, start_time, end_time`

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (models.CrisisHistory, error) {
	var h models.CrisisHistory
	var status, methodsJSON string
	var start, end int64

	err := row.Scan(&h.ID, &h.CrisisID, &h.TemplateID, &h.EntityID, &status, &h.Successful,
		&methodsJSON, &h.OutcomeText, &h.AttemptCount, &start, &end)
	if err != nil {
		return h, err
	}

	h.Status = models.CrisisStatus(status)
	h.StartTime = time.Unix(0, start).UTC()
	h.EndTime = time.Unix(0, end).UTC()
	json.Unmarshal([]byte(methodsJSON), &h.Methods)
	return h, nil
}

// ByEntity 实体的归档，按结束时间排序
func (s *Storage) ByEntity(entityID string) ([]models.CrisisHistory, error) {
	rows, err := s.db.Query(`
		SELECT `+historyColumns+`
		FROM crisis_history
		WHERE entity_id = ?
		ORDER BY end_time, rowid
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("查询危机归档失败: %w", err)
	}
	defer rows.Close()

	var history []models.CrisisHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("读取危机归档失败: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// Get 按归档ID查询
func (s *Storage) Get(id string) (*models.CrisisHistory, error) {
	h, err := scanHistory(s.db.QueryRow(`SELECT `+historyColumns+` FROM crisis_history WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取危机归档失败: %w", err)
	}
	return &h, nil
}
