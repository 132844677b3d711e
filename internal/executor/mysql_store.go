package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "InvestPilot/internal/errors"
)

// MySQLStore 使用 MySQL 保存执行体聚合。
// 授权档案、调度配置与运行时状态以 JSON 列存储，管理状态单列存储便于筛选。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS executor_agents (
        id VARCHAR(64) PRIMARY KEY,
        strategy_id VARCHAR(64) NOT NULL,
        capabilities TEXT NOT NULL,
        settings TEXT NOT NULL,
        state TEXT NOT NULL,
        status VARCHAR(32) NOT NULL,
        active TINYINT(1) NOT NULL DEFAULT 1,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_agent_status (status),
        INDEX idx_agent_strategy (strategy_id)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 executor_agents 表失败")
	}
	return nil
}

// Create 插入新的执行体记录。
func (s *MySQLStore) Create(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeValidation, "agent 不能为空")
	}
	if strings.TrimSpace(agent.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "执行体 ID 不能为空")
	}

	now := time.Now().Unix()
	if agent.CreatedAt == 0 {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = AgentCreated
	}
	if agent.State.Status == "" {
		agent.State.Status = RunIdle
	}

	capabilities, settings, state, err := marshalAgentColumns(agent)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO executor_agents
        (id, strategy_id, capabilities, settings, state, status, active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		agent.ID, agent.StrategyID, capabilities, settings, state,
		agent.Status, agent.CreatedAt, agent.UpdatedAt,
	); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "执行体已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入执行体失败")
	}
	return nil
}

// Get 查询指定执行体。软删除的记录视同不存在。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Agent, error) {
	const stmt = `SELECT id, strategy_id, capabilities, settings, state, status, active, created_at, updated_at
        FROM executor_agents WHERE id = ? AND active = 1`
	return s.scanAgent(s.db.QueryRowContext(ctx, stmt, id))
}

func (s *MySQLStore) scanAgent(row *sql.Row) (*Agent, error) {
	var agent Agent
	var capabilities, settings, state string
	if err := row.Scan(
		&agent.ID, &agent.StrategyID, &capabilities, &settings, &state,
		&agent.Status, &agent.Active, &agent.CreatedAt, &agent.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行体失败")
	}
	if err := unmarshalAgentColumns(&agent, capabilities, settings, state); err != nil {
		return nil, err
	}
	return &agent, nil
}

// Save 覆盖保存执行体的最新状态。
func (s *MySQLStore) Save(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeValidation, "agent 不能为空")
	}
	capabilities, settings, state, err := marshalAgentColumns(agent)
	if err != nil {
		return err
	}
	const stmt = `UPDATE executor_agents SET strategy_id = ?, capabilities = ?, settings = ?, state = ?, status = ?, updated_at = ?
        WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		agent.StrategyID, capabilities, settings, state, agent.Status,
		time.Now().Unix(), agent.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新执行体失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// Deactivate 软删除执行体。
func (s *MySQLStore) Deactivate(ctx context.Context, id string) error {
	const stmt = `UPDATE executor_agents SET active = 0, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "停用执行体失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ListActive 返回所有处于 active 管理状态的执行体。
func (s *MySQLStore) ListActive(ctx context.Context) ([]*Agent, error) {
	const stmt = `SELECT id, strategy_id, capabilities, settings, state, status, active, created_at, updated_at
        FROM executor_agents WHERE active = 1 AND status = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, stmt, AgentActive)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行体列表失败")
	}
	defer rows.Close()

	results := make([]*Agent, 0)
	for rows.Next() {
		var agent Agent
		var capabilities, settings, state string
		if err := rows.Scan(
			&agent.ID, &agent.StrategyID, &capabilities, &settings, &state,
			&agent.Status, &agent.Active, &agent.CreatedAt, &agent.UpdatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行体记录失败")
		}
		if err := unmarshalAgentColumns(&agent, capabilities, settings, state); err != nil {
			return nil, err
		}
		agentCopy := agent
		results = append(results, &agentCopy)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行体失败")
	}
	return results, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalAgentColumns(agent *Agent) (string, string, string, error) {
	capabilities, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return "", "", "", xerrors.Wrap(xerrors.CodeValidation, err, "编码授权档案失败")
	}
	settings, err := json.Marshal(agent.Settings)
	if err != nil {
		return "", "", "", xerrors.Wrap(xerrors.CodeValidation, err, "编码调度配置失败")
	}
	state, err := json.Marshal(agent.State)
	if err != nil {
		return "", "", "", xerrors.Wrap(xerrors.CodeValidation, err, "编码运行时状态失败")
	}
	return string(capabilities), string(settings), string(state), nil
}

func unmarshalAgentColumns(agent *Agent, capabilities, settings, state string) error {
	if err := json.Unmarshal([]byte(capabilities), &agent.Capabilities); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析授权档案失败")
	}
	if err := json.Unmarshal([]byte(settings), &agent.Settings); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调度配置失败")
	}
	if err := json.Unmarshal([]byte(state), &agent.State); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行时状态失败")
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
