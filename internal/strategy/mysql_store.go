package strategy

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

// MySQLStore 使用 MySQL 保存策略聚合。
// 任务按行存储，状态迁移通过条件更新实现比较交换。
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
	const strategySchema = `CREATE TABLE IF NOT EXISTS strategies (
        id VARCHAR(64) PRIMARY KEY,
        agent_id VARCHAR(64) NOT NULL,
        name VARCHAR(255) NOT NULL,
        budget DOUBLE NOT NULL DEFAULT 0,
        risk_tolerance VARCHAR(32) NOT NULL DEFAULT 'moderate',
        execution_status VARCHAR(32) NOT NULL,
        metrics TEXT,
        archived TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_strategy_agent (agent_id),
        INDEX idx_strategy_status (execution_status)
)`

	const taskSchema = `CREATE TABLE IF NOT EXISTS strategy_tasks (
        id VARCHAR(64) PRIMARY KEY,
        strategy_id VARCHAR(64) NOT NULL,
        phase_index INT NOT NULL DEFAULT 0,
        phase_name VARCHAR(255) DEFAULT '',
        phase_duration VARCHAR(64) DEFAULT '',
        seq INT NOT NULL DEFAULT 0,
        task_type VARCHAR(32) NOT NULL,
        token_symbol VARCHAR(32) DEFAULT '',
        target_price DOUBLE NULL,
        allocation VARCHAR(64) NOT NULL DEFAULT '0',
        priority VARCHAR(16) NOT NULL DEFAULT 'medium',
        conditions TEXT,
        status VARCHAR(32) NOT NULL,
        scheduled_for BIGINT NOT NULL DEFAULT 0,
        executed_at BIGINT NOT NULL DEFAULT 0,
        result_success TINYINT(1) NOT NULL DEFAULT 0,
        result_tx_hash VARCHAR(80) DEFAULT '',
        result_amount DOUBLE NOT NULL DEFAULT 0,
        result_price DOUBLE NOT NULL DEFAULT 0,
        result_gas BIGINT NOT NULL DEFAULT 0,
        result_error TEXT,
        result_simulated TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_task_strategy (strategy_id),
        INDEX idx_task_status (status)
)`

	if _, err := s.db.Exec(strategySchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 strategies 表失败")
	}
	if _, err := s.db.Exec(taskSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 strategy_tasks 表失败")
	}
	return nil
}

// Create 插入策略与其全部任务。
func (s *MySQLStore) Create(ctx context.Context, st *Strategy) error {
	if st == nil {
		return xerrors.New(xerrors.CodeValidation, "strategy 不能为空")
	}
	if strings.TrimSpace(st.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "策略 ID 不能为空")
	}

	now := time.Now().Unix()
	if st.CreatedAt == 0 {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	if st.Status == "" {
		st.Status = ExecutionNotStarted
	}
	st.RecomputeMetrics()

	metricsValue, err := json.Marshal(st.Metrics)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码策略 metrics 失败")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	const strategyStmt = `INSERT INTO strategies
        (id, agent_id, name, budget, risk_tolerance, execution_status, metrics, archived, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, strategyStmt,
		st.ID, st.AgentID, st.Name, st.Budget, st.RiskTolerance,
		st.Status, string(metricsValue), st.Archived, st.CreatedAt, st.UpdatedAt,
	); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "策略已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入策略失败")
	}

	const taskStmt = `INSERT INTO strategy_tasks
        (id, strategy_id, phase_index, phase_name, phase_duration, seq, task_type, token_symbol,
         target_price, allocation, priority, conditions, status, scheduled_for, executed_at,
         created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for phaseIdx, phase := range st.Phases {
		for seq, task := range phase.Tasks {
			if task == nil {
				continue
			}
			if task.Status == "" {
				task.Status = StatusPending
			}
			if task.CreatedAt == 0 {
				task.CreatedAt = now
			}
			conditionsValue, err := json.Marshal(task.Conditions)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeValidation, err, "编码任务条件失败")
			}
			var targetPrice sql.NullFloat64
			if task.TargetPrice != nil {
				targetPrice = sql.NullFloat64{Float64: *task.TargetPrice, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, taskStmt,
				task.ID, st.ID, phaseIdx, phase.Name, phase.ExpectedDuration, seq,
				task.Type, task.TokenSymbol, targetPrice, task.Allocation, task.Priority,
				string(conditionsValue), task.Status, task.ScheduledFor, task.ExecutedAt,
				task.CreatedAt, now,
			); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入策略任务失败")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交策略事务失败")
	}
	return nil
}

// Get 查询并装配策略聚合。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Strategy, error) {
	const stmt = `SELECT id, agent_id, name, budget, risk_tolerance, execution_status, metrics, archived, created_at, updated_at
        FROM strategies WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	return s.scanStrategy(ctx, row)
}

// GetByAgent 查询执行体关联的未归档策略。
func (s *MySQLStore) GetByAgent(ctx context.Context, agentID string) (*Strategy, error) {
	const stmt = `SELECT id, agent_id, name, budget, risk_tolerance, execution_status, metrics, archived, created_at, updated_at
        FROM strategies WHERE agent_id = ? AND archived = 0 ORDER BY created_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, stmt, agentID)
	return s.scanStrategy(ctx, row)
}

func (s *MySQLStore) scanStrategy(ctx context.Context, row *sql.Row) (*Strategy, error) {
	var st Strategy
	var metricsRaw sql.NullString
	if err := row.Scan(
		&st.ID, &st.AgentID, &st.Name, &st.Budget, &st.RiskTolerance,
		&st.Status, &metricsRaw, &st.Archived, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrStrategyNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询策略失败")
	}
	if metricsRaw.Valid && metricsRaw.String != "" {
		if err := json.Unmarshal([]byte(metricsRaw.String), &st.Metrics); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析策略 metrics 失败")
		}
	}
	if err := s.loadPhases(ctx, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MySQLStore) loadPhases(ctx context.Context, st *Strategy) error {
	const stmt = `SELECT id, phase_index, phase_name, phase_duration, task_type, token_symbol,
        target_price, allocation, priority, conditions, status, scheduled_for, executed_at,
        result_success, result_tx_hash, result_amount, result_price, result_gas, result_error, result_simulated,
        created_at
        FROM strategy_tasks WHERE strategy_id = ? ORDER BY phase_index ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, stmt, st.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询策略任务失败")
	}
	defer rows.Close()

	var phases []*Phase
	lastIndex := -1
	for rows.Next() {
		var (
			task        Task
			phaseIndex  int
			phaseName   string
			phaseDur    string
			targetPrice sql.NullFloat64
			condRaw     sql.NullString
			resSuccess  bool
			resTxHash   string
			resAmount   float64
			resPrice    float64
			resGas      uint64
			resError    sql.NullString
			resSim      bool
		)
		if err := rows.Scan(
			&task.ID, &phaseIndex, &phaseName, &phaseDur, &task.Type, &task.TokenSymbol,
			&targetPrice, &task.Allocation, &task.Priority, &condRaw, &task.Status,
			&task.ScheduledFor, &task.ExecutedAt,
			&resSuccess, &resTxHash, &resAmount, &resPrice, &resGas, &resError, &resSim,
			&task.CreatedAt,
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		if targetPrice.Valid {
			v := targetPrice.Float64
			task.TargetPrice = &v
		}
		if condRaw.Valid && condRaw.String != "" {
			if err := json.Unmarshal([]byte(condRaw.String), &task.Conditions); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务条件失败")
			}
		}
		if task.Status.Terminal() && task.Status != StatusCancelled {
			task.Result = &ExecutionResult{
				Success:         resSuccess,
				TransactionHash: resTxHash,
				AmountExecuted:  resAmount,
				PriceExecuted:   resPrice,
				GasUsed:         resGas,
				ErrorMessage:    resError.String,
				Simulated:       resSim,
			}
		}
		if phaseIndex != lastIndex {
			phases = append(phases, &Phase{Name: phaseName, ExpectedDuration: phaseDur})
			lastIndex = phaseIndex
		}
		current := phases[len(phases)-1]
		current.Tasks = append(current.Tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	st.Phases = phases
	return nil
}

// UpdateTaskStatus 通过条件更新实现任务状态的比较交换迁移。
func (s *MySQLStore) UpdateTaskStatus(ctx context.Context, strategyID, taskID string, expected, next TaskStatus, result *ExecutionResult) error {
	if !CanTransition(expected, next) {
		return ErrTaskConflict
	}

	now := time.Now().Unix()
	var res sql.Result
	var err error
	if result != nil {
		const stmt = `UPDATE strategy_tasks SET status = ?, executed_at = ?, updated_at = ?,
            result_success = ?, result_tx_hash = ?, result_amount = ?, result_price = ?,
            result_gas = ?, result_error = ?, result_simulated = ?
            WHERE id = ? AND strategy_id = ? AND status = ?`
		res, err = s.db.ExecContext(ctx, stmt,
			next, now, now,
			result.Success, result.TransactionHash, result.AmountExecuted,
			result.PriceExecuted, result.GasUsed, result.ErrorMessage, result.Simulated,
			taskID, strategyID, expected,
		)
	} else {
		const stmt = `UPDATE strategy_tasks SET status = ?, updated_at = ?
            WHERE id = ? AND strategy_id = ? AND status = ?`
		res, err = s.db.ExecContext(ctx, stmt, next, now, taskID, strategyID, expected)
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return s.explainCASFailure(ctx, strategyID, taskID)
	}
	return nil
}

// explainCASFailure 将 0 行更新翻译为更具体的错误。
func (s *MySQLStore) explainCASFailure(ctx context.Context, strategyID, taskID string) error {
	const stmt = `SELECT status FROM strategy_tasks WHERE id = ? AND strategy_id = ?`
	var status TaskStatus
	if err := s.db.QueryRowContext(ctx, stmt, taskID, strategyID).Scan(&status); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务状态失败")
	}
	if status.Terminal() {
		return ErrTaskTerminal
	}
	return ErrTaskConflict
}

// SaveMetrics 覆盖策略维度的执行进度与状态。
func (s *MySQLStore) SaveMetrics(ctx context.Context, st *Strategy) error {
	if st == nil {
		return xerrors.New(xerrors.CodeValidation, "strategy 不能为空")
	}
	metricsValue, err := json.Marshal(st.Metrics)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码策略 metrics 失败")
	}
	const stmt = `UPDATE strategies SET execution_status = ?, metrics = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, st.Status, string(metricsValue), time.Now().Unix(), st.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新策略进度失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

// Archive 将策略标记为已归档。
func (s *MySQLStore) Archive(ctx context.Context, id string) error {
	const stmt = `UPDATE strategies SET archived = 1, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "归档策略失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

// CancelTask 取消一个仍处于 pending 的任务。
func (s *MySQLStore) CancelTask(ctx context.Context, strategyID, taskID string) error {
	const stmt = `UPDATE strategy_tasks SET status = ?, updated_at = ?
        WHERE id = ? AND strategy_id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusCancelled, time.Now().Unix(), taskID, strategyID, StatusPending)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消任务失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return s.explainCASFailure(ctx, strategyID, taskID)
	}
	return nil
}

// List 返回符合过滤条件的策略列表（不装配任务，列表场景只需概要）。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Strategy, error) {
	opts.applyDefaults()

	query := `SELECT id, agent_id, name, budget, risk_tolerance, execution_status, metrics, archived, created_at, updated_at
        FROM strategies`

	conditions := make([]string, 0, 3)
	args := make([]any, 0, 6)
	if !opts.IncludeArchived {
		conditions = append(conditions, "archived = 0")
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "execution_status IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询策略列表失败")
	}
	defer rows.Close()

	results := make([]*Strategy, 0, opts.Limit)
	for rows.Next() {
		var st Strategy
		var metricsRaw sql.NullString
		if err := rows.Scan(
			&st.ID, &st.AgentID, &st.Name, &st.Budget, &st.RiskTolerance,
			&st.Status, &metricsRaw, &st.Archived, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析策略记录失败")
		}
		if metricsRaw.Valid && metricsRaw.String != "" {
			if err := json.Unmarshal([]byte(metricsRaw.String), &st.Metrics); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析策略 metrics 失败")
			}
		}
		stCopy := st
		results = append(results, &stCopy)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历策略失败")
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

var _ Store = (*MySQLStore)(nil)
