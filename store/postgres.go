package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaFS embed.FS

// Postgres is the production Store implementation, backed by
// database/sql + github.com/lib/pq. Every exported method opens and
// commits a single short transaction or statement; none are held
// across a blocking wait.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool against dsn and verifies
// connectivity with a ping.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. Safe to call repeatedly: every
// statement is IF NOT EXISTS.
func (p *Postgres) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *Postgres) CreateExchange(ctx context.Context, e *ExchangeState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exchanges
			(exchange_id, route_id, status, current_step, current_step_name,
			 payload, context, created_at, started_at, completed_at, last_checkpoint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ExchangeID, e.RouteID, e.Status, e.CurrentStep, e.CurrentStepName,
		e.Payload, e.Context, e.CreatedAt, nullTime(e.StartedAt), nullTime(e.CompletedAt), e.LastCheckpoint)
	return err
}

func scanExchange(row interface {
	Scan(dest ...any) error
}) (*ExchangeState, error) {
	var e ExchangeState
	var started, completed sql.NullTime
	var stepName, ctxVal sql.NullString
	if err := row.Scan(&e.ExchangeID, &e.RouteID, &e.Status, &e.CurrentStep, &stepName,
		&e.Payload, &ctxVal, &e.CreatedAt, &started, &completed, &e.LastCheckpoint); err != nil {
		return nil, err
	}
	e.CurrentStepName = stepName.String
	e.Context = ctxVal.String
	if started.Valid {
		e.StartedAt = &started.Time
	}
	if completed.Valid {
		e.CompletedAt = &completed.Time
	}
	return &e, nil
}

const exchangeColumns = `exchange_id, route_id, status, current_step, current_step_name,
	payload, context, created_at, started_at, completed_at, last_checkpoint`

func (p *Postgres) GetExchange(ctx context.Context, exchangeID string) (*ExchangeState, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE exchange_id = $1`, exchangeID)
	e, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Postgres) UpdateExchange(ctx context.Context, e *ExchangeState) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE exchanges SET
			route_id = $2, status = $3, current_step = $4, current_step_name = $5,
			payload = $6, context = $7, started_at = $8, completed_at = $9, last_checkpoint = $10
		WHERE exchange_id = $1`,
		e.ExchangeID, e.RouteID, e.Status, e.CurrentStep, e.CurrentStepName,
		e.Payload, e.Context, nullTime(e.StartedAt), nullTime(e.CompletedAt), e.LastCheckpoint)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListExchanges(ctx context.Context, filter ExchangeFilter) ([]*ExchangeState, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	where := "WHERE 1=1"
	args := []any{}
	argN := 1
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	if filter.RouteID != "" {
		where += fmt.Sprintf(" AND route_id = $%d", argN)
		args = append(args, filter.RouteID)
		argN++
	}

	var total int
	countQuery := "SELECT count(*) FROM exchanges " + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM exchanges %s ORDER BY created_at ASC LIMIT $%d OFFSET $%d`,
		exchangeColumns, where, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ExchangeState
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if out == nil {
		out = []*ExchangeState{}
	}
	return out, total, rows.Err()
}

func (p *Postgres) InsertCheckpointIfAbsent(ctx context.Context, cp *ExchangeCheckpoint) (bool, error) {
	var created bool
	err := withBusyRetry(func() error {
		res, err := p.db.ExecContext(ctx, `
			INSERT INTO exchange_checkpoints (exchange_id, step_index, step_name, step_data, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (exchange_id, step_name) DO NOTHING`,
			cp.ExchangeID, cp.StepIndex, cp.StepName, cp.StepData, cp.Timestamp)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	return created, err
}

func (p *Postgres) ListCheckpoints(ctx context.Context, exchangeID string) ([]*ExchangeCheckpoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, exchange_id, step_index, step_name, step_data, created_at
		FROM exchange_checkpoints WHERE exchange_id = $1 ORDER BY step_index ASC`, exchangeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExchangeCheckpoint
	for rows.Next() {
		var cp ExchangeCheckpoint
		var data sql.NullString
		if err := rows.Scan(&cp.ID, &cp.ExchangeID, &cp.StepIndex, &cp.StepName, &data, &cp.Timestamp); err != nil {
			return nil, err
		}
		cp.StepData = data.String
		out = append(out, &cp)
	}
	if out == nil {
		out = []*ExchangeCheckpoint{}
	}
	return out, rows.Err()
}

func (p *Postgres) GetCheckpointByName(ctx context.Context, exchangeID, stepName string) (*ExchangeCheckpoint, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, exchange_id, step_index, step_name, step_data, created_at
		FROM exchange_checkpoints WHERE exchange_id = $1 AND step_name = $2`, exchangeID, stepName)
	var cp ExchangeCheckpoint
	var data sql.NullString
	err := row.Scan(&cp.ID, &cp.ExchangeID, &cp.StepIndex, &cp.StepName, &data, &cp.Timestamp)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cp.StepData = data.String
	return &cp, true, nil
}

func (p *Postgres) CreateApproval(ctx context.Context, a *ApprovalRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, exchange_id, route_id, payload, status, response, reason, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.ExchangeID, a.RouteID, a.Payload, a.Status, a.Response, a.Reason, a.CreatedAt, nullTime(a.CompletedAt))
	return err
}

const approvalColumns = `id, exchange_id, route_id, payload, status, response, reason, created_at, completed_at`

func scanApproval(row interface {
	Scan(dest ...any) error
}) (*ApprovalRequest, error) {
	var a ApprovalRequest
	var payload, response, reason sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&a.ID, &a.ExchangeID, &a.RouteID, &payload, &a.Status, &response, &reason, &a.CreatedAt, &completed); err != nil {
		return nil, err
	}
	a.Payload = payload.String
	a.Response = response.String
	a.Reason = reason.String
	if completed.Valid {
		a.CompletedAt = &completed.Time
	}
	return &a, nil
}

func (p *Postgres) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *Postgres) GetPendingApprovalByExchange(ctx context.Context, exchangeID string) (*ApprovalRequest, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM approval_requests
		WHERE exchange_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`, exchangeID, ApprovalStatusPending)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (p *Postgres) ListPendingApprovals(ctx context.Context) ([]*ApprovalRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approval_requests
		WHERE status = $1 ORDER BY created_at ASC`, ApprovalStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if out == nil {
		out = []*ApprovalRequest{}
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateApproval(ctx context.Context, a *ApprovalRequest) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE approval_requests SET
			status = $2, response = $3, reason = $4, completed_at = $5
		WHERE id = $1`,
		a.ID, a.Status, a.Response, a.Reason, nullTime(a.CompletedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendRouteLog(ctx context.Context, l *RouteLog) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO route_logs (exchange_id, route_id, level, message, created_at)
		VALUES ($1,$2,$3,$4,$5)`, l.ExchangeID, l.RouteID, l.Level, l.Message, l.CreatedAt)
	return err
}

func (p *Postgres) ListRouteLogs(ctx context.Context, routeID string) ([]*RouteLog, error) {
	return p.queryRouteLogs(ctx, `WHERE route_id = $1 ORDER BY created_at ASC`, routeID)
}

func (p *Postgres) ListRouteLogsByExchange(ctx context.Context, exchangeID string) ([]*RouteLog, error) {
	return p.queryRouteLogs(ctx, `WHERE exchange_id = $1 ORDER BY created_at ASC`, exchangeID)
}

func (p *Postgres) queryRouteLogs(ctx context.Context, where string, arg string) ([]*RouteLog, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, exchange_id, route_id, level, message, created_at FROM route_logs `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RouteLog
	for rows.Next() {
		var l RouteLog
		if err := rows.Scan(&l.ID, &l.ExchangeID, &l.RouteID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	if out == nil {
		out = []*RouteLog{}
	}
	return out, rows.Err()
}

func (p *Postgres) IncrementRouteMetric(ctx context.Context, routeID string, success bool) error {
	successDelta, failureDelta := 0, 0
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO route_metrics (route_id, total, success, failure)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (route_id) DO UPDATE SET
			total = route_metrics.total + 1,
			success = route_metrics.success + $2,
			failure = route_metrics.failure + $3`,
		routeID, successDelta, failureDelta)
	return err
}

func (p *Postgres) GetRouteMetric(ctx context.Context, routeID string) (*RouteMetric, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT route_id, total, success, failure FROM route_metrics WHERE route_id = $1`, routeID)
	var m RouteMetric
	err := row.Scan(&m.RouteID, &m.Total, &m.Success, &m.Failure)
	if err == sql.ErrNoRows {
		return &RouteMetric{RouteID: routeID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *Postgres) ListRouteMetrics(ctx context.Context) ([]*RouteMetric, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT route_id, total, success, failure FROM route_metrics ORDER BY route_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RouteMetric
	for rows.Next() {
		var m RouteMetric
		if err := rows.Scan(&m.RouteID, &m.Total, &m.Success, &m.Failure); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if out == nil {
		out = []*RouteMetric{}
	}
	return out, rows.Err()
}

func (p *Postgres) ListRunningExchanges(ctx context.Context) ([]*ExchangeState, error) {
	return p.queryExchanges(ctx, `WHERE status = $1`, string(ExchangeStatusRunning))
}

func (p *Postgres) ListWaitingApprovalExchanges(ctx context.Context) ([]*ExchangeState, error) {
	return p.queryExchanges(ctx, `WHERE status = $1`, string(ExchangeStatusWaitingApproval))
}

func (p *Postgres) ListStalledExchanges(ctx context.Context, threshold time.Time) ([]*ExchangeState, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE status = $1 AND last_checkpoint < $2`,
		ExchangeStatusRunning, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExchanges(rows)
}

func (p *Postgres) ListResumableWaitingApprovals(ctx context.Context) ([]*ExchangeState, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT exchange_id, route_id, status, current_step, current_step_name,
		       payload, context, created_at, started_at, completed_at, last_checkpoint
		FROM exchanges e
		WHERE e.status = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.exchange_id = e.exchange_id AND a.status = $2)
		  AND EXISTS (
		      SELECT 1 FROM approval_requests a
		      WHERE a.exchange_id = e.exchange_id AND a.status = $3)`,
		ExchangeStatusWaitingApproval, ApprovalStatusPending, ApprovalStatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExchanges(rows)
}

func (p *Postgres) ListTimedOutPendingApprovals(ctx context.Context, threshold time.Time) ([]*ApprovalRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE status = $1 AND created_at < $2`,
		ApprovalStatusPending, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if out == nil {
		out = []*ApprovalRequest{}
	}
	return out, rows.Err()
}

func (p *Postgres) queryExchanges(ctx context.Context, where string, args ...any) ([]*ExchangeState, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExchanges(rows)
}

func collectExchanges(rows *sql.Rows) ([]*ExchangeState, error) {
	var out []*ExchangeState
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if out == nil {
		out = []*ExchangeState{}
	}
	return out, rows.Err()
}

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)
