package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/park285/cheese-arena/internal/domain"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Ping reports database reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const statusMerge = `CASE
        WHEN games.status = 'COMPLETED' OR EXCLUDED.status = 'COMPLETED' THEN 'COMPLETED'
        WHEN games.status = 'IN_PROGRESS' OR EXCLUDED.status = 'IN_PROGRESS' THEN 'IN_PROGRESS'
        ELSE 'PENDING'
      END`

func (p *Postgres) CreateGame(ctx context.Context, g domain.NewGame) (string, error) {
	id := strings.TrimSpace(g.ID)
	if id == "" {
		id = uuid.NewString()
	}
	status := domain.StatusPending
	if g.BlackID != "" {
		status = domain.StatusInProgress
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	q := `INSERT INTO games (id, white_id, black_id, status, created_at)
      VALUES ($1,$2,$3,$4,$5)
      ON CONFLICT (id) DO UPDATE SET
        white_id = CASE WHEN games.white_id = '' THEN EXCLUDED.white_id ELSE games.white_id END,
        black_id = CASE WHEN games.black_id = '' THEN EXCLUDED.black_id ELSE games.black_id END,
        created_at = LEAST(games.created_at, EXCLUDED.created_at),
        status = ` + statusMerge
	if _, err := p.db.ExecContext(ctx, q, id, g.WhiteID, g.BlackID, string(status), createdAt); err != nil {
		return "", fmt.Errorf("create game %s: %w", id, err)
	}
	return id, nil
}

func (p *Postgres) AttachSecondPlayer(ctx context.Context, id, userID string, at time.Time) error {
	q := `INSERT INTO games (id, black_id, status, created_at, started_at)
      VALUES ($1,$2,'IN_PROGRESS',$3,$3)
      ON CONFLICT (id) DO UPDATE SET
        black_id = CASE WHEN games.black_id = '' THEN EXCLUDED.black_id ELSE games.black_id END,
        started_at = COALESCE(games.started_at, EXCLUDED.started_at),
        status = ` + statusMerge
	if _, err := p.db.ExecContext(ctx, q, id, userID, at); err != nil {
		return fmt.Errorf("attach player %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) AppendMove(ctx context.Context, id string, mv domain.Move) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append move %s#%d: begin: %w", id, mv.Number, err)
	}
	defer func() { _ = tx.Rollback() }()

	// 게임 행이 아직 없으면 자리표시 행을 만든다 (create 작업보다 먼저 도착한 경우)
	if _, err := tx.ExecContext(ctx, `INSERT INTO games (id, status, created_at)
      VALUES ($1,'IN_PROGRESS',$2)
      ON CONFLICT (id) DO UPDATE SET status = `+statusMerge, id, mv.PlayedAt); err != nil {
		return fmt.Errorf("append move %s#%d: game row: %w", id, mv.Number, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO moves (
        game_id, move_number, from_sq, to_sq, promotion, san, fen, consumed_ms, played_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
      ON CONFLICT (game_id, move_number) DO NOTHING`,
		id, mv.Number, mv.From, mv.To, mv.Promotion, mv.SAN, mv.FEN, mv.ConsumedMs, mv.PlayedAt,
	); err != nil {
		return fmt.Errorf("append move %s#%d: %w", id, mv.Number, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append move %s#%d: commit: %w", id, mv.Number, err)
	}
	return nil
}

func (p *Postgres) Finalize(ctx context.Context, id string, res domain.Result) error {
	q := `INSERT INTO games (
        id, status, result, cause, white_consumed_ms, black_consumed_ms, created_at, ended_at
      ) VALUES ($1,'COMPLETED',$2,$3,$4,$5,$6,$6)
      ON CONFLICT (id) DO UPDATE SET
        status = 'COMPLETED',
        result = COALESCE(games.result, EXCLUDED.result),
        cause = COALESCE(games.cause, EXCLUDED.cause),
        white_consumed_ms = CASE WHEN games.result IS NULL THEN EXCLUDED.white_consumed_ms ELSE games.white_consumed_ms END,
        black_consumed_ms = CASE WHEN games.result IS NULL THEN EXCLUDED.black_consumed_ms ELSE games.black_consumed_ms END,
        ended_at = COALESCE(games.ended_at, EXCLUDED.ended_at)`
	if _, err := p.db.ExecContext(ctx, q,
		id, string(res.Outcome), string(res.Cause), res.WhiteConsumedMs, res.BlackConsumedMs, res.EndedAt,
	); err != nil {
		return fmt.Errorf("finalize %s: %w", id, err)
	}
	return nil
}

const gameColumns = `id, white_id, black_id, status, result, cause,
        white_consumed_ms, black_consumed_ms, created_at, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (domain.Game, error) {
	var (
		g                domain.Game
		status           string
		result, cause    sql.NullString
		whiteMs, blackMs int64
		started, ended   sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.WhiteID, &g.BlackID, &status, &result, &cause,
		&whiteMs, &blackMs, &g.CreatedAt, &started, &ended); err != nil {
		return domain.Game{}, err
	}
	g.Status = domain.Status(status)
	if started.Valid {
		t := started.Time
		g.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		g.EndedAt = &t
	}
	if result.Valid {
		g.Result = &domain.Result{
			Outcome:         domain.Outcome(result.String),
			Cause:           domain.Cause(cause.String),
			WhiteConsumedMs: whiteMs,
			BlackConsumedMs: blackMs,
		}
		if g.EndedAt != nil {
			g.Result.EndedAt = *g.EndedAt
		}
	}
	return g, nil
}

func (p *Postgres) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT move_number, from_sq, to_sq, promotion, san, fen, consumed_ms, played_at
      FROM moves WHERE game_id = $1 ORDER BY move_number`, id)
	if err != nil {
		return nil, fmt.Errorf("load moves %s: %w", id, err)
	}
	defer rows.Close()
	g.Moves = make([]domain.Move, 0, 64)
	for rows.Next() {
		var mv domain.Move
		if err := rows.Scan(&mv.Number, &mv.From, &mv.To, &mv.Promotion, &mv.SAN, &mv.FEN, &mv.ConsumedMs, &mv.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan move %s: %w", id, err)
		}
		g.Moves = append(g.Moves, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load moves %s: %w", id, err)
	}
	return &g, nil
}

func (p *Postgres) ListInProgress(ctx context.Context) ([]domain.Game, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games
      WHERE status = 'IN_PROGRESS' ORDER BY created_at DESC, id LIMIT $1`, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list in-progress games: %w", err)
	}
	defer rows.Close()
	items := make([]domain.Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}
