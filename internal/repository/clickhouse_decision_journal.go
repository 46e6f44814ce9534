package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

// CHDecisionJournal stores decision events in ClickHouse. The full event is
// kept as JSON in payload; the other columns exist for querying.
type CHDecisionJournal struct {
	db     *sql.DB
	table  string
	schema []string
}

func NewCHDecisionJournal(db *sql.DB, table string, schema []string) *CHDecisionJournal {
	return &CHDecisionJournal{db: db, table: table, schema: schema}
}

func (s *CHDecisionJournal) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init decision journal: %w", err)
		}
	}
	return nil
}

const decisionColumns = "(id, symbol, source, action, score, trade_executed, computed_at, payload)"

func decisionRow(ev models.DecisionEvent) ([]interface{}, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode decision %s: %w", ev.ID, err)
	}
	var executed uint8
	if ev.Decision.TradeExecuted {
		executed = 1
	}
	d := ev.Decision
	return []interface{}{ev.ID, d.Symbol, ev.Source, string(d.Action), d.Score, executed, d.ComputedAt.UTC(), string(payload)}, nil
}

func (s *CHDecisionJournal) Store(ctx context.Context, ev models.DecisionEvent) error {
	args, err := decisionRow(ev)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO %s %s VALUES (?, ?, ?, ?, ?, ?, ?, ?)", s.table, decisionColumns)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store decision %s: %w", ev.ID, err)
	}
	return nil
}

// StoreBatch inserts multi-row VALUES in chunks to cut round-trips.
func (s *CHDecisionJournal) StoreBatch(ctx context.Context, evs []models.DecisionEvent) error {
	const chunkSize = 500
	for start := 0; start < len(evs); start += chunkSize {
		end := start + chunkSize
		if end > len(evs) {
			end = len(evs)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, ev := range evs[start:end] {
			if ev.ID == "" || ev.Decision.Symbol == "" {
				continue
			}
			row, err := decisionRow(ev)
			if err != nil {
				return err
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, row...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s %s VALUES %s", s.table, decisionColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store %d decisions: %w", len(values), err)
		}
	}
	return nil
}

// Recent returns the latest decisions for symbol, newest first.
func (s *CHDecisionJournal) Recent(ctx context.Context, symbol string, limit int) ([]models.DecisionEvent, error) {
	q := fmt.Sprintf("SELECT payload FROM %s WHERE symbol = ? ORDER BY computed_at DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var ev models.DecisionEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *CHDecisionJournal) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHDecisionJournal) Close() error {
	return nil // the pool belongs to pkg/clickhouse
}

var _ domrepo.DecisionJournal = (*CHDecisionJournal)(nil)
