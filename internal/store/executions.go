package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/airvm/internal/interpreter"
)

// Execution is one logged interpreter invocation.
type Execution struct {
	Seq         int64
	ParticleID  string
	PeerID      string
	Script      string
	PrevData    []byte
	CurrentData []byte
	Params      interpreter.RunParameters
	CallResults map[uint32]interpreter.CallServiceResult
	Outcome     interpreter.InterpreterOutcome
}

// ErrExecutionNotFound is returned for a seq with no logged execution.
var ErrExecutionNotFound = errors.New("execution not found")

// LogExecution appends an execution to the log and returns its seq.
func (s *Store) LogExecution(ctx context.Context, e Execution) (int64, error) {
	params, err := marshalJSON(e.Params)
	if err != nil {
		return 0, fmt.Errorf("log execution: params: %w", err)
	}
	results := e.CallResults
	if results == nil {
		results = map[uint32]interpreter.CallServiceResult{}
	}
	callResults, err := marshalJSON(results)
	if err != nil {
		return 0, fmt.Errorf("log execution: call results: %w", err)
	}
	outcome, err := marshalJSON(e.Outcome)
	if err != nil {
		return 0, fmt.Errorf("log execution: outcome: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
		(particle_id, peer_id, script, prev_data, current_data, params, call_results, ret_code, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ParticleID,
		e.PeerID,
		e.Script,
		nonNil(e.PrevData),
		nonNil(e.CurrentData),
		params,
		callResults,
		e.Outcome.RetCode,
		outcome,
	)
	if err != nil {
		return 0, fmt.Errorf("log execution: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("log execution: last insert id: %w", err)
	}
	return seq, nil
}

const executionColumns = `seq, particle_id, peer_id, script, prev_data, current_data, params, call_results, outcome`

// ReadExecution returns the execution logged under seq.
func (s *Store) ReadExecution(ctx context.Context, seq int64) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE seq = ?`, seq)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, fmt.Errorf("read execution %d: %w", seq, ErrExecutionNotFound)
	}
	return e, err
}

// ReadExecutions returns the executions of a particle in log order. An empty
// particleID selects every particle.
func (s *Store) ReadExecutions(ctx context.Context, particleID string) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []any
	if particleID != "" {
		query += ` WHERE particle_id = ?`
		args = append(args, particleID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	executions := []Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return executions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (Execution, error) {
	var (
		e                             Execution
		params, callResults, outcome string
	)
	err := row.Scan(&e.Seq, &e.ParticleID, &e.PeerID, &e.Script, &e.PrevData, &e.CurrentData, &params, &callResults, &outcome)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan execution: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
		return e, fmt.Errorf("execution %d: params: %w", e.Seq, err)
	}
	if err := json.Unmarshal([]byte(callResults), &e.CallResults); err != nil {
		return e, fmt.Errorf("execution %d: call results: %w", e.Seq, err)
	}
	if err := json.Unmarshal([]byte(outcome), &e.Outcome); err != nil {
		return e, fmt.Errorf("execution %d: outcome: %w", e.Seq, err)
	}
	return e, nil
}

// marshalJSON encodes v without HTML escaping so stored text matches what
// the interpreter writes.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
