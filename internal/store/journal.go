package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/perpetua/internal/record"
)

// WriteCall journals a call. Writing the same call twice is a no-op.
func (s *Store) WriteCall(ctx context.Context, c record.Call) error {
	args := c.Args
	if args == nil {
		args = record.Fields{}
	}
	data, err := record.Marshal(args)
	if err != nil {
		return fmt.Errorf("write call %s: args: %w", c.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls (id, gesture, op, principal, shelf, args, seq, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.Gesture, c.Op, c.Principal, c.Shelf, string(data), c.Seq, record.Version)
	if err != nil {
		return fmt.Errorf("write call %s: %w", c.ID, err)
	}
	return nil
}

// WriteOutcome journals the outcome of a previously written call. A call
// has at most one outcome; later writes for the same call are ignored.
func (s *Store) WriteOutcome(ctx context.Context, o record.Outcome) error {
	result := o.Result
	if result == nil {
		result = record.Fields{}
	}
	data, err := record.Marshal(result)
	if err != nil {
		return fmt.Errorf("write outcome %s: result: %w", o.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outcomes (id, call_id, kind, detail, result, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, o.ID, o.CallID, o.Kind, o.Detail, string(data), o.Seq)
	if err != nil {
		return fmt.Errorf("write outcome %s: %w", o.ID, err)
	}
	return nil
}

// JournalEntry is a call and, once it has completed, its outcome.
type JournalEntry struct {
	Call    record.Call     `json:"call"`
	Outcome *record.Outcome `json:"outcome,omitempty"`
}

// JournalFilter narrows ReadJournal. Zero values match everything.
type JournalFilter struct {
	Gesture string
	Shelf   string
	Limit   int
}

// ReadJournal returns calls in sequence order with their outcomes.
func (s *Store) ReadJournal(ctx context.Context, f JournalFilter) ([]JournalEntry, error) {
	query := `
		SELECT c.id, c.gesture, c.op, c.principal, c.shelf, c.args, c.seq,
		       o.id, o.kind, o.detail, o.result, o.seq
		FROM calls c
		LEFT JOIN outcomes o ON o.call_id = c.id
		WHERE (? = '' OR c.gesture = ?) AND (? = '' OR c.shelf = ?)
		ORDER BY c.seq ASC, c.id ASC`
	args := []any{f.Gesture, f.Gesture, f.Shelf, f.Shelf}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	out := []JournalEntry{}
	for rows.Next() {
		var (
			e        JournalEntry
			callArgs string
			oID      sql.NullString
			oKind    sql.NullString
			oDetail  sql.NullString
			oResult  sql.NullString
			oSeq     sql.NullInt64
		)
		if err := rows.Scan(&e.Call.ID, &e.Call.Gesture, &e.Call.Op, &e.Call.Principal, &e.Call.Shelf,
			&callArgs, &e.Call.Seq, &oID, &oKind, &oDetail, &oResult, &oSeq); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		if e.Call.Args, err = decodeFields(callArgs); err != nil {
			return nil, fmt.Errorf("call %s args: %w", e.Call.ID, err)
		}
		if oID.Valid {
			o := &record.Outcome{
				ID:     oID.String,
				CallID: e.Call.ID,
				Kind:   oKind.String,
				Detail: oDetail.String,
				Seq:    oSeq.Int64,
			}
			if o.Result, err = decodeFields(oResult.String); err != nil {
				return nil, fmt.Errorf("outcome %s result: %w", o.ID, err)
			}
			e.Outcome = o
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxSeq returns the highest sequence number in the journal, or 0.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (SELECT seq FROM calls UNION ALL SELECT seq FROM outcomes)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

// decodeFields reads canonical JSON back into Fields, keeping integers as
// int64 so the result re-encodes to the same bytes.
func decodeFields(data string) (record.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := record.Fields{}
	for k, v := range raw {
		conv, err := fromJSON(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

func fromJSON(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return n, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			conv, err := fromJSON(elem)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := record.Fields{}
		for k, elem := range val {
			conv, err := fromJSON(elem)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	default:
		return val, nil
	}
}
