package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "xposter/pkg/logx"
)

// dialect hides the placeholder and timestamp differences between drivers.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// timeArg converts a non-zero time into a driver argument.
	timeArg func(t time.Time) any
}

// sqlStore is shared by the sqlite and postgres drivers.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	d   dialect
}

const attemptColumns = `at, attempt_id, job_id, status, slot, scheduled_at, sent_at, source, dest, labels, tweet_id, err`

func (s *sqlStore) ph(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if s.d.numbered {
			parts[i] = "$" + strconv.Itoa(i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ",")
}

func (s *sqlStore) migrate(ctx context.Context, ddl string) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s migrate: %w", s.d.name, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendAttempt(ctx context.Context, a Attempt) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	var labels any
	if len(a.Labels) > 0 {
		b, err := json.Marshal(a.Labels)
		if err != nil {
			return err
		}
		labels = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(`+attemptColumns+`) VALUES(`+s.ph(12)+`)`,
		s.d.timeArg(a.At), nullStr(a.AttemptID), nullStr(a.JobID), a.Status, nullStr(a.Slot),
		s.optTime(a.ScheduledAt), s.optTime(a.SentAt), a.Source, nullStr(a.Dest), labels,
		nullStr(a.TweetID), nullStr(a.Error),
	)
	return err
}

func (s *sqlStore) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT ` + attemptColumns + ` FROM attempts ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ` + s.ph(1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                        Attempt
			at, scheduled, sent      dbTime
			attemptID, jobID, slot   sql.NullString
			dest, labels, tweet, msg sql.NullString
		)
		if err := rows.Scan(&at, &attemptID, &jobID, &a.Status, &slot, &scheduled, &sent,
			&a.Source, &dest, &labels, &tweet, &msg); err != nil {
			return nil, err
		}
		a.At, a.ScheduledAt, a.SentAt = at.t, scheduled.t, sent.t
		a.AttemptID, a.JobID, a.Slot = attemptID.String, jobID.String, slot.String
		a.Dest, a.TweetID, a.Error = dest.String, tweet.String, msg.String
		if labels.Valid && labels.String != "" {
			if err := json.Unmarshal([]byte(labels.String), &a.Labels); err != nil {
				s.log.Debug("storage.bad_labels", logx.Err(err))
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) optTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return s.d.timeArg(t)
}

// dbTime scans TIMESTAMPTZ values and RFC3339 text alike.
type dbTime struct{ t time.Time }

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.t = time.Time{}
	case time.Time:
		d.t = v
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (d *dbTime) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	d.t = t
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
