package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/retry"
	ne "wuyrush.io/note/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS docs (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       BLOB NOT NULL,
	rev        INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (collection, id)
);`

// SQLiteStore is a DocStore backed by a single SQLite table. Every document carries a revision
// number; ConditionalUpdate writes only if the revision it read is still current, so concurrent
// updaters in any number of processes sharing the database file never lose writes.
type SQLiteStore struct {
	DB *sql.DB
}

// NewSQLiteStore opens the database at path, creating the schema if needed.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, ne.NewServiceFailure("error opening sqlite database").WithCause(err)
	}
	// sqlite serializes writers anyway; one connection keeps SQLITE_BUSY out of the picture
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, ne.NewServiceFailure("error creating sqlite schema").WithCause(err)
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, coll, id string) ([]byte, error) {
	body, _, err := s.get(ctx, coll, id)
	return body, err
}

func (s *SQLiteStore) get(ctx context.Context, coll, id string) ([]byte, int64, error) {
	var (
		body []byte
		rev  int64
	)
	err := s.DB.QueryRowContext(ctx, `SELECT body, rev FROM docs WHERE collection = ? AND id = ?`, coll, id).Scan(&body, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, errDocNotFound(coll, id)
	} else if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error reading document from sqlite")
		return nil, 0, ne.NewServiceFailure("error reading document").WithCause(err)
	}
	return body, rev, nil
}

func (s *SQLiteStore) Put(ctx context.Context, coll, id string, body []byte) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO docs (collection, id, body) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, rev = docs.rev + 1`,
		coll, id, body)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error writing document to sqlite")
		return ne.NewServiceFailure("error writing document").WithCause(err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, coll, id string, body []byte) error {
	res, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO docs (collection, id, body) VALUES (?, ?, ?)`, coll, id, body)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error creating document in sqlite")
		return ne.NewServiceFailure("error creating document").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ne.NewServiceFailure("error creating document").WithCause(err)
	}
	if n == 0 {
		return errDocExisted(coll, id)
	}
	return nil
}

// errRevMoved signals that a document changed between read and conditional write
var errRevMoved = errors.New("document revision moved")

func (s *SQLiteStore) ConditionalUpdate(ctx context.Context, coll, id string, fn UpdateFunc) (bool, error) {
	applied := false
	err := retry.Retry(
		func() error {
			cur, rev, err := s.get(ctx, coll, id)
			if err != nil {
				return err
			}
			next, apply, err := fn(cur)
			if err != nil || !apply {
				applied = false
				return err
			}
			res, err := s.DB.ExecContext(ctx,
				`UPDATE docs SET body = ?, rev = rev + 1 WHERE collection = ? AND id = ? AND rev = ?`,
				next, coll, id, rev)
			if err != nil {
				logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error updating document in sqlite")
				return ne.NewServiceFailure("error updating document").WithCause(err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return ne.NewServiceFailure("error updating document").WithCause(err)
			}
			if n == 0 {
				return errRevMoved
			}
			applied = true
			return nil
		},
		retry.WithRetryOn(func(err error) bool { return errors.Is(err, errRevMoved) && ctx.Err() == nil }),
		retry.WithMaxAttempts(64),
		retry.WithBaseDelay(time.Millisecond),
		retry.WithJitter(1),
	)
	if errors.Is(err, errRevMoved) {
		return false, ne.NewConflict("document kept changing during update").WithCause(err)
	}
	return applied, err
}

func (s *SQLiteStore) ConditionalDelete(ctx context.Context, coll, id string, fn DeleteFunc) (bool, error) {
	deleted := false
	err := retry.Retry(
		func() error {
			deleted = false
			cur, rev, err := s.get(ctx, coll, id)
			if err != nil {
				return err
			}
			del, err := fn(cur)
			if err != nil || !del {
				return err
			}
			res, err := s.DB.ExecContext(ctx,
				`DELETE FROM docs WHERE collection = ? AND id = ? AND rev = ?`, coll, id, rev)
			if err != nil {
				logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error deleting document from sqlite")
				return ne.NewServiceFailure("error deleting document").WithCause(err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return ne.NewServiceFailure("error deleting document").WithCause(err)
			}
			if n == 0 {
				return errRevMoved
			}
			deleted = true
			return nil
		},
		retry.WithRetryOn(func(err error) bool { return errors.Is(err, errRevMoved) && ctx.Err() == nil }),
		retry.WithMaxAttempts(64),
		retry.WithBaseDelay(time.Millisecond),
		retry.WithJitter(1),
	)
	if errors.Is(err, errRevMoved) {
		return false, ne.NewConflict("document kept changing during delete").WithCause(err)
	}
	return deleted, err
}

func (s *SQLiteStore) Query(ctx context.Context, coll string, filters ...Filter) ([][]byte, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT body FROM docs WHERE collection = ? ORDER BY id`, coll)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("collection", coll).Error("error querying sqlite")
		return nil, ne.NewServiceFailure("error querying documents").WithCause(err)
	}
	defer rows.Close()
	out := [][]byte{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, ne.NewServiceFailure("error scanning document").WithCause(err)
		}
		ok, err := Match(body, filters...)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, body)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ne.NewServiceFailure("error iterating documents").WithCause(err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, coll, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM docs WHERE collection = ? AND id = ?`, coll, id); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error deleting document from sqlite")
		return ne.NewServiceFailure("error deleting document").WithCause(err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.DB.Close(); err != nil {
		return ne.NewServiceFailure("error closing sqlite database").WithCause(err)
	}
	return nil
}
