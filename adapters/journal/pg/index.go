package pg

import (
	"context"
	"time"

	"github.com/rendau/httpc/adapters/db/pg"
	"github.com/rendau/httpc/adapters/journal"
	"github.com/rendau/httpc/adapters/logger"
)

const schemaSql = `
	create table if not exists httpc_journal (
		id             text primary key,
		created_at     timestamptz not null,
		name           text not null default '',
		proto          text not null default '',
		method         text not null default '',
		uri            text not null default '',
		status         int not null default 0,
		bytes_sent     bigint not null default 0,
		bytes_received bigint not null default 0,
		duration_ms    bigint not null default 0,
		error          text not null default ''
	);
	create index if not exists httpc_journal_created_at_idx on httpc_journal (created_at desc);
`

// St keeps entries in a postgres table created on start.
type St struct {
	lg logger.Lite
	db pg.Full
}

func New(ctx context.Context, lg logger.Lite, db pg.Full) (*St, error) {
	s := &St{
		lg: logger.OrNop(lg),
		db: db,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *St) migrate(ctx context.Context) error {
	ctx, err := s.db.ContextWithTransaction(ctx)
	if err != nil {
		return err
	}
	defer s.db.RollbackContextTransaction(ctx)

	if err = s.db.DbExec(ctx, schemaSql); err != nil {
		return err
	}

	return s.db.CommitContextTransaction(ctx)
}

func (s *St) Record(ctx context.Context, entry journal.EntrySt) error {
	entry = journal.Prepare(entry)

	err := s.db.DbExecM(ctx, `
		insert into httpc_journal (
			id, created_at, name, proto, method, uri, status,
			bytes_sent, bytes_received, duration_ms, error
		) values (
			${id}, ${created_at}, ${name}, ${proto}, ${method}, ${uri}, ${status},
			${bytes_sent}, ${bytes_received}, ${duration_ms}, ${error}
		)
	`, map[string]any{
		"id":             entry.Id,
		"created_at":     entry.CreatedAt,
		"name":           entry.Name,
		"proto":          entry.Proto,
		"method":         entry.Method,
		"uri":            entry.Uri,
		"status":         entry.Status,
		"bytes_sent":     entry.BytesSent,
		"bytes_received": entry.BytesReceived,
		"duration_ms":    entry.Duration.Milliseconds(),
		"error":          entry.Error,
	})
	if err != nil {
		s.lg.Errorw("journal record fail", err, "id", entry.Id)
		return err
	}

	return nil
}

// List returns entries newest first.
func (s *St) List(ctx context.Context, pars journal.ListParsSt) ([]journal.EntrySt, error) {
	qWhere := ` where 1=1`
	args := map[string]any{}

	if pars.Since != nil {
		qWhere += ` and created_at >= ${since}`
		args["since"] = *pars.Since
	}
	if pars.OnlyErrors {
		qWhere += ` and (error != '' or status >= 400)`
	}

	qLimit := ``
	if pars.Limit > 0 {
		qLimit = ` limit ${limit}`
		args["limit"] = pars.Limit
	}

	rows, err := s.db.DbQueryM(ctx, `
		select id, created_at, name, proto, method, uri, status,
			bytes_sent, bytes_received, duration_ms, error
		from httpc_journal`+qWhere+`
		order by created_at desc`+qLimit, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]journal.EntrySt, 0)

	for rows.Next() {
		var entry journal.EntrySt
		var durationMs int64

		err = rows.Scan(
			&entry.Id,
			&entry.CreatedAt,
			&entry.Name,
			&entry.Proto,
			&entry.Method,
			&entry.Uri,
			&entry.Status,
			&entry.BytesSent,
			&entry.BytesReceived,
			&durationMs,
			&entry.Error,
		)
		if err != nil {
			return nil, err
		}

		entry.Duration = time.Duration(durationMs) * time.Millisecond

		result = append(result, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Close is a no-op, the pool belongs to the caller.
func (s *St) Close() error {
	return nil
}
