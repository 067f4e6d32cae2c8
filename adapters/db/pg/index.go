package pg

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/rendau/httpc/adapters/logger"
)

type St struct {
	debug bool
	lg    logger.WarnAndError

	Con *pgxpool.Pool
}

func New(ctx context.Context, debug bool, lg logger.WarnAndError, opts OptionsSt) (*St, error) {
	cfg, err := opts.getConfig()
	if err != nil {
		lg.Errorw(ErrPrefix+": Fail to create config", err)
		return nil, err
	}

	dbPool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		lg.Errorw(ErrPrefix+": Fail to connect to db", err)
		return nil, err
	}

	return &St{
		debug: debug,
		lg:    lg,
		Con:   dbPool,
	}, nil
}

func (o OptionsSt) getConfig() (*pgxpool.Config, error) {
	o.mergeWithDefaults()

	cfg, err := pgxpool.ParseConfig(o.Dsn)
	if err != nil {
		return nil, err
	}

	cfg.ConnConfig.RuntimeParams["timezone"] = o.Timezone
	cfg.MaxConns = o.MaxConns
	cfg.MinConns = o.MinConns
	cfg.MaxConnLifetime = o.MaxConnLifetime
	cfg.MaxConnIdleTime = o.MaxConnIdleTime
	cfg.HealthCheckPeriod = o.HealthCheckPeriod
	cfg.LazyConnect = o.LazyConnect

	return cfg, nil
}

func (d *St) Close() {
	d.Con.Close()
}

func (d *St) HErr(err error) error {
	if err != nil {
		d.lg.Errorw(ErrPrefix, err)
	}

	return err
}

func (d *St) getCon(ctx context.Context) conSt {
	if tx := d.getContextTransaction(ctx); tx != nil {
		return tx
	}
	return d.Con
}

// transaction

func (d *St) getContextTransaction(ctx context.Context) pgx.Tx {
	contextV := ctx.Value(TransactionCtxKey)
	if contextV == nil {
		return nil
	}

	switch container := contextV.(type) {
	case *txContainerSt:
		return container.tx
	default:
		return nil
	}
}

func (d *St) ContextWithTransaction(ctx context.Context) (context.Context, error) {
	tx, err := d.Con.Begin(ctx)
	if err != nil {
		return ctx, d.HErr(err)
	}

	return context.WithValue(ctx, TransactionCtxKey, &txContainerSt{tx: tx}), nil
}

func (d *St) CommitContextTransaction(ctx context.Context) error {
	tx := d.getContextTransaction(ctx)
	if tx == nil {
		return nil
	}

	err := tx.Commit(ctx)
	if err != nil {
		if !errors.Is(err, pgx.ErrTxClosed) &&
			!errors.Is(err, pgx.ErrTxCommitRollback) {
			_ = tx.Rollback(ctx)

			return d.HErr(err)
		}
	}

	return nil
}

func (d *St) RollbackContextTransaction(ctx context.Context) {
	tx := d.getContextTransaction(ctx)
	if tx == nil {
		return
	}

	_ = tx.Rollback(ctx)
}

// query

func (d *St) DbExec(ctx context.Context, sql string, args ...any) error {
	_, err := d.getCon(ctx).Exec(ctx, sql, args...)
	return d.HErr(err)
}

func (d *St) DbQuery(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := d.getCon(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, d.HErr(err)
	}
	return rowsSt{Rows: rows, db: d}, nil
}

func (d *St) queryRebindNamed(sql string, argMap map[string]any) (string, []any) {
	resultQuery := sql
	args := make([]any, 0, len(argMap))

	for k, v := range argMap {
		if strings.Contains(resultQuery, "${"+k+"}") {
			args = append(args, v)
			resultQuery = strings.ReplaceAll(resultQuery, "${"+k+"}", "$"+strconv.Itoa(len(args)))
		}
	}

	if d.debug {
		if strings.Contains(resultQuery, "${") {
			for _, x := range queryParamRegexp.FindAllString(resultQuery, 1) {
				d.lg.Errorw(ErrPrefix+": missing param", nil, "param", x, "query", resultQuery)
			}
		}
	}

	return resultQuery, args
}

func (d *St) DbExecM(ctx context.Context, sql string, argMap map[string]any) error {
	rbSql, args := d.queryRebindNamed(sql, argMap)

	return d.DbExec(ctx, rbSql, args...)
}

func (d *St) DbQueryM(ctx context.Context, sql string, argMap map[string]any) (Rows, error) {
	rbSql, args := d.queryRebindNamed(sql, argMap)

	return d.DbQuery(ctx, rbSql, args...)
}
