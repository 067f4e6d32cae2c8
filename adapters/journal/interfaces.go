package journal

import (
	"context"
)

// Journal keeps one entry per finished exchange.
type Journal interface {
	Record(ctx context.Context, entry EntrySt) error
	List(ctx context.Context, pars ListParsSt) ([]EntrySt, error)
	Close() error
}
