package pg

import (
	"regexp"
	"time"
)

const (
	ErrPrefix         = "pg-error"
	TransactionCtxKey = "pg_transaction"
)

var defaultOptions = OptionsSt{
	Timezone:          "UTC",
	MaxConns:          10,
	MinConns:          1,
	MaxConnLifetime:   30 * time.Minute,
	MaxConnIdleTime:   15 * time.Minute,
	HealthCheckPeriod: 20 * time.Second,
}

var (
	queryParamRegexp = regexp.MustCompile(`(?si)\$\{[^}]+\}`)
)
