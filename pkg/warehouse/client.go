package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oarkflow/log"
	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"

	"github.com/medbridge/clinsync/pkg/config"
	"github.com/medbridge/clinsync/pkg/utils"
)

// Client is the analytics warehouse connection. Loads are append-only;
// nothing in here updates or deletes existing rows.
type Client struct {
	db     *squealx.DB
	logger *log.Logger
}

type Option func(*Client)

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New opens the warehouse database. A connection failure is fatal to
// the run, so this pings before returning.
func New(cfg config.WarehouseConfig, opts ...Option) (*Client, error) {
	c := &Client{logger: &log.DefaultLogger}
	for _, opt := range opts {
		opt(c)
	}
	db, _, err := connection.FromConfig(squealx.Config{
		Driver:   cfg.Driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to warehouse: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	c.db = db
	c.logger.Info().Str("driver", cfg.Driver).Str("database", cfg.Database).Msg("Connected to warehouse")
	return c, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *squealx.DB, opts ...Option) *Client {
	c := &Client{db: db, logger: &log.DefaultLogger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InsertRows appends a batch into table with a single named insert.
// Every row in the batch must carry the same columns.
func (c *Client) InsertRows(ctx context.Context, table string, rows []utils.Record) error {
	if len(rows) == 0 {
		return nil
	}
	var keys []string
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var valPlaceholders []string
	for _, k := range keys {
		valPlaceholders = append(valPlaceholders, fmt.Sprintf(":%s", k))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(keys, ", "), strings.Join(valPlaceholders, ", "))
	if _, err := c.db.NamedExec(q, rows); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	c.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("Warehouse batch inserted")
	return nil
}

// Query runs a read-only statement and returns column-keyed records.
func (c *Client) Query(ctx context.Context, query string) ([]utils.Record, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("warehouse query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []utils.Record
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		record := make(utils.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		out = append(out, record)
	}
	return out, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.db.Close()
}
