package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DBConfig holds postgres connection parameters.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DBConfig) connString() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, ssl)
}

const maxConnectAttempts = 10

// ConnectWithRetries opens the database and pings it until it answers.
func ConnectWithRetries(ctx context.Context, cfg DBConfig, logger *zap.Logger) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	for i := 0; i < maxConnectAttempts; i++ {
		db, err = sql.Open("postgres", cfg.connString())
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err == nil {
			logger.Info("connected to database", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))
			return db, nil
		}
		if db != nil {
			_ = db.Close()
		}
		logger.Warn("waiting for database", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", maxConnectAttempts, err)
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	session_id VARCHAR(64) NOT NULL,
	trade_id VARCHAR(64) NOT NULL,
	symbol VARCHAR(50) NOT NULL,
	price BIGINT NOT NULL,
	quantity BIGINT NOT NULL,
	buy_order_id VARCHAR(255),
	sell_order_id VARCHAR(255),
	buyer_id VARCHAR(255),
	seller_id VARCHAR(255),
	executed_at TIMESTAMPTZ,
	PRIMARY KEY (session_id, trade_id)
);
CREATE TABLE IF NOT EXISTS orders (
	session_id VARCHAR(64) NOT NULL,
	order_id VARCHAR(255) NOT NULL,
	owner_id VARCHAR(255) NOT NULL,
	symbol VARCHAR(50) NOT NULL,
	side VARCHAR(8) NOT NULL,
	type VARCHAR(8) NOT NULL,
	status VARCHAR(24) NOT NULL,
	price BIGINT NOT NULL,
	quantity BIGINT NOT NULL,
	filled BIGINT NOT NULL,
	agent BOOLEAN NOT NULL,
	updated_at TIMESTAMPTZ,
	PRIMARY KEY (session_id, order_id)
);
CREATE TABLE IF NOT EXISTS grants (
	session_id VARCHAR(64) NOT NULL,
	seq BIGINT NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	code INT NOT NULL,
	granted BOOLEAN NOT NULL,
	source VARCHAR(32),
	at TIMESTAMPTZ,
	PRIMARY KEY (session_id, seq)
);`

// PostgresStore writes records to postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres ensures the schema exists on an open pool.
func NewPostgres(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveTrade(ctx context.Context, t TradeRecord) error {
	_, err := p.db.ExecContext(ctx, `
	INSERT INTO trades (session_id, trade_id, symbol, price, quantity, buy_order_id, sell_order_id, buyer_id, seller_id, executed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (session_id, trade_id) DO NOTHING;`,
		t.SessionID, t.TradeID, t.Symbol, t.Price, t.Quantity,
		t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID, t.ExecutedAt)
	return err
}

func (p *PostgresStore) SaveOrder(ctx context.Context, o OrderRecord) error {
	_, err := p.db.ExecContext(ctx, `
	INSERT INTO orders (session_id, order_id, owner_id, symbol, side, type, status, price, quantity, filled, agent, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (session_id, order_id) DO UPDATE
	SET status = EXCLUDED.status, price = EXCLUDED.price, quantity = EXCLUDED.quantity,
		filled = EXCLUDED.filled, updated_at = EXCLUDED.updated_at;`,
		o.SessionID, o.OrderID, o.OwnerID, o.Symbol, o.Side, o.Type, o.Status,
		o.Price, o.Quantity, o.Filled, o.Agent, o.UpdatedAt)
	return err
}

func (p *PostgresStore) SaveGrant(ctx context.Context, g GrantRecord) error {
	_, err := p.db.ExecContext(ctx, `
	INSERT INTO grants (session_id, seq, user_id, code, granted, source, at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (session_id, seq) DO NOTHING;`,
		g.SessionID, g.Seq, g.UserID, g.Code, g.Granted, g.Source, g.At)
	return err
}

func (p *PostgresStore) Trades(ctx context.Context, sessionID string) ([]TradeRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
	SELECT session_id, trade_id, symbol, price, quantity, buy_order_id, sell_order_id, buyer_id, seller_id, executed_at
	FROM trades WHERE session_id = $1 ORDER BY executed_at, trade_id;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.SessionID, &t.TradeID, &t.Symbol, &t.Price, &t.Quantity,
			&t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Orders(ctx context.Context, sessionID string) ([]OrderRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
	SELECT session_id, order_id, owner_id, symbol, side, type, status, price, quantity, filled, agent, updated_at
	FROM orders WHERE session_id = $1 ORDER BY order_id;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.SessionID, &o.OrderID, &o.OwnerID, &o.Symbol, &o.Side, &o.Type, &o.Status,
			&o.Price, &o.Quantity, &o.Filled, &o.Agent, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Grants(ctx context.Context, sessionID string) ([]GrantRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
	SELECT session_id, seq, user_id, code, granted, source, at
	FROM grants WHERE session_id = $1 ORDER BY seq;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GrantRecord
	for rows.Next() {
		var g GrantRecord
		if err := rows.Scan(&g.SessionID, &g.Seq, &g.UserID, &g.Code, &g.Granted, &g.Source, &g.At); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
