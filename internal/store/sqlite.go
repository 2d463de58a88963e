package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		session_token TEXT NOT NULL,
		user_id INTEGER,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON chat_sessions(last_active_at) WHERE active = 1;

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_from_user INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		metadata_json TEXT,
		reply_to TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_reply_to ON chat_messages(reply_to) WHERE reply_to IS NOT NULL;

	CREATE TABLE IF NOT EXISTS shoes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		brand TEXT NOT NULL,
		color TEXT NOT NULL,
		size REAL NOT NULL,
		price REAL NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_shoes_stock ON shoes(stock);

	CREATE TABLE IF NOT EXISTS shoe_embeddings (
		shoe_id INTEGER PRIMARY KEY,
		vector_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
	INSERT INTO chat_sessions (id, session_token, user_id, active, created_at, last_active_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var userID interface{}
	if session.UserID != nil {
		userID = *session.UserID
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.SessionToken, userID, boolToInt(session.Active),
		session.CreatedAt.Unix(), session.LastActiveAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `
		SELECT id, session_token, user_id, active, created_at, last_active_at
		FROM chat_sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.ChatSession
	var userID sql.NullInt64
	var active int
	var createdAt, lastActiveAt int64

	err := row.Scan(&session.ID, &session.SessionToken, &userID, &active, &createdAt, &lastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if userID.Valid {
		session.UserID = &userID.Int64
	}
	session.Active = active != 0
	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastActiveAt = time.Unix(lastActiveAt, 0)

	return &session, nil
}

// TouchSession stamps the session's last-active time.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE chat_sessions SET last_active_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}

	return nil
}

// DeactivateSession marks a session inactive.
func (s *SQLiteStore) DeactivateSession(ctx context.Context, sessionID string) error {
	query := `UPDATE chat_sessions SET active = 0 WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// InsertMessage appends a message to a session's history. Duplicate IDs are
// ignored so redelivered broker work does not double-write.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.ChatMessage) error {
	query := `
	INSERT OR IGNORE INTO chat_messages (id, session_id, content, is_from_user, timestamp, metadata_json, reply_to)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var metadataJSON interface{}
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	var replyTo interface{}
	if rt, ok := msg.Metadata["reply_to"].(string); ok && rt != "" {
		replyTo = rt
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.Content, boolToInt(msg.IsFromUser),
		ts.UnixMilli(), metadataJSON, replyTo,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns the most recent limit messages in chronological order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, session_id, content, is_from_user, timestamp, metadata_json
		FROM (
			SELECT id, session_id, content, is_from_user, timestamp, metadata_json
			FROM chat_messages WHERE session_id = ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var isFromUser int
		var ts int64
		var metadataJSON sql.NullString

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Content, &isFromUser, &ts, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.IsFromUser = isFromUser != 0
		msg.Timestamp = time.UnixMilli(ts)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
				slog.Warn("failed to decode message metadata", "message_id", msg.ID, "error", err)
			}
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return messages, nil
}

// HasReplyTo reports whether a reply for a request message is already stored.
func (s *SQLiteStore) HasReplyTo(ctx context.Context, requestMessageID string) (bool, error) {
	query := `SELECT COUNT(1) FROM chat_messages WHERE reply_to = ?`
	var count int
	if err := s.db.QueryRowContext(ctx, query, requestMessageID).Scan(&count); err != nil {
		return false, fmt.Errorf("query reply_to: %w", err)
	}
	return count > 0, nil
}

// InsertShoe adds a catalog row. The catalog is normally maintained by the
// store-management side; this exists for seeding and tests.
func (s *SQLiteStore) InsertShoe(ctx context.Context, shoe *domain.Shoe) error {
	query := `
	INSERT INTO shoes (name, brand, color, size, price, stock, description)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		shoe.Name, shoe.Brand, shoe.Color, shoe.Size, shoe.Price, shoe.Stock, shoe.Description,
	)
	if err != nil {
		return fmt.Errorf("insert shoe: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		shoe.ID = id
	}
	return nil
}

// FindShoes runs a filtered catalog query ordered by stock descending.
func (s *SQLiteStore) FindShoes(ctx context.Context, filter ShoeFilter) ([]*domain.Shoe, error) {
	var conds []string
	var args []interface{}

	if filter.Size != 0 {
		conds = append(conds, "size = ?")
		args = append(args, filter.Size)
	}
	if filter.Color != "" {
		// Colors are stored as compounds like "Red/White"; match anywhere.
		conds = append(conds, "color LIKE ? COLLATE NOCASE")
		args = append(args, "%"+filter.Color+"%")
	}
	if filter.Brand != "" {
		conds = append(conds, "brand LIKE ? COLLATE NOCASE")
		args = append(args, "%"+filter.Brand+"%")
	}
	if filter.Keyword != "" {
		conds = append(conds, "(name LIKE ? COLLATE NOCASE OR brand LIKE ? COLLATE NOCASE OR color LIKE ? COLLATE NOCASE OR description LIKE ? COLLATE NOCASE)")
		kw := "%" + filter.Keyword + "%"
		args = append(args, kw, kw, kw, kw)
	}
	if filter.InStockOnly {
		conds = append(conds, "stock > 0")
	}

	query := `SELECT id, name, brand, color, size, price, stock, COALESCE(description, '') FROM shoes`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY stock DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 5
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shoes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close shoe rows", "error", closeErr)
		}
	}()

	var shoes []*domain.Shoe
	for rows.Next() {
		var shoe domain.Shoe
		if err := rows.Scan(&shoe.ID, &shoe.Name, &shoe.Brand, &shoe.Color, &shoe.Size, &shoe.Price, &shoe.Stock, &shoe.Description); err != nil {
			return nil, fmt.Errorf("scan shoe row: %w", err)
		}
		shoes = append(shoes, &shoe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shoes: %w", err)
	}

	return shoes, nil
}

// ClosestSizes returns the distinct in-stock sizes nearest to size.
func (s *SQLiteStore) ClosestSizes(ctx context.Context, size float64, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 3
	}
	query := `
		SELECT DISTINCT size FROM shoes
		WHERE stock > 0
		ORDER BY ABS(size - ?) LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, size, limit)
	if err != nil {
		return nil, fmt.Errorf("query closest sizes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close size rows", "error", closeErr)
		}
	}()

	var sizes []float64
	for rows.Next() {
		var sz float64
		if err := rows.Scan(&sz); err != nil {
			return nil, fmt.Errorf("scan size row: %w", err)
		}
		sizes = append(sizes, sz)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sizes: %w", err)
	}

	return sizes, nil
}

// AllShoes returns every catalog row.
func (s *SQLiteStore) AllShoes(ctx context.Context) ([]*domain.Shoe, error) {
	query := `SELECT id, name, brand, color, size, price, stock, COALESCE(description, '') FROM shoes ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all shoes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close shoe rows", "error", closeErr)
		}
	}()

	var shoes []*domain.Shoe
	for rows.Next() {
		var shoe domain.Shoe
		if err := rows.Scan(&shoe.ID, &shoe.Name, &shoe.Brand, &shoe.Color, &shoe.Size, &shoe.Price, &shoe.Stock, &shoe.Description); err != nil {
			return nil, fmt.Errorf("scan shoe row: %w", err)
		}
		shoes = append(shoes, &shoe)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shoes: %w", err)
	}

	return shoes, nil
}

// UpsertEmbedding stores the embedding vector for a shoe.
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, shoeID int64, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
	INSERT INTO shoe_embeddings (shoe_id, vector_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(shoe_id) DO UPDATE SET
		vector_json = excluded.vector_json,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, shoeID, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Embeddings returns all stored shoe embeddings keyed by shoe ID.
func (s *SQLiteStore) Embeddings(ctx context.Context) (map[int64][]float32, error) {
	query := `SELECT shoe_id, vector_json FROM shoe_embeddings`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close embedding rows", "error", closeErr)
		}
	}()

	vectors := make(map[int64][]float32)
	for rows.Next() {
		var shoeID int64
		var vectorJSON string
		if err := rows.Scan(&shoeID, &vectorJSON); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		var vector []float32
		if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
			slog.Warn("failed to decode embedding", "shoe_id", shoeID, "error", err)
			continue
		}
		vectors[shoeID] = vector
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return vectors, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
