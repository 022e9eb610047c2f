package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, tenant_id, username, email, role
		FROM users
		WHERE id = $1
	`

	var u User
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) Search(ctx context.Context, tenantID, query, excludeID string, limit int) ([]User, error) {
	users := []User{}
	query = strings.TrimSpace(query)
	if query == "" {
		return users, nil
	}
	if limit <= 0 {
		limit = 20
	}

	sqlQuery := `
		SELECT id, tenant_id, username, email, role
		FROM users
		WHERE (username ILIKE $1 OR email ILIKE $1)
			AND id <> $2
			AND tenant_id = $3
			AND role IN ('customer', 'trainer')
		ORDER BY username ASC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, sqlQuery, "%"+escapeLike(query)+"%", excludeID, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Role); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
