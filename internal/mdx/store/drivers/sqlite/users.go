package sqlite

import (
	"context"

	"github.com/tamv/mdx/internal/mdx/domain"
)

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, created_at
		FROM user_profiles
		WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, username, display_name)
		VALUES (?, ?, ?)`,
		u.ID, u.Username, u.DisplayName,
	)
	return err
}
