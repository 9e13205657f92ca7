package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/nahid-mahmud/clinicbook/libs/db"
	"github.com/nahid-mahmud/clinicbook/services/booking-service/internal/model"
)

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Get(ctx context.Context, id int64) (model.User, bool, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, role, password_hash
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return u, true, nil
}
