package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/worksheetlab/worksheet-api/internal/database"
	"github.com/worksheetlab/worksheet-api/internal/model"
	"github.com/worksheetlab/worksheet-api/internal/utils"
)

// UserRepo persists rows of the 'users' table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,external_id,email,password_hash,name,picture,role,stripe_customer_id,lifetime_usage,last_login_at,created_at,updated_at"

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u          model.User
		externalID sql.NullString
		picture    sql.NullString
		customerID sql.NullString
		lastLogin  sql.NullTime
	)
	err := row.Scan(&u.ID, &externalID, &u.Email, &u.PasswordHash, &u.Name, &picture,
		&u.Role, &customerID, &u.LifetimeUsage, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	if externalID.Valid {
		u.ExternalID = &externalID.String
	}
	if picture.Valid {
		u.Picture = &picture.String
	}
	if customerID.Valid {
		u.StripeCustomerID = &customerID.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

// Create inserts a user with a hashed password and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, name, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, name, role) VALUES (?,?,?,?)",
		email, hash, name, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, storeErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr(err)
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		u, scanErr = scanUser(r.DB.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
		return scanErr
	})
	return u, storeErr(err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		u, scanErr = scanUser(r.DB.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
		return scanErr
	})
	return u, storeErr(err)
}

// GetByStripeCustomer fetches the user owning a payment provider
// customer reference. Used by the webhook reconciler when an event
// carries only the customer id.
func (r *UserRepo) GetByStripeCustomer(ctx context.Context, customerID string) (model.User, error) {
	var u model.User
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		u, scanErr = scanUser(r.DB.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE stripe_customer_id=? LIMIT 1", customerID))
		return scanErr
	})
	return u, storeErr(err)
}

// SetStripeCustomer stores the payment provider customer reference once
// the gateway has created it. Safe to repeat with the same value.
func (r *UserRepo) SetStripeCustomer(ctx context.Context, userID uint64, customerID string) error {
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, execErr := r.DB.ExecContext(ctx,
			"UPDATE users SET stripe_customer_id=? WHERE id=?", customerID, userID)
		return execErr
	})
	return storeErr(err)
}

// TouchLogin updates the mutable identity fields on every successful
// login: display name, picture and the last-login timestamp.
func (r *UserRepo) TouchLogin(ctx context.Context, userID uint64, name string, picture *string) error {
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, execErr := r.DB.ExecContext(ctx,
			"UPDATE users SET name=?, picture=?, last_login_at=NOW() WHERE id=?",
			name, picture, userID)
		return execErr
	})
	return storeErr(err)
}

// Delete removes a user account. Subscription and usage rows reference
// users with ON DELETE CASCADE, so explicit account deletion takes the
// dependent rows with it.
func (r *UserRepo) Delete(ctx context.Context, userID uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", userID)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
