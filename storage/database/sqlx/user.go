package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/user"
)

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

type dbUser struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     sql.NullString `db:"username"`
	Email        sql.NullString `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
	LastLogin    sql.NullTime   `db:"last_login"`
}

const userColumns = `id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login`

func (repo userRepository) pack(usr user.User) dbUser {
	u := dbUser{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     sql.NullString{String: usr.Username, Valid: usr.Username != ""},
		Email:        sql.NullString{String: usr.Email, Valid: usr.Email != ""},
		Roles:        pq.StringArray(usr.Roles),
		PasswordHash: usr.PasswordHash,
		CreatedAt:    sql.NullTime{Time: usr.CreatedAt.UTC(), Valid: !usr.CreatedAt.IsZero()},
		UpdatedAt:    sql.NullTime{Time: usr.UpdatedAt.UTC(), Valid: !usr.UpdatedAt.IsZero()},
		LastLogin:    sql.NullTime{Time: usr.LastLogin.UTC(), Valid: !usr.LastLogin.IsZero()},
	}
	if usr.IsActive != nil {
		u.IsActive = *usr.IsActive
	}
	return u
}

func (repo userRepository) unpack(u dbUser) user.User {
	isActive := u.IsActive
	return user.User{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username.String,
		Email:        u.Email.String,
		IsActive:     &isActive,
		Roles:        []string(u.Roles),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.Time,
		UpdatedAt:    u.UpdatedAt.Time,
		LastLogin:    u.LastLogin.Time,
	}
}

func (repo userRepository) unpackSlice(slice []dbUser) []user.User {
	users := make([]user.User, 0, len(slice))
	for _, u := range slice {
		users = append(users, repo.unpack(u))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	exclIDs := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		exclIDs = append(exclIDs, u.ID)
	}

	check := func(column, value string, existsErr error) error {
		if value == "" {
			return nil
		}
		var exists bool
		query := `SELECT EXISTS (SELECT 1 FROM users WHERE ` + column + ` = $1 AND id != ALL($2))`
		if err := repo.db.GetContext(ctx, &exists, query, value, pq.Array(exclIDs)); err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if exists {
			return existsErr
		}
		return nil
	}

	if err := check("username", username, user.ErrUsernameExists); err != nil {
		return err
	}
	return check("email", email, user.ErrEmailExists)
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	u := repo.pack(usr)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)`, u)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.unpack(u), nil
}

func (repo userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	var users []dbUser
	err := repo.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unpackSlice(users), nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	var u dbUser
	err := repo.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user by id")
	}
	return repo.unpack(u), nil
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	var u dbUser
	err := repo.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1`, username)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user by username or email")
	}
	return repo.unpack(u), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	u := repo.pack(usr)
	_, err := repo.db.NamedExecContext(ctx, `
		UPDATE users
		SET name          = :name,
		    username      = :username,
		    email         = :email,
		    is_active     = :is_active,
		    roles         = :roles,
		    password_hash = :password_hash,
		    updated_at    = :updated_at,
		    last_login    = :last_login
		WHERE id = :id`, u)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return repo.unpack(u), nil
}
