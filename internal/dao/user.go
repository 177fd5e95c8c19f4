package dao

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/store"
)

const usersTable = "users"

// RegisterInput is the payload UserDAO.Register needs to bring a new
// account into existence.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Phone       *string
	DateOfBirth *time.Time
}

// UserDAO owns the User row and, per spec §9's resolved Open
// Question, creates the paired Balance row atomically alongside it.
type UserDAO struct {
	store     *store.Adapter
	passwords *passwordManager
}

// NewUserDAO builds a UserDAO over adapter.
func NewUserDAO(adapter *store.Adapter) *UserDAO {
	return &UserDAO{store: adapter, passwords: newPasswordManager()}
}

// Register validates and hashes the password, then writes the User
// and its zero-balance Balance row in one store transaction — neither
// is visible to any reader unless both commit.
func (d *UserDAO) Register(ctx context.Context, in RegisterInput) (*entities.User, error) {
	if err := d.passwords.validateStrength(in.Password); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidationError, err.Error(), err)
	}
	hash, err := d.passwords.hash(in.Password)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "hash password", err)
	}

	now := time.Now().UTC()
	user := entities.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		DateOfBirth:  in.DateOfBirth,
		Role:         entities.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	balance := entities.Balance{
		Username:       in.Username,
		CurrentBalance: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	userAttrs, err := store.Encode(user)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "encode user", err)
	}
	balanceAttrs, err := store.Encode(balance)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "encode balance", err)
	}

	userPk, userSk := entities.UserKey(in.Username)
	balPk, balSk := entities.BalanceKey(in.Username)

	items := []*store.Item{
		{Pk: userPk, Sk: userSk, Attrs: userAttrs},
		{Pk: balPk, Sk: balSk, Attrs: balanceAttrs},
	}
	conds := []store.Condition{store.ConditionNotExists, store.ConditionNotExists}

	if err := d.store.PutAll(ctx, usersTable, items, conds); err != nil {
		if apperrors.Is(err, apperrors.KindEntityAlreadyExists) {
			return nil, apperrors.New(apperrors.KindEntityAlreadyExists, "username or email already registered")
		}
		return nil, err
	}
	return &user, nil
}

// GetByUsername fetches the User row, or KindEntityNotFound.
func (d *UserDAO) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	pk, sk := entities.UserKey(username)
	item, err := d.store.Get(ctx, usersTable, store.Key{Pk: pk, Sk: sk})
	if err != nil {
		return nil, err
	}
	var user entities.User
	if err := item.Decode(&user); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode user", err)
	}
	return &user, nil
}

// GetByEmail looks the account up by its globally unique email.
func (d *UserDAO) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	item, err := d.store.GetByAttr(ctx, usersTable, entities.SkUser, "email", email)
	if err != nil {
		return nil, err
	}
	var user entities.User
	if err := item.Decode(&user); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode user", err)
	}
	return &user, nil
}

// ProfileUpdate is the set of User fields PUT /auth/me may change.
// Username, email, password, and role are immutable through this
// path.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	Phone       *string
	DateOfBirth *time.Time
}

// UpdateProfile applies upd to username's User row, leaving unset
// fields untouched.
func (d *UserDAO) UpdateProfile(ctx context.Context, username string, upd ProfileUpdate) (*entities.User, error) {
	pk, sk := entities.UserKey(username)
	item, err := d.store.Mutate(ctx, usersTable, store.Key{Pk: pk, Sk: sk}, func(existing *store.Item) (store.SetOps, error) {
		if existing == nil {
			return nil, apperrors.New(apperrors.KindEntityNotFound, "user "+username+" not found")
		}
		ops := store.SetOps{"updated_at": time.Now().UTC()}
		if upd.FirstName != nil {
			ops["first_name"] = *upd.FirstName
		}
		if upd.LastName != nil {
			ops["last_name"] = *upd.LastName
		}
		if upd.Phone != nil {
			ops["phone"] = *upd.Phone
		}
		if upd.DateOfBirth != nil {
			ops["date_of_birth"] = *upd.DateOfBirth
		}
		return ops, nil
	})
	if err != nil {
		return nil, err
	}
	var user entities.User
	if err := item.Decode(&user); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode user", err)
	}
	return &user, nil
}

// Authenticate verifies username/password, returning
// KindInvalidCredentials on any mismatch — including an unknown
// username, so the two failure modes are indistinguishable to the
// caller (spec §7).
func (d *UserDAO) Authenticate(ctx context.Context, username, password string) (*entities.User, error) {
	user, err := d.GetByUsername(ctx, username)
	if err != nil {
		if apperrors.Is(err, apperrors.KindEntityNotFound) {
			return nil, apperrors.New(apperrors.KindInvalidCredentials, "invalid username or password")
		}
		return nil, err
	}
	if !d.passwords.verify(password, user.PasswordHash) {
		return nil, apperrors.New(apperrors.KindInvalidCredentials, "invalid username or password")
	}
	return user, nil
}
