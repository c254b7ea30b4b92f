package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roomchat/internal/access"
	"roomchat/internal/auth"
	"roomchat/internal/models"

	"gorm.io/gorm"
)

const (
	// TempPassword is assigned by ResetPassword and shown to the admin once.
	TempPassword = "Temp1234!"
	// UsersPerPage is the admin user listing page size.
	UsersPerPage      = 10
	minPasswordLength = 6
)

// UserService owns accounts: credentials, roles and the active flag.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// EnsureAdmin creates the bootstrap admin account if it does not exist.
func (s *UserService) EnsureAdmin(ctx context.Context, password string) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", models.AdminUsername).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		created = true
		return tx.Create(&models.User{
			Username:     models.AdminUsername,
			PasswordHash: hash,
			Role:         models.RoleAdmin,
			Active:       true,
		}).Error
	})
	return created, err
}

// Authenticate checks username and password. Inactive accounts fail with
// ErrInactiveAccount even when the password is right.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInactiveAccount
	}
	return &user, nil
}

// Create adds an active account. Only admins may create users.
func (s *UserService) Create(ctx context.Context, actor models.User, username, password, role string) (*models.User, error) {
	if !access.Allow(actor, access.ManageUsers) {
		return nil, ErrForbidden
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if len(username) > 80 {
		return nil, fmt.Errorf("%w: username too long", ErrInvalidInput)
	}
	r, err := models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		user = models.User{Username: username, PasswordHash: hash, Role: r, Active: true}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// modifyTarget runs fn on the target account inside a transaction after the
// admin and protected-account checks pass.
func (s *UserService) modifyTarget(ctx context.Context, actor models.User, id uint, fn func(tx *gorm.DB, u *models.User) error) (*models.User, error) {
	if !access.Allow(actor, access.ManageUsers) {
		return nil, ErrForbidden
	}
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if user.IsProtected() {
			return ErrProtectedAccount
		}
		return fn(tx, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserService) SetRole(ctx context.Context, actor models.User, id uint, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		u.Role = role
		return tx.Model(u).Update("role", role).Error
	})
}

// SetActive enables or disables an account. Disabling also ends its sessions.
func (s *UserService) SetActive(ctx context.Context, actor models.User, id uint, active bool) (*models.User, error) {
	return s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		return setActive(tx, u, active)
	})
}

// Toggle flips the active flag.
func (s *UserService) Toggle(ctx context.Context, actor models.User, id uint) (*models.User, error) {
	return s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		return setActive(tx, u, !u.Active)
	})
}

func setActive(tx *gorm.DB, u *models.User, active bool) error {
	u.Active = active
	if err := tx.Model(u).Update("active", active).Error; err != nil {
		return err
	}
	if !active {
		return auth.RevokeUserSessions(tx, u.ID)
	}
	return nil
}

// Promote makes a non-admin an admin, and demotes an admin back to member.
func (s *UserService) Promote(ctx context.Context, actor models.User, id uint) (*models.User, error) {
	return s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		switch u.Role {
		case models.RoleAdmin:
			u.Role = models.RoleMember
		case models.RoleModerator, models.RoleMember:
			u.Role = models.RoleAdmin
		default:
			u.Role = models.RoleMember
		}
		return tx.Model(u).Update("role", u.Role).Error
	})
}

// EditResult reports which fields Edit changed.
type EditResult struct {
	User            *models.User
	RoleChanged     bool
	PasswordChanged bool
}

// Edit changes role and/or password. Empty arguments leave the field alone.
func (s *UserService) Edit(ctx context.Context, actor models.User, id uint, role, password string) (*EditResult, error) {
	var newRole models.Role
	if strings.TrimSpace(role) != "" {
		r, err := models.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		newRole = r
	}
	res := &EditResult{}
	user, err := s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		updates := map[string]interface{}{}
		if newRole != "" && newRole != u.Role {
			u.Role = newRole
			updates["role"] = newRole
			res.RoleChanged = true
		}
		if password != "" {
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			u.PasswordHash = hash
			updates["password_hash"] = hash
			res.PasswordChanged = true
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(u).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	res.User = user
	return res, nil
}

// ResetPassword sets TempPassword on the target and returns it for display.
func (s *UserService) ResetPassword(ctx context.Context, actor models.User, id uint) (*models.User, string, error) {
	user, err := s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		hash, err := auth.HashPassword(TempPassword)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		return tx.Model(u).Update("password_hash", hash).Error
	})
	if err != nil {
		return nil, "", err
	}
	return user, TempPassword, nil
}

// Delete removes the account and its sessions. Messages stay behind.
func (s *UserService) Delete(ctx context.Context, actor models.User, id uint) (*models.User, error) {
	return s.modifyTarget(ctx, actor, id, func(tx *gorm.DB, u *models.User) error {
		if err := tx.Where("user_id = ?", u.ID).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		return tx.Delete(u).Error
	})
}

// ChangeOwnPassword lets an admin rotate their own password.
func (s *UserService) ChangeOwnPassword(ctx context.Context, actor models.User, oldPassword, newPassword string) error {
	if !access.Allow(actor, access.ChangeOwnPassword) {
		return ErrForbidden
	}
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, actor.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !auth.VerifyPassword(user.PasswordHash, oldPassword) {
			return ErrInvalidCredentials
		}
		hash, err := auth.HashPassword(newPassword)
		if err != nil {
			return err
		}
		return tx.Model(&user).Update("password_hash", hash).Error
	})
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users   []models.User
	Total   int64
	Page    int
	PerPage int
	Pages   int
	Query   string
}

// List searches usernames by case-insensitive substring, ordered by name.
func (s *UserService) List(ctx context.Context, actor models.User, query string, page int) (*UserPage, error) {
	if !access.Allow(actor, access.ManageUsers) {
		return nil, ErrForbidden
	}
	if page < 1 {
		page = 1
	}
	query = strings.TrimSpace(query)
	scope := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.User{})
		if query != "" {
			q = q.Where("LOWER(username) LIKE ?", "%"+strings.ToLower(query)+"%")
		}
		return q
	}
	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, err
	}
	var users []models.User
	if err := scope().Order("username asc").Offset((page - 1) * UsersPerPage).Limit(UsersPerPage).Find(&users).Error; err != nil {
		return nil, err
	}
	pages := int((total + UsersPerPage - 1) / UsersPerPage)
	return &UserPage{Users: users, Total: total, Page: page, PerPage: UsersPerPage, Pages: pages, Query: query}, nil
}
