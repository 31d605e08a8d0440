package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/keys"
	"github.com/krapi/krapi/pkg/models"
)

const adminColumns = `id, email, name, password_hash, role, access_level, api_key, active, created_at, updated_at`

const userColumns = `id, email, username, password_hash, scopes, active, created_at, updated_at`

// AdministratorSpec is the input for creating an administrator.
type AdministratorSpec struct {
	Email       string
	Name        string
	Password    string
	Role        string
	AccessLevel int
}

// AdministratorPatch holds optional updates to an administrator.
type AdministratorPatch struct {
	Name        *string
	Role        *string
	AccessLevel *int
	Active      *bool
	Password    *string
}

// UserSpec is the input for creating a tenant user.
type UserSpec struct {
	Email    string
	Username string
	Password string
	Scopes   []string
}

// UserPatch holds optional updates to a tenant user.
type UserPatch struct {
	Username *string
	Scopes   []string
	Active   *bool
	Password *string
}

// --- Administrators (administrative store) ---

// CreateAdministrator adds a global control-plane identity with a salted
// password hash and a generated control-plane access key.
func (s *Service) CreateAdministrator(ctx context.Context, spec AdministratorSpec) (*models.Administrator, error) {
	const op = "service.CreateAdministrator"
	if spec.Email == "" || spec.Password == "" {
		return nil, errs.Validation(op, "email and password are required")
	}
	role := spec.Role
	if role == "" {
		role = models.RoleDeveloper
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(spec.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.Validation(op, "password cannot be hashed")
	}

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &models.Administrator{
		ID:           uuid.NewString(),
		Email:        spec.Email,
		Name:         spec.Name,
		PasswordHash: string(hash),
		Role:         role,
		AccessLevel:  spec.AccessLevel,
		APIKey:       keys.NewMasterKey(),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.withRepair(ctx, admin, func() error {
		_, err := admin.Exec(ctx, `
			INSERT INTO admins (id, email, name, password_hash, role, access_level, api_key, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			a.ID, a.Email, a.Name, a.PasswordHash, a.Role, a.AccessLevel, a.APIKey,
			a.CreatedAt, a.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.DuplicateName(op, "admin", spec.Email)
		}
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return a, nil
}

// GetAdministrator returns one administrator by identifier.
func (s *Service) GetAdministrator(ctx context.Context, id string) (*models.Administrator, error) {
	return s.getAdministrator(ctx, "service.GetAdministrator", `id = ?`, id)
}

// GetAdministratorByEmail returns one administrator by email.
func (s *Service) GetAdministratorByEmail(ctx context.Context, email string) (*models.Administrator, error) {
	return s.getAdministrator(ctx, "service.GetAdministratorByEmail", `email = ?`, email)
}

func (s *Service) getAdministrator(ctx context.Context, op, where string, arg any) (*models.Administrator, error) {
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	var a *models.Administrator
	err = s.withRepair(ctx, admin, func() error {
		row := admin.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE `+where, arg)
		a, err = scanAdministrator(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "admin", "")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return a, nil
}

// ListAdministrators returns all administrators, oldest first.
func (s *Service) ListAdministrators(ctx context.Context) ([]*models.Administrator, error) {
	const op = "service.ListAdministrators"
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	var admins []*models.Administrator
	err = s.withRepair(ctx, admin, func() error {
		rows, err := admin.Query(ctx, `SELECT `+adminColumns+` FROM admins ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		admins = admins[:0]
		for rows.Next() {
			a, err := scanAdministrator(rows)
			if err != nil {
				return err
			}
			admins = append(admins, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	if admins == nil {
		admins = []*models.Administrator{}
	}
	return admins, nil
}

// UpdateAdministrator applies a patch to an administrator.
func (s *Service) UpdateAdministrator(ctx context.Context, id string, patch AdministratorPatch) (*models.Administrator, error) {
	const op = "service.UpdateAdministrator"
	a, err := s.GetAdministrator(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Role != nil {
		a.Role = *patch.Role
	}
	if patch.AccessLevel != nil {
		a.AccessLevel = *patch.AccessLevel
	}
	if patch.Active != nil {
		a.Active = *patch.Active
	}
	if patch.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*patch.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, errs.Validation(op, "password cannot be hashed")
		}
		a.PasswordHash = string(hash)
	}
	a.UpdatedAt = time.Now().UTC()

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	_, err = admin.Exec(ctx, `
		UPDATE admins SET name = ?, role = ?, access_level = ?, active = ?, password_hash = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Role, a.AccessLevel, boolInt(a.Active), a.PasswordHash, a.UpdatedAt, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return a, nil
}

// DeleteAdministrator removes an administrator.
func (s *Service) DeleteAdministrator(ctx context.Context, id string) (bool, error) {
	const op = "service.DeleteAdministrator"
	admin, err := s.admin(ctx)
	if err != nil {
		return false, err
	}
	res, err := admin.Exec(ctx, `DELETE FROM admins WHERE id = ?`, id)
	if err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AuthenticateAdministrator verifies an administrator's credentials via
// salted-hash comparison. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) AuthenticateAdministrator(ctx context.Context, email, password string) (*models.Administrator, error) {
	const op = "service.AuthenticateAdministrator"
	a, err := s.GetAdministratorByEmail(ctx, email)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.NotFound(op, "admin", "")
		}
		return nil, err
	}
	if !a.Active {
		return nil, errs.NotFound(op, "admin", "")
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, errs.NotFound(op, "admin", "")
	}
	return a, nil
}

// --- Tenant users (tenant store) ---

// CreateUser adds an end-user account in the project's store. Users are an
// independent credential space from administrators.
func (s *Service) CreateUser(ctx context.Context, projectID string, spec UserSpec) (*models.User, error) {
	const op = "service.CreateUser"
	if spec.Email == "" || spec.Password == "" {
		return nil, errs.Validation(op, "email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(spec.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.Validation(op, "password cannot be hashed")
	}

	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        spec.Email,
		Username:     spec.Username,
		PasswordHash: string(hash),
		Scopes:       spec.Scopes,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.withRepair(ctx, tenant, func() error {
		_, err := tenant.Exec(ctx, `
			INSERT INTO users (id, email, username, password_hash, scopes, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			u.ID, u.Email, u.Username, u.PasswordHash, mustJSON(u.Scopes), u.CreatedAt, u.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.DuplicateName(op, projectID, spec.Email)
		}
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, "", "user.created", "user", u.ID, u.Email)
	return u, nil
}

// GetUser returns one tenant user by identifier.
func (s *Service) GetUser(ctx context.Context, projectID, id string) (*models.User, error) {
	return s.getUser(ctx, "service.GetUser", projectID, `id = ?`, id)
}

// GetUserByEmail returns one tenant user by email.
func (s *Service) GetUserByEmail(ctx context.Context, projectID, email string) (*models.User, error) {
	return s.getUser(ctx, "service.GetUserByEmail", projectID, `email = ?`, email)
}

func (s *Service) getUser(ctx context.Context, op, projectID, where string, arg any) (*models.User, error) {
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var u *models.User
	err = s.withRepair(ctx, tenant, func() error {
		row := tenant.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
		u, err = scanUser(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, projectID, "")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	return u, nil
}

// ListUsers returns all users in a project, oldest first.
func (s *Service) ListUsers(ctx context.Context, projectID string) ([]*models.User, error) {
	const op = "service.ListUsers"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var users []*models.User
	err = s.withRepair(ctx, tenant, func() error {
		rows, err := tenant.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	if users == nil {
		users = []*models.User{}
	}
	return users, nil
}

// UpdateUser applies a patch to a tenant user.
func (s *Service) UpdateUser(ctx context.Context, projectID, id string, patch UserPatch) (*models.User, error) {
	const op = "service.UpdateUser"
	u, err := s.GetUser(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	if patch.Username != nil {
		u.Username = *patch.Username
	}
	if patch.Scopes != nil {
		u.Scopes = patch.Scopes
	}
	if patch.Active != nil {
		u.Active = *patch.Active
	}
	if patch.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*patch.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, errs.Validation(op, "password cannot be hashed")
		}
		u.PasswordHash = string(hash)
	}
	u.UpdatedAt = time.Now().UTC()

	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	_, err = tenant.Exec(ctx, `
		UPDATE users SET username = ?, scopes = ?, active = ?, password_hash = ?, updated_at = ?
		WHERE id = ?`,
		u.Username, mustJSON(u.Scopes), boolInt(u.Active), u.PasswordHash, u.UpdatedAt, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	return u, nil
}

// DeleteUser removes a tenant user.
func (s *Service) DeleteUser(ctx context.Context, projectID, id string) (bool, error) {
	const op = "service.DeleteUser"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return false, err
	}
	res, err := tenant.Exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.appendChange(ctx, tenant, "", "user.deleted", "user", id, "")
	}
	return n > 0, nil
}

// AuthenticateUser verifies a tenant user's credentials within that
// project's store.
func (s *Service) AuthenticateUser(ctx context.Context, projectID, email, password string) (*models.User, error) {
	const op = "service.AuthenticateUser"
	u, err := s.GetUserByEmail(ctx, projectID, email)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.NotFound(op, projectID, "")
		}
		return nil, err
	}
	if !u.Active {
		return nil, errs.NotFound(op, projectID, "")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errs.NotFound(op, projectID, "")
	}
	return u, nil
}

func scanAdministrator(row rowScanner) (*models.Administrator, error) {
	var (
		a      models.Administrator
		active int
	)
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.AccessLevel,
		&a.APIKey, &active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Active = active == 1
	return &a, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u      models.User
		scopes string
		active int
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &scopes, &active,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Scopes = lenientStrings(scopes)
	u.Active = active == 1
	return &u, nil
}
