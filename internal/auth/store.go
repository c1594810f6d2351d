package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `id, username, employee_id, display_name, password_hash, role, created_at`

func (s *Store) GetByUsername(ctx context.Context, username string) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM staff_accounts WHERE username = $1`
	row := s.db.QueryRowContext(ctx, q, username)
	a := &Account{}
	if err := row.Scan(&a.ID, &a.Username, &a.EmployeeID, &a.DisplayName, &a.PasswordHash, &a.Role, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) Create(ctx context.Context, a Account, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	q := `
		INSERT INTO staff_accounts (username, employee_id, display_name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns
	out := &Account{}
	if err := s.db.QueryRowContext(ctx, q, a.Username, a.EmployeeID, a.DisplayName, string(hash), a.Role, time.Now().UTC()).
		Scan(&out.ID, &out.Username, &out.EmployeeID, &out.DisplayName, &out.PasswordHash, &out.Role, &out.CreatedAt); err != nil {
		return nil, err
	}
	return out, nil
}

type SeedAccount struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	EmployeeID  string `yaml:"employee_id"`
	DisplayName string `yaml:"display_name"`
	Role        Role   `yaml:"role"`
}

type staffFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// LoadSeed reads a staff seed file. Entries without a username, password or
// employee id are dropped; an unknown role is an error.
func LoadSeed(path string) ([]SeedAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf staffFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, err
	}
	var out []SeedAccount
	for _, a := range sf.Accounts {
		if a.Username == "" || a.Password == "" || a.EmployeeID == "" {
			continue
		}
		switch a.Role {
		case RoleAdmin, RoleClinician, RoleReadOnly:
		default:
			return nil, fmt.Errorf("account %s: unknown role %q", a.Username, a.Role)
		}
		out = append(out, a)
	}
	return out, nil
}

// SeedFromFile creates any seed accounts that do not exist yet.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	for _, a := range seed {
		if _, err := s.GetByUsername(ctx, a.Username); err == nil {
			continue
		} else if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		acct := Account{Username: a.Username, EmployeeID: a.EmployeeID, DisplayName: a.DisplayName, Role: a.Role}
		if _, err := s.Create(ctx, acct, a.Password); err != nil {
			return err
		}
	}
	return nil
}
