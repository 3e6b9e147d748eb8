package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/rfidgate/internal/storage"
)

var (
	// ErrNotFound is returned when no employee has the requested tag.
	ErrNotFound = errors.New("directory: employee not found")
	// ErrConflict is returned when a save would duplicate another employee's email.
	ErrConflict = errors.New("directory: email already registered to another employee")
)

const employeeColumns = `rfid, username, email, phone_number, birth_date, department, role, gender, image_url`

// Store reads and writes employee records. It is safe for concurrent use.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

func NewStore(db *storage.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// FindByID returns the employee with the given tag, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, rfid string) (*Employee, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.Dialect.Rebind("SELECT "+employeeColumns+" FROM employees WHERE rfid = ?;"), rfid)

	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find employee %q: %w", rfid, err)
	}
	return e, nil
}

// List returns all employees ordered by tag.
func (s *Store) List(ctx context.Context) ([]Employee, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY rfid;")
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	out := make([]Employee, 0)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return out, nil
}

// Count returns the number of employees in the directory.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM employees;").Scan(&n); err != nil {
		return 0, fmt.Errorf("count employees: %w", err)
	}
	return n, nil
}

// Save inserts the employee or replaces the record with the same tag.
func (s *Store) Save(ctx context.Context, e Employee) (*Employee, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(`
INSERT INTO employees(`+employeeColumns+`, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(rfid) DO UPDATE SET
  username     = excluded.username,
  email        = excluded.email,
  phone_number = excluded.phone_number,
  birth_date   = excluded.birth_date,
  department   = excluded.department,
  role         = excluded.role,
  gender       = excluded.gender,
  image_url    = excluded.image_url,
  updated_at   = excluded.updated_at;
`),
		e.RFID,
		e.Username,
		e.Email,
		nullString(e.PhoneNumber),
		nullString(e.BirthDate.String()),
		nullString(e.Department),
		string(e.Role),
		string(e.Gender),
		nullString(e.ImageURL),
		now,
		now,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("save employee %q: %w", e.RFID, err)
	}

	saved := e
	return &saved, nil
}

// Delete removes the employee with the given tag. Deleting an unknown tag is not an error.
func (s *Store) Delete(ctx context.Context, rfid string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind("DELETE FROM employees WHERE rfid = ?;"), rfid); err != nil {
		return fmt.Errorf("delete employee %q: %w", rfid, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(r rowScanner) (*Employee, error) {
	var e Employee
	var role, gender string
	var phone, birth, department, imageURL sql.NullString
	if err := r.Scan(&e.RFID, &e.Username, &e.Email, &phone, &birth, &department, &role, &gender, &imageURL); err != nil {
		return nil, err
	}

	birthDate, err := ParseDate(birth.String)
	if err != nil {
		return nil, fmt.Errorf("employee %q: stored birth_date: %w", e.RFID, err)
	}

	e.PhoneNumber = phone.String
	e.BirthDate = birthDate
	e.Department = department.String
	e.Role = Role(role)
	e.Gender = Gender(gender)
	e.ImageURL = imageURL.String
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
