// Package directory holds employee records keyed by RFID tag.
package directory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Role is the employee's position class.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

// Gender is the employee's recorded gender.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

const dateLayout = "2006-01-02"

// Date is a calendar day. JSON output is epoch milliseconds at midnight UTC and
// the zero value encodes as null. Input also accepts "YYYY-MM-DD".
type Date struct {
	time.Time
}

// NewDate returns the given calendar day at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts "YYYY-MM-DD" or a full RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

// String returns "YYYY-MM-DD", or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(d.UnixMilli(), 10)), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("birthDate must be epoch milliseconds or YYYY-MM-DD: %w", err)
		}
		t := time.UnixMilli(ms).UTC()
		*d = NewDate(t.Year(), t.Month(), t.Day())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("birthDate must be epoch milliseconds or YYYY-MM-DD: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Employee is one directory record. Its JSON form is what readers receive
// after a successful scan.
type Employee struct {
	RFID        string `json:"rfid" validate:"required,max=128"`
	Username    string `json:"username" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phoneNumber"`
	BirthDate   Date   `json:"birthDate"`
	Department  string `json:"department"`
	Role        Role   `json:"role" validate:"required,oneof=ADMIN MANAGER EMPLOYEE"`
	Gender      Gender `json:"gender" validate:"required,oneof=MALE FEMALE"`
	ImageURL    string `json:"imageUrl"`
}

// employeeWire is the encoded form of Employee. Unset optional fields are null.
type employeeWire struct {
	RFID        string  `json:"rfid"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
	BirthDate   Date    `json:"birthDate"`
	Department  *string `json:"department"`
	Role        Role    `json:"role"`
	Gender      Gender  `json:"gender"`
	ImageURL    *string `json:"imageUrl"`
}

func (e Employee) MarshalJSON() ([]byte, error) {
	return json.Marshal(employeeWire{
		RFID:        e.RFID,
		Username:    e.Username,
		Email:       e.Email,
		PhoneNumber: optional(e.PhoneNumber),
		BirthDate:   e.BirthDate,
		Department:  optional(e.Department),
		Role:        e.Role,
		Gender:      e.Gender,
		ImageURL:    optional(e.ImageURL),
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var validate = validator.New()

// Validate checks required fields and enum membership.
func (e Employee) Validate() error {
	var msgs []string
	if err := validate.Struct(e); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		for _, fe := range ve {
			msgs = append(msgs, fieldError(fe))
		}
	}
	// The tag travels as one protocol line.
	if strings.ContainsAny(e.RFID, "\r\n") {
		msgs = append(msgs, "rfid must be a single line")
	}
	if len(msgs) == 0 {
		return nil
	}
	return &ValidationError{Problems: msgs}
}

// ValidationError lists every problem found in a record.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid employee: " + strings.Join(e.Problems, "; ")
}

// fieldError converts a single validation failure into a readable message
// using the JSON field name.
func fieldError(fe validator.FieldError) string {
	field := jsonFieldNames[fe.Field()]
	if field == "" {
		field = strings.ToLower(fe.Field())
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}

var jsonFieldNames = map[string]string{
	"RFID":     "rfid",
	"Username": "username",
	"Email":    "email",
	"Role":     "role",
	"Gender":   "gender",
}
