// Package validation holds the pure field rules used by the wizard forms.
// Every rule returns nil when the input is valid or an *Error naming the reason.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Reason identifies why a field was rejected.
type Reason string

const (
	ReasonRequired      Reason = "required"
	ReasonTooShort      Reason = "too_short"
	ReasonTooLong       Reason = "too_long"
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonInPast        Reason = "in_past"
)

const (
	NameMinLength           = 2
	NoteMaxLength           = 200
	LocationDetailMaxLength = 100
)

// DateLayout and TimeLayout match the browser date and time inputs.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	// Latin letters plus the accented block used by Vietnamese (À..ỹ).
	namePattern  = regexp.MustCompile(`^[a-zA-Z\x{00C0}-\x{1EF9}\s]+$`)
	phonePattern = regexp.MustCompile(`^(\+84|84|0)[35789][0-9]{8}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	whitespace   = regexp.MustCompile(`\s`)
)

// Error describes a single rejected field.
type Error struct {
	Field   string
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// reasonOf extracts the rejection reason from err, or "" when err is not a validation error.
func reasonOf(err error) Reason {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}

func fail(field string, reason Reason, message string) *Error {
	return &Error{Field: field, Reason: reason, Message: message}
}

// Name requires at least two letters after trimming; only letters and spaces are allowed.
func Name(name string) error {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < NameMinLength {
		return fail("name", ReasonTooShort, "Tên phải có ít nhất 2 ký tự")
	}
	if !namePattern.MatchString(name) {
		return fail("name", ReasonInvalidFormat, "Tên chỉ được chứa chữ cái và khoảng trắng")
	}
	return nil
}

// Phone accepts Vietnamese mobile numbers (+84, 84 or 0 prefix). Whitespace is ignored.
func Phone(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return fail("phone", ReasonRequired, "Số điện thoại không được để trống")
	}
	if !phonePattern.MatchString(NormalizePhone(phone)) {
		return fail("phone", ReasonInvalidFormat, "Số điện thoại không hợp lệ (VD: 0912345678)")
	}
	return nil
}

// NormalizePhone strips all whitespace from a phone number.
func NormalizePhone(phone string) string {
	return whitespace.ReplaceAllString(phone, "")
}

// Email is optional; a non-blank value must look like local@domain.tld.
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if !emailPattern.MatchString(email) {
		return fail("email", ReasonInvalidFormat, "Email không hợp lệ")
	}
	return nil
}

// Address must be non-blank.
func Address(address string) error {
	if strings.TrimSpace(address) == "" {
		return fail("address", ReasonRequired, "Vui lòng nhập địa chỉ đón")
	}
	return nil
}

// Note is optional and capped at NoteMaxLength characters.
func Note(note string) error {
	if utf8.RuneCountInString(strings.TrimSpace(note)) > NoteMaxLength {
		return fail("note", ReasonTooLong, "Ghi chú tối đa 200 ký tự")
	}
	return nil
}

// LocationDetail is capped at LocationDetailMaxLength characters after trimming.
func LocationDetail(detail string) error {
	if utf8.RuneCountInString(strings.TrimSpace(detail)) > LocationDetailMaxLength {
		return fail("location_detail", ReasonTooLong, "Chi tiết địa điểm tối đa 100 ký tự")
	}
	return nil
}

// DateTime requires both parts and a combined instant strictly after now.
// The wall clock is interpreted in loc; nil means UTC.
func DateTime(date, clock string, now time.Time, loc *time.Location) error {
	_, err := ParseDateTime(date, clock, now, loc)
	return err
}

// ParseDateTime validates like DateTime and returns the combined instant.
func ParseDateTime(date, clock string, now time.Time, loc *time.Location) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fail("datetime", ReasonRequired, "Vui lòng chọn đầy đủ ngày và giờ")
	}
	if loc == nil {
		loc = time.UTC
	}
	at, err := time.ParseInLocation(DateLayout+"T"+TimeLayout, date+"T"+clock, loc)
	if err != nil {
		return time.Time{}, fail("datetime", ReasonInvalidFormat, "Ngày hoặc giờ không hợp lệ")
	}
	if !at.After(now) {
		return time.Time{}, fail("datetime", ReasonInPast, "Vui lòng chọn thời gian trong tương lai!")
	}
	return at, nil
}
