package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CategoryFood          Category = "Food"
	CategoryTransport     Category = "Transport"
	CategoryShopping      Category = "Shopping"
	CategoryBills         Category = "Bills"
	CategoryEntertainment Category = "Entertainment"
	CategoryOther         Category = "Other"
)

const (
	PaymentCash   PaymentMethod = "Cash"
	PaymentCard   PaymentMethod = "Card"
	PaymentUPI    PaymentMethod = "UPI"
	PaymentOnline PaymentMethod = "Online"
)

// LocalIDPrefix marks expense identifiers generated on-device before the
// record store has assigned one.
const LocalIDPrefix = "pending_"

type (
	Category      string
	PaymentMethod string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Expense struct {
		ID            string
		OwnerID       string
		ClientID      string // stable client-generated dedup key, empty for online creates
		Amount        Money
		Category      Category
		PaymentMethod PaymentMethod
		Date          Date
		Note          string
		Pending       bool // local-only marker, never persisted by the record store
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// ExpensePatch carries a partial update; nil fields are left untouched.
	ExpensePatch struct {
		Amount        *Money
		Category      *Category
		PaymentMethod *PaymentMethod
		Date          *Date
		Note          *string
	}

	Budget struct {
		ID       string
		OwnerID  string
		Category Category
		Limit    Money
		Month    int // 1-12
		Year     int
	}

	MutationOp string

	// PendingMutation is a queued expense write awaiting acknowledgement
	// by the record store.
	PendingMutation struct {
		LocalID   string
		Op        MutationOp
		TargetID  string // server id for updates, empty for creates
		Expense   Expense
		CreatedAt time.Time
	}
)

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidMonth         = errors.New("invalid month")
	ErrInvalidLimit         = errors.New("invalid budget limit")
	ErrInvalidOp            = errors.New("invalid mutation operation")
)

// Boundary sentinels shared by the record store, the API client and the
// sync engine. Wrapped errors are classified with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

// Categories lists the fixed category set in display order.
var Categories = []Category{
	CategoryFood,
	CategoryTransport,
	CategoryShopping,
	CategoryBills,
	CategoryEntertainment,
	CategoryOther,
}

// PaymentMethods lists the fixed payment method set.
var PaymentMethods = []PaymentMethod{
	PaymentCash,
	PaymentCard,
	PaymentUPI,
	PaymentOnline,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryShopping,
		CategoryBills, CategoryEntertainment, CategoryOther:
		return true
	}
	return false
}

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentOnline:
		return true
	}
	return false
}

// NewDate creates a Date at midnight UTC for the given calendar day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the calendar month as 1-12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the calendar year.
func (d Date) Year() int {
	return d.Time.Year()
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.Category.Valid() {
		return ErrInvalidCategory
	}
	if !e.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(e.Note) > 200 {
		return errors.New("note too long (max 200 characters)")
	}
	return nil
}

// Apply returns a copy of e with the patch's non-nil fields applied.
func (p ExpensePatch) Apply(e Expense) Expense {
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.PaymentMethod != nil {
		e.PaymentMethod = *p.PaymentMethod
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Note != nil {
		e.Note = *p.Note
	}
	return e
}

func (p ExpensePatch) Validate() error {
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return err
		}
	}
	if p.Category != nil && !p.Category.Valid() {
		return ErrInvalidCategory
	}
	if p.PaymentMethod != nil && !p.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	if p.Date != nil {
		if err := p.Date.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (b Budget) Validate() error {
	if b.Limit.Cents <= 0 {
		return ErrInvalidLimit
	}
	if !b.Category.Valid() {
		return ErrInvalidCategory
	}
	if b.Month < 1 || b.Month > 12 {
		return ErrInvalidMonth
	}
	if b.Year < 1970 || b.Year > 9999 {
		return ErrInvalidDate
	}
	return nil
}

func (m PendingMutation) Validate() error {
	if m.Op != OpCreate && m.Op != OpUpdate {
		return ErrInvalidOp
	}
	if m.Op == OpUpdate && strings.TrimSpace(m.TargetID) == "" {
		return ErrInvalidOp
	}
	return m.Expense.Validate()
}

// NewLocalID generates a pending identifier for a record created on-device.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated on-device and has not yet been
// replaced by a record-store identifier.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
