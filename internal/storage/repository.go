package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pocketexpense/internal/core"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// User is an account row; password hashing lives in the auth package.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// ExpenseFilter narrows ListExpenses; nil fields match everything.
type ExpenseFilter struct {
	From     *time.Time
	To       *time.Time
	Category *core.Category
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateUser inserts a new account. A duplicate email maps to ErrInvalidInput
// so the handler can reject it without leaking storage details.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email, name, passwordHash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("email already registered: %w", core.ErrInvalidInput)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", u.ID)
	return u, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", email, core.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// CreateExpense persists a validated expense. When the payload carries a
// client id that was already stored for this owner, the existing record is
// returned unchanged: replays from queue drains must not duplicate.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ClientID != "" {
		existing, err := r.getExpenseByClientID(ctx, e.OwnerID, e.ClientID)
		if err == nil {
			slog.InfoContext(ctx, "Expense create replayed, returning existing record",
				"expense_id", existing.ID, "client_id", e.ClientID)
			return existing, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return core.Expense{}, err
		}
	}

	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (id, user_id, client_id, amount_cents, category, payment_method, expense_date, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.ClientID, e.Amount.Cents, string(e.Category), string(e.PaymentMethod),
		e.Date.Format(dateLayout), e.Note, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) && e.ClientID != "" {
			// Lost the race with a concurrent replay of the same client id.
			return r.getExpenseByClientID(ctx, e.OwnerID, e.ClientID)
		}
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"expense_id", e.ID,
		"owner_id", e.OwnerID,
		"amount_cents", e.Amount.Cents,
		"category", string(e.Category))

	return e, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, ownerID, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, client_id, amount_cents, category, payment_method, expense_date, note, created_at, updated_at
		 FROM expenses WHERE id = ? AND user_id = ?`, id, ownerID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// UpdateExpense applies a partial payload to an owned record.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, ownerID, id string, patch core.ExpensePatch) (core.Expense, error) {
	existing, err := r.GetExpense(ctx, ownerID, id)
	if err != nil {
		return core.Expense{}, err
	}

	updated := patch.Apply(existing)
	updated.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`UPDATE expenses SET amount_cents = ?, category = ?, payment_method = ?, expense_date = ?, note = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		updated.Amount.Cents, string(updated.Category), string(updated.PaymentMethod),
		updated.Date.Format(dateLayout), updated.Note, updated.UpdatedAt, id, ownerID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense updated", "expense_id", id, "owner_id", ownerID)
	return updated, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete expense rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Expense deleted", "expense_id", id, "owner_id", ownerID)
	return nil
}

// ListExpenses returns the owner's expenses, newest date first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, ownerID string, filter ExpenseFilter) ([]core.Expense, error) {
	query := `SELECT id, user_id, client_id, amount_cents, category, payment_method, expense_date, note, created_at, updated_at
		 FROM expenses WHERE user_id = ?`
	args := []any{ownerID}

	if filter.From != nil {
		query += ` AND expense_date >= ?`
		args = append(args, filter.From.Format(dateLayout))
	}
	if filter.To != nil {
		query += ` AND expense_date <= ?`
		args = append(args, filter.To.Format(dateLayout))
	}
	if filter.Category != nil {
		query += ` AND category = ?`
		args = append(args, string(*filter.Category))
	}
	query += ` ORDER BY expense_date DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListExpensesByMonth returns the records whose date falls inside the
// calendar month, in insertion order (stable input for ranking tie-breaks).
func (r *SQLiteRepository) ListExpensesByMonth(ctx context.Context, ownerID string, year, month int) ([]core.Expense, error) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, client_id, amount_cents, category, payment_method, expense_date, note, created_at, updated_at
		 FROM expenses WHERE user_id = ? AND expense_date >= ? AND expense_date <= ?
		 ORDER BY created_at, id`,
		ownerID, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list expenses by month: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertBudget atomically creates or replaces the budget for its uniqueness
// key (owner, category, month, year). The limit of an existing row is
// replaced, never duplicated, even under concurrent requests.
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, category, limit_cents, month, year)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, category, month, year) DO UPDATE SET limit_cents = excluded.limit_cents`,
		id, b.OwnerID, string(b.Category), b.Limit.Cents, b.Month, b.Year)
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}

	// Re-read to pick up the row id regardless of which branch ran.
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM budgets WHERE user_id = ? AND category = ? AND month = ? AND year = ?`,
		b.OwnerID, string(b.Category), b.Month, b.Year).Scan(&b.ID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("read upserted budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget upserted",
		"budget_id", b.ID,
		"owner_id", b.OwnerID,
		"category", string(b.Category),
		"month", b.Month,
		"year", b.Year,
		"limit_cents", b.Limit.Cents)

	return b, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, ownerID string, month, year int) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, category, limit_cents, month, year
		 FROM budgets WHERE user_id = ? AND month = ? AND year = ? ORDER BY category`,
		ownerID, month, year)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var b core.Budget
		var category string
		if err := rows.Scan(&b.ID, &b.OwnerID, &category, &b.Limit.Cents, &b.Month, &b.Year); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.Category = core.Category(category)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteBudget(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM budgets WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete budget rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Budget deleted", "budget_id", id, "owner_id", ownerID)
	return nil
}

func (r *SQLiteRepository) getExpenseByClientID(ctx context.Context, ownerID, clientID string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, client_id, amount_cents, category, payment_method, expense_date, note, created_at, updated_at
		 FROM expenses WHERE user_id = ? AND client_id = ?`, ownerID, clientID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense with client id %s: %w", clientID, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by client id: %w", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e             core.Expense
		category      string
		paymentMethod string
		dateStr       string
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.ClientID, &e.Amount.Cents,
		&category, &paymentMethod, &dateStr, &e.Note, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return core.Expense{}, err
	}
	e.Category = core.Category(category)
	e.PaymentMethod = core.PaymentMethod(paymentMethod)

	day, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense date %q: %w", dateStr, err)
	}
	e.Date = core.Date{Time: day}
	return e, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint failures in the error text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
