package core

import (
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -100}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories {
		if !c.Valid() {
			t.Fatalf("category %q should be valid", c)
		}
	}
	if Category("Groceries").Valid() {
		t.Fatal("unknown category should be invalid")
	}
}

func TestPaymentMethodValid(t *testing.T) {
	for _, p := range PaymentMethods {
		if !p.Valid() {
			t.Fatalf("payment method %q should be valid", p)
		}
	}
	if PaymentMethod("Cheque").Valid() {
		t.Fatal("unknown payment method should be invalid")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Amount:        Money{Cents: 1250},
		Category:      CategoryFood,
		PaymentMethod: PaymentCash,
		Date:          NewDate(2025, 3, 14),
		Note:          "lunch",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Amount: Money{Cents: 0}, Category: CategoryFood, PaymentMethod: PaymentCash, Date: NewDate(2025, 3, 14)},
		{Amount: Money{Cents: 100}, Category: "Nope", PaymentMethod: PaymentCash, Date: NewDate(2025, 3, 14)},
		{Amount: Money{Cents: 100}, Category: CategoryFood, PaymentMethod: "Barter", Date: NewDate(2025, 3, 14)},
		{Amount: Money{Cents: 100}, Category: CategoryFood, PaymentMethod: PaymentCash},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestBudgetValidate(t *testing.T) {
	good := Budget{Category: CategoryFood, Limit: Money{Cents: 50000}, Month: 6, Year: 2025}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		b    Budget
	}{
		{"zero limit", Budget{Category: CategoryFood, Limit: Money{Cents: 0}, Month: 6, Year: 2025}},
		{"bad category", Budget{Category: "Nope", Limit: Money{Cents: 100}, Month: 6, Year: 2025}},
		{"month zero", Budget{Category: CategoryFood, Limit: Money{Cents: 100}, Month: 0, Year: 2025}},
		{"month thirteen", Budget{Category: CategoryFood, Limit: Money{Cents: 100}, Month: 13, Year: 2025}},
	}
	for _, tc := range cases {
		if err := tc.b.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestExpensePatchApply(t *testing.T) {
	e := Expense{
		Amount:        Money{Cents: 100},
		Category:      CategoryFood,
		PaymentMethod: PaymentCash,
		Date:          NewDate(2025, 1, 10),
		Note:          "old",
	}
	amount := Money{Cents: 250}
	note := "new"
	patched := ExpensePatch{Amount: &amount, Note: &note}.Apply(e)

	if patched.Amount.Cents != 250 {
		t.Errorf("expected amount 250, got %d", patched.Amount.Cents)
	}
	if patched.Note != "new" {
		t.Errorf("expected note replaced, got %q", patched.Note)
	}
	if patched.Category != CategoryFood {
		t.Errorf("untouched field changed: %q", patched.Category)
	}
}

func TestPendingMutationValidate(t *testing.T) {
	exp := Expense{
		Amount:        Money{Cents: 100},
		Category:      CategoryFood,
		PaymentMethod: PaymentCash,
		Date:          NewDate(2025, 1, 10),
	}
	ok := PendingMutation{LocalID: NewLocalID(), Op: OpCreate, Expense: exp}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (PendingMutation{LocalID: NewLocalID(), Op: "delete", Expense: exp}).Validate(); err == nil {
		t.Fatal("expected error for unknown op")
	}
	if err := (PendingMutation{LocalID: NewLocalID(), Op: OpUpdate, Expense: exp}).Validate(); err == nil {
		t.Fatal("expected error for update without target id")
	}
}

func TestLocalIDs(t *testing.T) {
	id := NewLocalID()
	if !IsLocalID(id) {
		t.Fatalf("generated id %q should be local", id)
	}
	if IsLocalID("8f14e45f-ceea") {
		t.Fatal("server id should not be local")
	}
	if id == NewLocalID() {
		t.Fatal("local ids must be unique")
	}
}
