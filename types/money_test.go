package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"JPY", JPY(100), 100, "jpy", "¥100"},
		{"IRR", IRR(250000), 250000, "irr", "IRR 250000"},
		{"New upper", New(120, " USD "), 120, "usd", "$1.20"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Abs negative", func() Money { return USD(-100).Abs() }, USD(100)},
		{"MultiplyDecimal exact", func() Money { return USD(1000).MultiplyDecimal(decimal.RequireFromString("1.5")) }, USD(1500)},
		{"MultiplyDecimal half up", func() Money { return USD(5).MultiplyDecimal(decimal.RequireFromString("0.5")) }, USD(3)},
		{"MultiplyDecimal half away negative", func() Money { return USD(-5).MultiplyDecimal(decimal.RequireFromString("0.5")) }, USD(-3)},
		{"Percent", func() Money { return USD(500000).Percent(decimal.NewFromInt(50)) }, USD(250000)},
		{"Percent rounds", func() Money { return USD(333).Percent(decimal.NewFromInt(15)) }, USD(50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestFromDecimalRounding(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     int64
	}{
		{"12.345", "usd", 1235},
		{"12.344", "usd", 1234},
		{"-12.345", "usd", -1235},
		{"0.005", "usd", 1},
		{"-0.005", "usd", -1},
		{"100.5", "jpy", 101},
		{"49.99", "eur", 4999},
	}

	for _, tt := range tests {
		t.Run(tt.in+"/"+tt.currency, func(t *testing.T) {
			got := FromDecimal(decimal.RequireFromString(tt.in), tt.currency)
			if got.Amount != tt.want {
				t.Errorf("FromDecimal(%s): got %d, want %d", tt.in, got.Amount, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	m, err := Parse("49.995", "USD")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.Equal(USD(5000)) {
		t.Errorf("Parse: got %v, want %v", m, USD(5000))
	}

	if _, err := Parse("forty", "usd"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = USD(100).Add(EUR(100))
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Money
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", USD(100), USD(100), false, false, true},
		{"Less", USD(50), USD(100), true, false, false},
		{"Greater", USD(200), USD(100), false, true, false},
		{"Zero equal", USD(0), Zero("usd"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessThan(tt.b); got != tt.less {
				t.Errorf("LessThan: got %v, want %v", got, tt.less)
			}
			if got := tt.a.GreaterThan(tt.b); got != tt.greater {
				t.Errorf("GreaterThan: got %v, want %v", got, tt.greater)
			}
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}

	if USD(1).SameCurrency(EUR(1)) {
		t.Error("SameCurrency: usd and eur reported equal")
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{USD(4900), "49.00"},
		{USD(1), "0.01"},
		{USD(0), "0.00"},
		{USD(-4900), "-49.00"},
		{USD(-1), "-0.01"},
		{JPY(12345), "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":4900,"currency":"usd","display":"$49.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !back.Equal(USD(4900)) {
		t.Errorf("Unmarshal: got %v", back)
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", nil, Zero("usd")},
		{"Multiple", []Money{USD(100), USD(200), USD(300)}, USD(600)},
		{"With negatives", []Money{USD(100), USD(-50), USD(200)}, USD(250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := Sum("usd", tt.values...); !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestReferences(t *testing.T) {
	a := NewReference(RefWalletCredit)
	b := NewReference(RefWalletCredit)
	if !strings.HasPrefix(a, "WLT-") {
		t.Errorf("expected WLT- prefix, got %q", a)
	}
	if a == b {
		t.Errorf("two references collided: %q", a)
	}

	early := NewReferenceAt(RefInvoice, time.Unix(1_600_000_000, 0))
	late := NewReferenceAt(RefInvoice, time.Unix(1_700_000_000, 0))
	if early >= late {
		t.Errorf("references not time-sortable: %q >= %q", early, late)
	}

	if got := DerivedReference(RefWalletPayment, "inv-01abc"); got != "WPAY-INV-01ABC" {
		t.Errorf("DerivedReference: got %q", got)
	}
}

func BenchmarkMoneyPercent(b *testing.B) {
	m := USD(4900)
	pct := decimal.NewFromInt(15)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Percent(pct)
	}
}
