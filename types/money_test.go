package types

import (
	"encoding/json"
	"testing"

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
		{"EGP", EGP(1000), 1000, "egp", "E£10.00"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"SAR", SAR(2550), 2550, "sar", "SAR 25.50"},
		{"Zero EGP", Zero("EGP"), 0, "egp", "E£0.00"},
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
		{"Add", func() Money { return EGP(100).Add(EGP(200)) }, EGP(300)},
		{"Subtract", func() Money { return EGP(500).Subtract(EGP(200)) }, EGP(300)},
		{"Negate", func() Money { return EGP(100).Negate() }, EGP(-100)},
		{"Subtract below zero", func() Money { return EGP(500).Subtract(EGP(1000)) }, EGP(-500)},
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

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = EGP(100).Add(USD(100))
}

func TestMoneyPercentOff(t *testing.T) {
	tests := []struct {
		name     string
		price    Money
		pct      string
		expected Money
	}{
		{"20 percent of 100", EGP(10000), "20", EGP(8000)},
		{"zero percent", EGP(1000), "0", EGP(1000)},
		{"full discount", EGP(1000), "100", EGP(0)},
		{"fractional percent", EGP(1000), "12.5", EGP(875)},
		{"rounds half away from zero", EGP(999), "50", EGP(500)},
		{"zero decimal currency", Money{Amount: 1001, Currency: "jpy"}, "10", Money{Amount: 901, Currency: "jpy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.price.PercentOff(decimal.RequireFromString(tt.pct))
			if !got.Equal(tt.expected) {
				t.Errorf("PercentOff: got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		input    string
		currency string
		expected Money
		wantErr  bool
	}{
		{"10", "EGP", EGP(1000), false},
		{"10.5", "egp", EGP(1050), false},
		{" 0.01 ", "usd", USD(1), false},
		{"1.005", "usd", USD(101), false},
		{"ten", "usd", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMoney(tt.input, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMoney(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMoneyComparison(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Money
		less    bool
		greater bool
		equal   bool
	}{
		{"Equal", EGP(100), EGP(100), false, false, true},
		{"Less", EGP(50), EGP(100), true, false, false},
		{"Greater", EGP(200), EGP(100), false, true, false},
		{"Zero equal", EGP(0), Zero("egp"), false, false, true},
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
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{EGP(1000), "10.00"},
		{EGP(1), "0.01"},
		{EGP(0), "0.00"},
		{EGP(-4900), "-49.00"},
		{EGP(-1), "-0.01"},
		{Money{Amount: 100, Currency: "jpy"}, "100"},
		{Money{Amount: 1500, Currency: "kwd"}, "1.500"},
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
	m := EGP(1000)

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":1000,"currency":"egp","display":"E£10.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}

	var back Money
	if err := json.Unmarshal([]byte(`{"amount":1000,"currency":"EGP","display":"ignored"}`), &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !back.Equal(m) {
		t.Errorf("Unmarshal: got %v, want %v", back, m)
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", nil, Zero("egp")},
		{"Single", []Money{EGP(100)}, EGP(100)},
		{"With negatives", []Money{EGP(100), EGP(-50), EGP(200)}, EGP(250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Sum("egp", tt.values...)
			if !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}
}

func BenchmarkMoneyPercentOff(b *testing.B) {
	m := EGP(10000)
	pct := decimal.NewFromInt(20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.PercentOff(pct)
	}
}
