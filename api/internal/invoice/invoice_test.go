package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12.5", "12.5"},
		{"1 234,50", "1234.5"},
		{"1,234.50", "1234.5"},
		{"1.234,50 руб", "1234.5"},
		{"1 000 000", "1000000"},
		{"-3", "-3"},
		{"+7", "7"},
		{"2 kg", "2"},
	}
	for _, c := range cases {
		got, err := ParseDecimal(c.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", c.in, err)
		}
		if !got.Equal(decimal.RequireFromString(c.want)) {
			t.Fatalf("ParseDecimal(%q) = %s, want %s", c.in, got, c.want)
		}
	}
	for _, bad := range []string{"", "  ", "abc", "-", "кг 5"} {
		if _, err := ParseDecimal(bad); err == nil {
			t.Fatalf("ParseDecimal(%q) expected error", bad)
		}
	}
}

func TestDraftCloneIsDeep(t *testing.T) {
	d := Draft{Positions: []Position{{Name: "Молоко"}}}
	d.Positions[0].Match(7, 1)

	c := d.Clone()
	c.Positions[0].Name = "Кефир"
	*c.Positions[0].MatchedProductID = 9

	if d.Positions[0].Name != "Молоко" || *d.Positions[0].MatchedProductID != 7 {
		t.Fatalf("clone shares state with original: %+v", d.Positions[0])
	}
}

func TestAtSkipsDeleted(t *testing.T) {
	d := Draft{Positions: []Position{{Name: "a"}, {Name: "b", Deleted: true}}}
	if _, ok := d.At(1); !ok {
		t.Fatalf("position 1 must be live")
	}
	if _, ok := d.At(2); ok {
		t.Fatalf("deleted position must not resolve")
	}
	if _, ok := d.At(0); ok {
		t.Fatalf("index 0 is out of range")
	}
	if _, ok := d.At(3); ok {
		t.Fatalf("index 3 is out of range")
	}
}

func TestRecalcAndLiveSum(t *testing.T) {
	d := Draft{Positions: []Position{
		{Quantity: Some(decimal.NewFromInt(2)), Price: Some(decimal.RequireFromString("10.50"))},
		{Sum: Some(decimal.NewFromInt(100)), Deleted: true},
		{Sum: Some(decimal.NewFromInt(5))},
	}}
	d.Positions[0].Recalc()
	if !d.Positions[0].Sum.Decimal.Equal(decimal.NewFromInt(21)) {
		t.Fatalf("recalc sum = %s", d.Positions[0].Sum.Decimal)
	}
	if got := d.LiveSum(); !got.Equal(decimal.NewFromInt(26)) {
		t.Fatalf("live sum = %s, want 26", got)
	}
}
