package units

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Ltr", Liter},
		{" liter ", Liter},
		{"mililiter", Milliliter},
		{"KILO", Kilogram},
		{"gr", Gram},
		{"buah", Piece},
		{"ea", Piece},
		{"kardus", Box},
		{"paket", Pack},
		{"кг", Kilogram},
		{"шт.", Piece},
		{"bottle", "bottle"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestConvert(t *testing.T) {
	v, ok := Convert(decimal.NewFromInt(1000), "ml", "l")
	if !ok || !v.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("1000ml -> l = %s, %v", v, ok)
	}
	v, ok = Convert(decimal.RequireFromString("2.5"), "kilo", "gram")
	if !ok || !v.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("2.5kg -> g = %s, %v", v, ok)
	}
	v, ok = Convert(decimal.NewFromInt(3), "pcs", "buah")
	if !ok || !v.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("identical units must pass through, got %s, %v", v, ok)
	}
	if _, ok := Convert(decimal.NewFromInt(1), "pcs", "box"); ok {
		t.Fatalf("pcs -> box must be unconvertible")
	}
	if _, ok := Convert(decimal.NewFromInt(1), "kg", "l"); ok {
		t.Fatalf("kg -> l must be unconvertible")
	}
}

func TestConvertRoundTrip(t *testing.T) {
	pairs := [][2]string{{"ml", "l"}, {"l", "ml"}, {"g", "kg"}, {"kg", "g"}}
	values := []string{"0.5", "1", "3.75", "1234.5678"}
	for _, p := range pairs {
		for _, s := range values {
			v := decimal.RequireFromString(s)
			there, ok := Convert(v, p[0], p[1])
			if !ok {
				t.Fatalf("%s -> %s unconvertible", p[0], p[1])
			}
			back, ok := Convert(there, p[1], p[0])
			if !ok {
				t.Fatalf("%s -> %s unconvertible", p[1], p[0])
			}
			if back.Sub(v).Abs().GreaterThan(decimal.RequireFromString("0.000001")) {
				t.Fatalf("round trip %s %s->%s->%s = %s", s, p[0], p[1], p[0], back)
			}
		}
	}
}

func TestIsCompatible(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"l", "ml", true},
		{"kg", "gram", true},
		{"kg", "kg", true},
		{"pcs", "pcs", true},
		{"pcs", "box", false},
		{"box", "pcs", false},
		{"pack", "pcs", false},
		{"kg", "l", false},
		{"bottle", "jar", false},
	}
	for _, c := range cases {
		if got := IsCompatible(c.a, c.b); got != c.want {
			t.Fatalf("IsCompatible(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
