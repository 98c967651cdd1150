package matcher

import (
	"testing"

	"invoice-bot/api/internal/invoice"
)

var catalog = []invoice.Product{
	{ID: 7, Name: "Молоко 2.5% л", Unit: "l"},
	{ID: 8, Name: "Молоко 3.2% л", Unit: "l"},
	{ID: 9, Name: "Сметана 20%", Unit: "kg"},
	{ID: 10, Name: "Tomato paste", Unit: "kg"},
	{ID: 11, Name: "Tomato paste s/f", Unit: "kg"},
}

func TestClean(t *testing.T) {
	cases := map[string]string{
		"  Молоко   2.5% Л ": "молоко 2 5% л",
		"Chicken-breast (fresh)": "chicken breast fresh",
		"a;b:c_d":               "a b c d",
		"":                      "",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindBestExactIsFullConfidence(t *testing.T) {
	for _, name := range []string{"Молоко 2.5% л", "молоко 2.5%   Л", "  МОЛОКО 2.5% л"} {
		p, conf := FindBest(name, catalog)
		if p == nil || p.ID != 7 {
			t.Fatalf("FindBest(%q) = %+v", name, p)
		}
		if conf != 1.0 {
			t.Fatalf("FindBest(%q) confidence = %v, want 1.0", name, conf)
		}
	}
}

func TestFindBestTokenOrder(t *testing.T) {
	p, conf := FindBest("paste tomato", catalog)
	if p == nil || p.ID != 10 || conf != 1.0 {
		t.Fatalf("token order must not matter: %+v %v", p, conf)
	}
}

func TestFindBestEmpty(t *testing.T) {
	if p, conf := FindBest("молоко", nil); p != nil || conf != 0 {
		t.Fatalf("empty catalog: %+v %v", p, conf)
	}
	if p, conf := FindBest("  ", catalog); p != nil || conf != 0 {
		t.Fatalf("empty name: %+v %v", p, conf)
	}
}

func TestFindBestLowConfidence(t *testing.T) {
	_, conf := FindBest("Совершенно другое", catalog[:1])
	if conf >= 0.85 {
		t.Fatalf("unrelated name scored %v", conf)
	}
}

func TestFindSimilarOrderingAndLimit(t *testing.T) {
	got := FindSimilar("молоко", catalog, 5, 0.3)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", got)
	}
	// одинаковая уверенность -> порядок справочника
	if got[0].ID != 7 || got[1].ID != 8 {
		t.Fatalf("ties must keep catalog order: %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Confidence > got[i-1].Confidence {
			t.Fatalf("not sorted: %+v", got)
		}
	}

	one := FindSimilar("молоко", catalog, 1, 0.3)
	if len(one) != 1 || one[0].ID != 7 {
		t.Fatalf("limit 1: %+v", one)
	}
	if none := FindSimilar("молоко", catalog, 5, 0.99); len(none) != 0 {
		t.Fatalf("threshold must filter: %+v", none)
	}
}

func TestSemifinished(t *testing.T) {
	if !IsSemifinished("Tomato paste s/f") || !IsSemifinished("Dough semi-finished") {
		t.Fatalf("semi-finished markers not detected")
	}
	if IsSemifinished("Tomato paste") {
		t.Fatalf("false positive")
	}
	if got := WithoutSemifinished(catalog); len(got) != 4 {
		t.Fatalf("expected 4 products, got %d", len(got))
	}
}
