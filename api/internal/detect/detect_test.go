package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
)

func dec(s string) decimal.NullDecimal { return invoice.Some(decimal.RequireFromString(s)) }

func milkCatalog() *catalog.Memory {
	return catalog.NewMemory(invoice.Product{ID: 7, Name: "Молоко 2.5% л", Unit: "л"})
}

func TestAutoMatch(t *testing.T) {
	m := milkCatalog()
	d := New(m, m, nil)
	draft := &invoice.Draft{
		Supplier: "ООО Ромашка",
		Positions: []invoice.Position{
			{Name: "Молоко 2.5% л", Unit: "л", Quantity: dec("10"), Price: dec("80"), Sum: dec("800")},
		},
	}
	res, err := d.Detect(context.Background(), draft)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("expected no issues, got %+v", res)
	}
	p := draft.Positions[0]
	if p.MatchedProductID == nil || *p.MatchedProductID != 7 {
		t.Fatalf("matched_product_id = %v", p.MatchedProductID)
	}
	if p.Confidence < 0.999 {
		t.Fatalf("confidence = %v", p.Confidence)
	}
}

func TestLowConfidence(t *testing.T) {
	m := milkCatalog()
	d := New(m, m, nil)
	draft := &invoice.Draft{
		Supplier:  "ООО Ромашка",
		Positions: []invoice.Position{{Name: "Совершенно другое", Unit: "л", Quantity: dec("1")}},
	}
	res, err := d.Detect(context.Background(), draft)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Positions) != 1 {
		t.Fatalf("expected one issue, got %+v", res.Positions)
	}
	k := res.Positions[0].Kind
	if k != invoice.LowConfidenceMatch && k != invoice.NotInDatabase {
		t.Fatalf("kind = %s", k)
	}
	if draft.Positions[0].MatchedProductID != nil {
		t.Fatalf("position must stay unmatched")
	}
}

func TestMissingFieldsAndOrder(t *testing.T) {
	m := milkCatalog()
	d := New(m, m, nil)
	draft := &invoice.Draft{
		Positions: []invoice.Position{
			{Name: "Молоко 2.5% л", Unit: "л", Quantity: dec("0")},
			{Name: "", Unit: "", Quantity: decimal.NullDecimal{}},
		},
	}
	res, err := d.Detect(context.Background(), draft)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	want := []struct {
		index int
		kind  invoice.IssueKind
		field string
	}{
		{1, invoice.MissingField, "quantity"},
		{2, invoice.MissingField, "name"},
		{2, invoice.MissingField, "quantity"},
		{2, invoice.MissingField, "unit"},
	}
	if len(res.Positions) != len(want) {
		t.Fatalf("got %+v", res.Positions)
	}
	for i, w := range want {
		got := res.Positions[i]
		if got.Index != w.index || got.Kind != w.kind || got.Field != w.field {
			t.Fatalf("issue %d = %d/%s/%s, want %d/%s/%s", i, got.Index, got.Kind, got.Field, w.index, w.kind, w.field)
		}
	}
	if len(res.Invoice) != 1 || res.Invoice[0].Kind != invoice.SupplierMissing {
		t.Fatalf("invoice issues = %+v", res.Invoice)
	}
}

func TestUnitMismatch(t *testing.T) {
	m := catalog.NewMemory(
		invoice.Product{ID: 1, Name: "Сливки", Unit: "l"},
		invoice.Product{ID: 2, Name: "Яйца", Unit: "pcs"},
	)
	d := New(m, m, nil)
	draft := &invoice.Draft{
		Supplier: "x",
		Positions: []invoice.Position{
			{Name: "Сливки", Unit: "ml", Quantity: dec("1000")},
			{Name: "Яйца", Unit: "box", Quantity: dec("2")},
		},
	}
	res, err := d.Detect(context.Background(), draft)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Positions) != 2 {
		t.Fatalf("issues = %+v", res.Positions)
	}
	if is := res.Positions[0]; is.Kind != invoice.UnitMismatch || !is.Convertible || is.Product.ID != 1 {
		t.Fatalf("ml vs l must be convertible mismatch: %+v", is)
	}
	if is := res.Positions[1]; is.Kind != invoice.UnitMismatch || is.Convertible {
		t.Fatalf("box vs pcs must be hard mismatch: %+v", is)
	}
}

func TestSumMismatch(t *testing.T) {
	cases := []struct {
		qty, price, sum string
		want            bool
	}{
		{"2", "10", "20", false},
		{"2", "10", "20.005", false},
		{"2", "10", "21", true},
		{"3", "33.33", "100", false},
		{"1000", "10", "10050", false},
		{"1000", "10", "10200", true},
	}
	for _, c := range cases {
		p := invoice.Position{Quantity: dec(c.qty), Price: dec(c.price), Sum: dec(c.sum)}
		if got := SumMismatch(&p); got != c.want {
			t.Fatalf("SumMismatch(%s*%s vs %s) = %v", c.qty, c.price, c.sum, got)
		}
	}
}

func TestAliasTriedFirst(t *testing.T) {
	m := catalog.NewMemory(
		invoice.Product{ID: 1, Name: "Масло сливочное 82%", Unit: "kg"},
		invoice.Product{ID: 2, Name: "Butter", Unit: "kg"},
	)
	ctx := context.Background()
	_ = m.Upsert(ctx, "mentega", 1)
	d := New(m, m, nil)
	draft := &invoice.Draft{Supplier: "x", Positions: []invoice.Position{{Name: "Mentega", Unit: "kg", Quantity: dec("1")}}}
	res, err := d.Detect(ctx, draft)
	if err != nil || !res.Empty() {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if p := draft.Positions[0]; *p.MatchedProductID != 1 || p.Confidence != 1.0 {
		t.Fatalf("alias match = %+v", p)
	}
}

func TestAutoLearn(t *testing.T) {
	m := catalog.NewMemory(invoice.Product{ID: 3, Name: "Сыр Российский", Unit: "kg"})
	d := New(m, m, nil)
	d.Threshold, d.LearnThreshold = 0.85, 0.9
	draft := &invoice.Draft{Supplier: "x", Positions: []invoice.Position{{Name: "Сыр Росийский", Unit: "kg", Quantity: dec("1")}}}
	if _, err := d.Detect(context.Background(), draft); err != nil {
		t.Fatalf("detect: %v", err)
	}
	id, _ := m.Lookup(context.Background(), "сыр росийский")
	if id == nil || *id != 3 {
		t.Fatalf("expected learned alias, got %v", id)
	}
}

type failingCatalog struct{ catalog.Catalog }

func (failingCatalog) Products(context.Context) ([]invoice.Product, error) {
	return nil, errors.New("connection refused")
}

func TestCatalogFailure(t *testing.T) {
	d := New(failingCatalog{}, nil, nil)
	_, err := d.Detect(context.Background(), &invoice.Draft{Positions: []invoice.Position{{Name: "x"}}})
	var ext *errs.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
}

func TestInvoiceIssues(t *testing.T) {
	if got := InvoiceIssues(&invoice.Draft{Supplier: "x"}); len(got) != 1 || got[0].Kind != invoice.NoPositions {
		t.Fatalf("empty draft: %+v", got)
	}
	draft := &invoice.Draft{
		Supplier: "x",
		TotalSum: dec("150"),
		Positions: []invoice.Position{
			{Sum: dec("100")},
			{Sum: dec("50"), Deleted: true},
		},
	}
	got := InvoiceIssues(draft)
	if len(got) != 1 || got[0].Kind != invoice.TotalMismatch {
		t.Fatalf("total mismatch expected: %+v", got)
	}
	draft.TotalSum = dec("100")
	if got := InvoiceIssues(draft); len(got) != 0 {
		t.Fatalf("no issues expected: %+v", got)
	}
}
