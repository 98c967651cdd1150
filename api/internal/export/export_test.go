package export

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
)

func dec(s string) decimal.NullDecimal { return invoice.Some(decimal.RequireFromString(s)) }

func id(v int64) *int64 { return &v }

var products = []invoice.Product{{ID: 7, Name: "Молоко 2.5%", Unit: "l"}}

func TestFinalizeExcludesDeleted(t *testing.T) {
	draft := invoice.Draft{
		Supplier: "ООО Ромашка",
		Date:     "2024-05-01",
		Positions: []invoice.Position{
			{Name: "молоко", Unit: "л", Quantity: dec("2"), Price: dec("80"), MatchedProductID: id(7)},
			{Name: "мусор", Unit: "шт", Quantity: dec("1"), Price: dec("5"), Deleted: true},
			{Name: "Новый сыр", Unit: "кг", Quantity: dec("1.5"), Sum: dec("900")},
		},
	}
	fixed := map[int]invoice.Resolution{
		2: {Action: invoice.ActionDelete},
		3: {Action: invoice.ActionNewProduct, ProductName: "Новый сыр"},
	}
	inv, err := Finalize(draft, fixed, products)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", inv.Items)
	}
	for _, it := range inv.Items {
		if it.Position == 2 {
			t.Fatalf("deleted position exported: %+v", it)
		}
	}
	if inv.Items[0].Name != "Молоко 2.5%" || inv.Items[0].Unit != "l" {
		t.Fatalf("matched item must use catalog name: %+v", inv.Items[0])
	}
	if !inv.Items[1].New || !inv.Items[1].Price.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("new item: %+v", inv.Items[1])
	}
	if !inv.Total.Equal(decimal.NewFromInt(1060)) {
		t.Fatalf("total = %s", inv.Total)
	}
}

func TestFinalizeUnresolved(t *testing.T) {
	draft := invoice.Draft{
		Supplier: "x",
		Positions: []invoice.Position{
			{Name: "a", MatchedProductID: id(7)},
			{Name: "b"},
			{Name: "c", Deleted: true},
			{Name: "d"},
		},
	}
	_, err := Finalize(draft, nil, products)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Positions) != 2 || ve.Positions[0] != 2 || ve.Positions[1] != 4 {
		t.Fatalf("unresolved = %v", ve.Positions)
	}
}

func TestFinalizeDefaultsDate(t *testing.T) {
	draft := invoice.Draft{Supplier: "x", Positions: []invoice.Position{{Name: "a", MatchedProductID: id(7)}}}
	inv, err := Finalize(draft, nil, products)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if inv.Date != time.Now().Format("2006-01-02") {
		t.Fatalf("date = %q", inv.Date)
	}
}

func sampleInvoice() *Invoice {
	return &Invoice{
		Supplier: "ООО Ромашка",
		Buyer:    "Кафе",
		Date:     "2024-05-01",
		Items: []Item{{
			Name:     "Молоко 2.5%",
			Quantity: decimal.NewFromInt(2),
			Unit:     "l",
			Price:    decimal.NewFromInt(80),
			Sum:      decimal.NewFromInt(160),
		}},
		Total: decimal.NewFromInt(160),
	}
}

func TestBuildXML(t *testing.T) {
	b, err := BuildXML(sampleInvoice())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := string(b)
	for _, want := range []string{
		"<SyrveDocument>",
		"<Supplier>ООО Ромашка</Supplier>",
		"<Date>2024-05-01</Date>",
		"<Items>",
		"<Name>Молоко 2.5%</Name>",
		"<Quantity>2</Quantity>",
		"<Price>80.00</Price>",
		"<Sum>160.00</Sum>",
		"<TotalSum>160.00</TotalSum>",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("xml missing %q:\n%s", want, s)
		}
	}
}

func TestSyrveExport(t *testing.T) {
	var gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSyrve(srv.URL, "secret", time.Second, nil)
	ok, msg := s.Export(context.Background(), sampleInvoice())
	if !ok {
		t.Fatalf("export failed: %s", msg)
	}
	if gotAuth != "Bearer secret" || gotType != "application/xml" {
		t.Fatalf("headers: auth=%q type=%q", gotAuth, gotType)
	}
	if !strings.Contains(gotBody, "<TotalSum>160.00</TotalSum>") {
		t.Fatalf("body: %s", gotBody)
	}
}

func TestSyrveExportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad supplier", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSyrve(srv.URL, "", time.Second, nil)
	ok, msg := s.Export(context.Background(), sampleInvoice())
	if ok || !strings.Contains(msg, "400") || !strings.Contains(msg, "bad supplier") {
		t.Fatalf("expected failure with status, got %v %q", ok, msg)
	}
}

func TestSyrveRejectsInvalidInvoice(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	inv := sampleInvoice()
	inv.Supplier = ""
	ok, _ := NewSyrve(srv.URL, "", time.Second, nil).Export(context.Background(), inv)
	if ok || called {
		t.Fatalf("invalid invoice must not be sent")
	}
}
