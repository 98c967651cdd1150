package seed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/invoice"
)

type fakeProducts struct {
	list []invoice.Product
	fail string
}

func (f *fakeProducts) Upsert(_ context.Context, name, unit string) (int64, bool, error) {
	if name == f.fail {
		return 0, false, errors.New("db down")
	}
	for i, p := range f.list {
		if strings.EqualFold(p.Name, name) {
			if unit != "" {
				f.list[i].Unit = unit
			}
			return p.ID, false, nil
		}
	}
	id := int64(len(f.list) + 1)
	f.list = append(f.list, invoice.Product{ID: id, Name: name, Unit: unit})
	return id, true, nil
}

func (f *fakeProducts) Products(_ context.Context) ([]invoice.Product, error) {
	return f.list, nil
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestReadCSVSemicolon(t *testing.T) {
	in := "\xef\xbb\xbfname;measureName\nСливки 33%;л\n\"Сыр; твёрдый\";кг\n"
	rows, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "name" || rows[2][0] != "Сыр; твёрдый" {
		t.Fatalf("rows = %q", rows)
	}
}

func TestReadXLSXFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{"Название", "Единица"}); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &[]any{"Молоко 2.5%", "л"}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	rows, err := ReadXLSX(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "Молоко 2.5%" || rows[1][1] != "л" {
		t.Fatalf("rows = %q", rows)
	}
}

func TestReadFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.txt")
	if err := os.WriteFile(path, []byte("name\nx\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFile(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("err = %v", err)
	}
}

func TestImportProducts(t *testing.T) {
	store := &fakeProducts{
		list: []invoice.Product{{ID: 1, Name: "Сливки", Unit: "l"}},
		fail: "Битый",
	}
	im := &Importer{Products: store, Log: quietLog()}
	rows := [][]string{
		{"id", "Name", "measureName"},
		{"10", "сливки", "мл"},
		{"11", "  Яйца   куриные ", "шт"},
		{"12", "", "кг"},
		{"13", "Битый", "кг"},
		{"14", "Соль"},
	}

	rep, err := im.ImportProducts(context.Background(), rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Created != 2 || rep.Updated != 1 || rep.Skipped != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if store.list[0].Unit != "ml" {
		t.Fatalf("unit not updated: %+v", store.list[0])
	}
	if store.list[1].Name != "Яйца куриные" || store.list[1].Unit != "pcs" {
		t.Fatalf("created = %+v", store.list[1])
	}
	if !strings.Contains(rep.Problems[0], "row 4") || !strings.Contains(rep.Problems[1], "db down") {
		t.Fatalf("problems = %q", rep.Problems)
	}
}

func TestImportProductsNeedsNameColumn(t *testing.T) {
	im := &Importer{Products: &fakeProducts{}, Log: quietLog()}
	if _, err := im.ImportProducts(context.Background(), [][]string{{"code", "unit"}}); err == nil {
		t.Fatalf("expected header error")
	}
	if _, err := im.ImportProducts(context.Background(), nil); err == nil {
		t.Fatalf("expected empty table error")
	}
}

func TestImportAliases(t *testing.T) {
	products := []invoice.Product{{ID: 1, Name: "Сливки", Unit: "l"}, {ID: 2, Name: "Молоко 2.5%", Unit: "l"}}
	aliases := catalog.NewMemory(products...)
	im := &Importer{Products: &fakeProducts{list: products}, Aliases: aliases, Log: quietLog()}
	rows := [][]string{
		{"alias", "product"},
		{"Сливки  33% Петмол", "1"},
		{"молоко пастер.", "молоко 2.5%"},
		{"шафран", "99"},
		{"", "1"},
	}

	rep, err := im.ImportAliases(context.Background(), rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Created != 2 || rep.Skipped != 2 {
		t.Fatalf("report = %+v", rep)
	}
	id, err := aliases.Lookup(context.Background(), "сливки 33% петмол")
	if err != nil || id == nil || *id != 1 {
		t.Fatalf("lookup = %v, %v", id, err)
	}
	id, _ = aliases.Lookup(context.Background(), "Молоко пастер.")
	if id == nil || *id != 2 {
		t.Fatalf("lookup by name = %v", id)
	}
}

func TestImportAliasesRequiresStore(t *testing.T) {
	im := &Importer{Products: &fakeProducts{}, Log: quietLog()}
	if _, err := im.ImportAliases(context.Background(), [][]string{{"alias", "product"}}); err == nil {
		t.Fatalf("expected error without alias store")
	}
}
