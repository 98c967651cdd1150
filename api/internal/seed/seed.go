package seed

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/units"
)

// ProductStore: то, что нужно импорту от справочника товаров.
type ProductStore interface {
	Upsert(ctx context.Context, name, unit string) (int64, bool, error)
	Products(ctx context.Context) ([]invoice.Product, error)
}

type Report struct {
	Created  int
	Updated  int
	Skipped  int
	Problems []string
}

func (r Report) String() string {
	return fmt.Sprintf("created=%d updated=%d skipped=%d problems=%d", r.Created, r.Updated, r.Skipped, len(r.Problems))
}

func (r *Report) skip(line int, format string, args ...any) {
	r.Skipped++
	r.Problems = append(r.Problems, fmt.Sprintf("row %d: ", line)+fmt.Sprintf(format, args...))
}

var (
	nameHeaders    = []string{"name", "product_name", "название", "наименование", "товар"}
	unitHeaders    = []string{"unit", "measurename", "measure", "единица", "ед", "ед.изм"}
	aliasHeaders   = []string{"alias", "raw", "синоним", "алиас"}
	productHeaders = []string{"product_id", "product", "товар", "id"}
)

// ReadFile читает таблицу из .csv или .xlsx. Первая строка, заголовок.
func ReadFile(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(bytes.NewReader(data))
	case ".xlsx", ".xlsm":
		return ReadXLSX(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("seed: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV понимает разделители "," и ";".
func ReadCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	first, _, _ := bytes.Cut(data, []byte("\n"))

	cr := csv.NewReader(bytes.NewReader(data))
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		cr.Comma = ';'
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

// ReadXLSX берёт первый лист книги.
func ReadXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("seed: workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

type Importer struct {
	Products ProductStore
	Aliases  catalog.Aliases
	Log      logrus.FieldLogger
}

// ImportProducts заводит или обновляет товары. Строки без названия пропускаются.
func (im *Importer) ImportProducts(ctx context.Context, rows [][]string) (Report, error) {
	var rep Report
	if len(rows) == 0 {
		return rep, errors.New("seed: empty table")
	}
	cols := headerIndex(rows[0])
	nameCol := cols.find(nameHeaders)
	if nameCol < 0 {
		return rep, fmt.Errorf("seed: no name column in header %v", rows[0])
	}
	unitCol := cols.find(unitHeaders)

	for i, row := range rows[1:] {
		line := i + 2
		name := strings.Join(strings.Fields(cell(row, nameCol)), " ")
		if name == "" {
			rep.skip(line, "empty name")
			continue
		}
		unit := units.Normalize(cell(row, unitCol))
		_, created, err := im.Products.Upsert(ctx, name, unit)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.skip(line, "%s: %v", name, err)
			continue
		}
		if created {
			rep.Created++
		} else {
			rep.Updated++
		}
	}
	im.logger().WithField("report", rep.String()).Info("products imported")
	return rep, nil
}

// ImportAliases привязывает алиасы к товарам. Товар задаётся id или точным названием.
func (im *Importer) ImportAliases(ctx context.Context, rows [][]string) (Report, error) {
	var rep Report
	if len(rows) == 0 {
		return rep, errors.New("seed: empty table")
	}
	if im.Aliases == nil {
		return rep, errors.New("seed: alias store is not configured")
	}
	cols := headerIndex(rows[0])
	aliasCol := cols.find(aliasHeaders)
	productCol := cols.find(productHeaders)
	if aliasCol < 0 || productCol < 0 {
		return rep, fmt.Errorf("seed: alias table needs alias and product columns, got %v", rows[0])
	}

	list, err := im.Products.Products(ctx)
	if err != nil {
		return rep, err
	}
	byName := make(map[string]int64, len(list))
	known := make(map[int64]bool, len(list))
	for _, p := range list {
		byName[catalog.AliasKey(p.Name)] = p.ID
		known[p.ID] = true
	}

	for i, row := range rows[1:] {
		line := i + 2
		alias := catalog.AliasKey(cell(row, aliasCol))
		ref := strings.TrimSpace(cell(row, productCol))
		if alias == "" || ref == "" {
			rep.skip(line, "empty alias or product")
			continue
		}
		id, ok := resolveProduct(ref, byName, known)
		if !ok {
			rep.skip(line, "unknown product %q", ref)
			continue
		}
		if err := im.Aliases.Upsert(ctx, alias, id); err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.skip(line, "%s: %v", alias, err)
			continue
		}
		rep.Created++
	}
	im.logger().WithField("report", rep.String()).Info("aliases imported")
	return rep, nil
}

func resolveProduct(ref string, byName map[string]int64, known map[int64]bool) (int64, bool) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, known[id]
	}
	id, ok := byName[catalog.AliasKey(ref)]
	return id, ok
}

func (im *Importer) logger() logrus.FieldLogger {
	if im.Log == nil {
		return logrus.StandardLogger()
	}
	return im.Log
}

type headers map[string]int

func headerIndex(row []string) headers {
	h := make(headers, len(row))
	for i, c := range row {
		k := strings.ToLower(strings.TrimSpace(c))
		if _, dup := h[k]; !dup {
			h[k] = i
		}
	}
	return h
}

func (h headers) find(names []string) int {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
