package ocr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/units"
)

// Flex: значение, которое модель присылает то строкой, то числом ("1 234,50" или 1234.5).
type Flex string

func (f *Flex) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "" || s == "null":
		*f = ""
		return nil
	case s[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = Flex(strings.TrimSpace(str))
		return nil
	case s[0] == '{' || s[0] == '[' || s == "true" || s == "false":
		return fmt.Errorf("unexpected value %s", s)
	}
	*f = Flex(s)
	return nil
}

func (f Flex) String() string { return string(f) }

func (f Flex) Decimal() decimal.NullDecimal { return invoice.ParseNullDecimal(string(f)) }

type ParsedPosition struct {
	Name     string `json:"name"`
	Quantity Flex   `json:"quantity"`
	Unit     string `json:"unit"`
	Price    Flex   `json:"price"`
	Sum      Flex   `json:"sum"`
}

type ParseResult struct {
	Supplier  string           `json:"supplier"`
	Buyer     string           `json:"buyer"`
	Date      string           `json:"date"`
	Number    Flex             `json:"number"`
	Positions []ParsedPosition `json:"positions"`
	TotalSum  Flex             `json:"total_sum"`
	RawText   string           `json:"raw_text,omitempty"`

	// заполняются Assess
	NeedsRescan  bool   `json:"needs_rescan,omitempty"`
	RescanReason string `json:"rescan_reason,omitempty"`
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	"02.01.06",
	"2006.01.02",
	"2006/01/02",
	"02-01-2006",
}

// NormalizeDate приводит дату к YYYY-MM-DD. Нераспознанная дата даёт пустую строку.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// ToDraft: черновик накладной из ответа модели. Пустые строки таблицы отбрасываются.
func (r ParseResult) ToDraft(imageHash string) invoice.Draft {
	d := invoice.Draft{
		Supplier:  strings.TrimSpace(r.Supplier),
		Buyer:     strings.TrimSpace(r.Buyer),
		Date:      NormalizeDate(r.Date),
		Number:    strings.TrimSpace(r.Number.String()),
		TotalSum:  r.TotalSum.Decimal(),
		RawText:   r.RawText,
		ImageHash: imageHash,
	}
	for _, p := range r.Positions {
		pos := invoice.Position{
			Name:     strings.Join(strings.Fields(p.Name), " "),
			Quantity: p.Quantity.Decimal(),
			Unit:     units.Normalize(p.Unit),
			Price:    p.Price.Decimal(),
			Sum:      p.Sum.Decimal(),
		}
		if pos.Name == "" && !pos.Quantity.Valid && !pos.Price.Valid && !pos.Sum.Valid {
			continue
		}
		d.Positions = append(d.Positions, pos)
	}
	return d
}
