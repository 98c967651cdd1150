package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product: товар из справочника.
type Product struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Position: строка накладной после OCR. Позиции не удаляются физически, только флагом Deleted.
type Position struct {
	Name             string              `json:"name"`
	Quantity         decimal.NullDecimal `json:"quantity"`
	Unit             string              `json:"unit"`
	Price            decimal.NullDecimal `json:"price"`
	Sum              decimal.NullDecimal `json:"sum"`
	MatchedProductID *int64              `json:"matched_product_id,omitempty"`
	Confidence       float64             `json:"confidence"`
	Deleted          bool                `json:"deleted,omitempty"`
}

// Draft: черновик накладной.
type Draft struct {
	Supplier  string              `json:"supplier"`
	Buyer     string              `json:"buyer"`
	Date      string              `json:"date"`
	Number    string              `json:"number,omitempty"`
	TotalSum  decimal.NullDecimal `json:"total_sum"`
	Positions []Position          `json:"positions"`
	RawText   string              `json:"raw_text,omitempty"`
	ImageHash string              `json:"image_hash,omitempty"`
}

// At возвращает живую позицию по номеру (с 1).
func (d *Draft) At(index int) (*Position, bool) {
	if index < 1 || index > len(d.Positions) {
		return nil, false
	}
	p := &d.Positions[index-1]
	if p.Deleted {
		return nil, false
	}
	return p, true
}

// Clone: глубокая копия черновика.
func (d Draft) Clone() Draft {
	out := d
	out.Positions = make([]Position, len(d.Positions))
	for i, p := range d.Positions {
		if p.MatchedProductID != nil {
			id := *p.MatchedProductID
			p.MatchedProductID = &id
		}
		out.Positions[i] = p
	}
	return out
}

// LiveSum: сумма по неудалённым позициям (Sum, либо qty*price).
func (d *Draft) LiveSum() decimal.Decimal {
	total := decimal.Zero
	for i := range d.Positions {
		p := &d.Positions[i]
		if p.Deleted {
			continue
		}
		total = total.Add(p.LineSum())
	}
	return total
}

// LineSum: заявленная сумма строки либо qty*price.
func (p *Position) LineSum() decimal.Decimal {
	if p.Sum.Valid {
		return p.Sum.Decimal
	}
	if p.Quantity.Valid && p.Price.Valid {
		return p.Quantity.Decimal.Mul(p.Price.Decimal)
	}
	return decimal.Zero
}

// Recalc пересчитывает сумму, когда известны и количество, и цена.
func (p *Position) Recalc() {
	if p.Quantity.Valid && p.Price.Valid {
		p.Sum = Some(p.Quantity.Decimal.Mul(p.Price.Decimal).Round(2))
	}
}

// Match фиксирует ручной или автоматический выбор товара.
func (p *Position) Match(productID int64, confidence float64) {
	id := productID
	p.MatchedProductID = &id
	p.Confidence = confidence
}

func Some(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Today: дата по умолчанию для документа.
func Today() string {
	return time.Now().Format("2006-01-02")
}
