package export

import (
	"strings"

	"github.com/shopspring/decimal"

	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/units"
)

// Invoice: готовая к выгрузке накладная.
type Invoice struct {
	Supplier string          `json:"supplier" validate:"required"`
	Buyer    string          `json:"buyer"`
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	Number   string          `json:"number,omitempty"`
	Items    []Item          `json:"items" validate:"required,min=1,dive"`
	Total    decimal.Decimal `json:"total"`
}

// Item: строка выгрузки. ProductID = 0 у товаров, которые ещё предстоит завести.
type Item struct {
	Position  int             `json:"position"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit" validate:"required"`
	Price     decimal.Decimal `json:"price"`
	Sum       decimal.Decimal `json:"sum"`
	New       bool            `json:"new,omitempty"`
}

// Finalize отбрасывает удалённые позиции и проверяет, что каждая оставшаяся
// сопоставлена с товаром или помечена как новый товар.
func Finalize(draft invoice.Draft, fixed map[int]invoice.Resolution, products []invoice.Product) (*Invoice, error) {
	byID := make(map[int64]invoice.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := &Invoice{
		Supplier: strings.TrimSpace(draft.Supplier),
		Buyer:    strings.TrimSpace(draft.Buyer),
		Date:     strings.TrimSpace(draft.Date),
		Number:   draft.Number,
		Total:    decimal.Zero,
	}
	if out.Date == "" {
		out.Date = invoice.Today()
	}

	var unresolved []int
	for i, p := range draft.Positions {
		if p.Deleted {
			continue
		}
		index := i + 1
		item := Item{
			Position: index,
			Name:     strings.TrimSpace(p.Name),
			Unit:     units.Normalize(p.Unit),
		}
		res, hasRes := fixed[index]
		switch {
		case p.MatchedProductID != nil:
			item.ProductID = *p.MatchedProductID
			if prod, ok := byID[item.ProductID]; ok {
				item.Name = prod.Name
				if item.Unit == "" {
					item.Unit = units.Normalize(prod.Unit)
				}
			}
		case hasRes && res.Action == invoice.ActionNewProduct:
			item.New = true
			if res.ProductName != "" {
				item.Name = res.ProductName
			}
		default:
			unresolved = append(unresolved, index)
			continue
		}
		if p.Quantity.Valid {
			item.Quantity = p.Quantity.Decimal
		}
		if p.Price.Valid {
			item.Price = p.Price.Decimal
		}
		item.Sum = p.LineSum()
		if item.Price.IsZero() && !item.Quantity.IsZero() && !item.Sum.IsZero() {
			item.Price = item.Sum.Div(item.Quantity).Round(2)
		}
		out.Items = append(out.Items, item)
		out.Total = out.Total.Add(item.Sum)
	}
	if len(unresolved) > 0 {
		return nil, errs.Unresolved(unresolved)
	}
	return out, nil
}
