package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/matcher"
	"invoice-bot/api/internal/units"
)

var (
	minTolerance = decimal.RequireFromString("0.01")
	relTolerance = decimal.RequireFromString("0.01")
)

// Detector ищет проблемы в черновике: сначала алиасы, потом нечёткий поиск.
type Detector struct {
	Catalog catalog.Catalog
	Aliases catalog.Aliases
	Log     logrus.FieldLogger

	// Threshold: автопринятие совпадения.
	Threshold float64
	// LearnThreshold: с какой уверенности автоматически запоминать алиас.
	LearnThreshold float64
	// CandidateThreshold: ниже этого кандидат не показывается, позиция считается "нет в базе".
	CandidateThreshold float64
}

func New(c catalog.Catalog, a catalog.Aliases, log logrus.FieldLogger) *Detector {
	return &Detector{
		Catalog:            c,
		Aliases:            a,
		Log:                log,
		Threshold:          0.85,
		LearnThreshold:     0.90,
		CandidateThreshold: 0.5,
	}
}

// Result: проблемы по позициям (в порядке накладной) и по документу целиком.
type Result struct {
	Positions []invoice.Issue
	Invoice   []invoice.Issue
}

func (r Result) Empty() bool { return len(r.Positions) == 0 && len(r.Invoice) == 0 }

// Detect проверяет все живые позиции. Автоматически принятые совпадения пишутся в черновик.
func (d *Detector) Detect(ctx context.Context, draft *invoice.Draft) (Result, error) {
	products, err := d.Catalog.Products(ctx)
	if err != nil {
		return Result{}, errs.External("catalog", err)
	}
	idx := indexProducts(products)

	var res Result
	for i := range draft.Positions {
		if draft.Positions[i].Deleted {
			continue
		}
		issues, err := d.position(ctx, draft, i+1, products, idx)
		if err != nil {
			return Result{}, err
		}
		res.Positions = append(res.Positions, issues...)
	}
	res.Invoice = InvoiceIssues(draft)
	return res, nil
}

// DetectPosition перепроверяет одну позицию после правки.
func (d *Detector) DetectPosition(ctx context.Context, draft *invoice.Draft, index int) ([]invoice.Issue, error) {
	if _, ok := draft.At(index); !ok {
		return nil, nil
	}
	products, err := d.Catalog.Products(ctx)
	if err != nil {
		return nil, errs.External("catalog", err)
	}
	return d.position(ctx, draft, index, products, indexProducts(products))
}

func indexProducts(products []invoice.Product) map[int64]invoice.Product {
	m := make(map[int64]invoice.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}

func (d *Detector) position(ctx context.Context, draft *invoice.Draft, index int, products []invoice.Product, idx map[int64]invoice.Product) ([]invoice.Issue, error) {
	p := &draft.Positions[index-1]
	var out []invoice.Issue
	issue := func(kind invoice.IssueKind) invoice.Issue {
		return invoice.Issue{Index: index, Kind: kind, Original: *p}
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		is := issue(invoice.MissingField)
		is.Field = "name"
		out = append(out, is)
	}
	if !p.Quantity.Valid || !p.Quantity.Decimal.IsPositive() {
		is := issue(invoice.MissingField)
		is.Field = "quantity"
		out = append(out, is)
	}
	if strings.TrimSpace(p.Unit) == "" {
		is := issue(invoice.MissingField)
		is.Field = "unit"
		out = append(out, is)
	}

	var matched *invoice.Product
	if p.MatchedProductID != nil {
		if prod, ok := idx[*p.MatchedProductID]; ok {
			matched = &prod
		} else {
			// товар пропал из справочника
			p.MatchedProductID = nil
			p.Confidence = 0
		}
	}

	if matched == nil && name != "" {
		prod, conf, err := d.match(ctx, name, products, idx)
		if err != nil {
			return nil, err
		}
		switch {
		case prod != nil && conf >= d.Threshold:
			p.Match(prod.ID, conf)
			matched = prod
		case prod != nil && conf >= d.CandidateThreshold:
			is := issue(invoice.LowConfidenceMatch)
			is.Product, is.Confidence = prod, conf
			out = append(out, is)
		default:
			is := issue(invoice.NotInDatabase)
			if prod != nil {
				is.Product, is.Confidence = prod, conf
			}
			out = append(out, is)
		}
	}

	if matched != nil && p.Unit != "" && matched.Unit != "" {
		if units.Normalize(p.Unit) != units.Normalize(matched.Unit) {
			is := issue(invoice.UnitMismatch)
			is.Product = matched
			is.Confidence = p.Confidence
			is.Convertible = units.IsCompatible(p.Unit, matched.Unit)
			out = append(out, is)
		}
	}

	if SumMismatch(p) {
		out = append(out, issue(invoice.SumMismatch))
	}
	return out, nil
}

// match: алиас, затем нечёткий поиск. Уверенные совпадения запоминаются как алиасы.
func (d *Detector) match(ctx context.Context, name string, products []invoice.Product, idx map[int64]invoice.Product) (*invoice.Product, float64, error) {
	if d.Aliases != nil {
		id, err := d.Aliases.Lookup(ctx, name)
		if err != nil {
			return nil, 0, errs.External("aliases", err)
		}
		if id != nil {
			if prod, ok := idx[*id]; ok {
				return &prod, 1.0, nil
			}
			d.logger().WithFields(logrus.Fields{"alias": name, "product_id": *id}).Warn("alias points to missing product")
		}
	}

	prod, conf := matcher.FindBest(name, products)
	if prod != nil && d.Aliases != nil && conf >= d.LearnThreshold && conf < 1 {
		if err := d.Aliases.Upsert(ctx, name, prod.ID); err != nil {
			// не критично: совпадение всё равно принято
			d.logger().WithError(err).WithField("alias", name).Warn("auto-learn alias failed")
		}
	}
	return prod, conf, nil
}

func (d *Detector) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

// SumMismatch: |sum - qty*price| больше max(0.01, 1% от qty*price).
func SumMismatch(p *invoice.Position) bool {
	if !p.Sum.Valid || !p.Quantity.Valid || !p.Price.Valid {
		return false
	}
	expected := p.Quantity.Decimal.Mul(p.Price.Decimal)
	return p.Sum.Decimal.Sub(expected).Abs().GreaterThan(tolerance(expected))
}

func tolerance(v decimal.Decimal) decimal.Decimal {
	t := v.Abs().Mul(relTolerance)
	if t.LessThan(minTolerance) {
		return minTolerance
	}
	return t
}

// InvoiceIssues: проблемы уровня документа.
func InvoiceIssues(draft *invoice.Draft) []invoice.Issue {
	var out []invoice.Issue
	if strings.TrimSpace(draft.Supplier) == "" {
		out = append(out, invoice.Issue{Kind: invoice.SupplierMissing})
	}
	live := 0
	for _, p := range draft.Positions {
		if !p.Deleted {
			live++
		}
	}
	if live == 0 {
		out = append(out, invoice.Issue{Kind: invoice.NoPositions})
		return out
	}
	if draft.TotalSum.Valid {
		sum := draft.LiveSum()
		if draft.TotalSum.Decimal.Sub(sum).Abs().GreaterThan(tolerance(sum)) {
			out = append(out, invoice.Issue{Kind: invoice.TotalMismatch, Field: fmt.Sprintf("%s / %s", draft.TotalSum.Decimal.StringFixed(2), sum.StringFixed(2))})
		}
	}
	return out
}
