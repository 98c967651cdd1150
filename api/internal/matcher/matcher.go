package matcher

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"invoice-bot/api/internal/invoice"
)

var (
	rePunct = regexp.MustCompile(`[.,;:\-_()\[\]"'/\\]+`)
	reSpace = regexp.MustCompile(`\s+`)

	semifinished = []*regexp.Regexp{
		regexp.MustCompile(`\bs/f\b`),
		regexp.MustCompile(`\bs/finished\b`),
		regexp.MustCompile(`semi.?finished`),
		regexp.MustCompile(`semi.?fabricated`),
		regexp.MustCompile(`(^|\s)п/ф(\s|$)`),
	}
)

// Candidate: кандидат из справочника с уверенностью 0..1.
type Candidate struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

func (c Candidate) Product() invoice.Product {
	return invoice.Product{ID: c.ID, Name: c.Name, Unit: c.Unit}
}

// Clean: нижний регистр, пунктуация -> пробел, схлопнутые пробелы.
func Clean(name string) string {
	s := strings.ToLower(name)
	s = rePunct.ReplaceAllString(s, " ")
	s = reSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func tokenSort(s string) string {
	f := strings.Fields(s)
	sort.Strings(f)
	return strings.Join(f, " ")
}

// Ratio: похожесть строк 0..100 после очистки и сортировки токенов.
func Ratio(a, b string) float64 {
	x, y := tokenSort(Clean(a)), tokenSort(Clean(b))
	if x == y {
		if x == "" {
			return 0
		}
		return 100
	}
	maxLen := utf8.RuneCountInString(x)
	if n := utf8.RuneCountInString(y); n > maxLen {
		maxLen = n
	}
	d := levenshtein.ComputeDistance(x, y)
	return (1 - float64(d)/float64(maxLen)) * 100
}

// FindBest возвращает лучший товар и уверенность 0..1; nil, 0 если справочник пуст или имя пустое.
func FindBest(name string, products []invoice.Product) (*invoice.Product, float64) {
	if Clean(name) == "" {
		return nil, 0
	}
	var (
		best  *invoice.Product
		score float64
	)
	for i := range products {
		s := Ratio(name, products[i].Name)
		if best == nil || s > score {
			p := products[i]
			best, score = &p, s
		}
	}
	if best == nil || score <= 0 {
		return nil, 0
	}
	return best, score / 100
}

// FindSimilar: до limit кандидатов с уверенностью >= threshold, по убыванию уверенности.
// При равенстве сохраняется порядок справочника.
func FindSimilar(query string, products []invoice.Product, limit int, threshold float64) []Candidate {
	if Clean(query) == "" || limit <= 0 {
		return nil
	}
	out := make([]Candidate, 0, limit)
	for _, p := range products {
		conf := Ratio(query, p.Name) / 100
		if conf < threshold {
			continue
		}
		out = append(out, Candidate{ID: p.ID, Name: p.Name, Unit: p.Unit, Confidence: conf})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// IsSemifinished: товар помечен как полуфабрикат.
func IsSemifinished(name string) bool {
	s := strings.ToLower(name)
	for _, re := range semifinished {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// WithoutSemifinished убирает полуфабрикаты из списка для ручного поиска.
func WithoutSemifinished(products []invoice.Product) []invoice.Product {
	out := make([]invoice.Product, 0, len(products))
	for _, p := range products {
		if !IsSemifinished(p.Name) {
			out = append(out, p)
		}
	}
	return out
}
