package invoice

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNotNumber = errors.New("not a number")

// ParseDecimal разбирает число из OCR или ввода пользователя:
// "1 234,50", "1,234.50", "12.5", "1.234,50 руб".
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrNotNumber
	}
	var b strings.Builder
loop:
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '\u00a0', r == '\u202f', r == '\'':
			// разделители разрядов
		case b.Len() > 0:
			// хвост вроде "руб" или "kg"
			break loop
		case r == '+':
		default:
			return decimal.Zero, ErrNotNumber
		}
	}
	num := b.String()
	if num == "" || num == "-" {
		return decimal.Zero, ErrNotNumber
	}
	dot, comma := strings.LastIndex(num, "."), strings.LastIndex(num, ",")
	switch {
	case dot >= 0 && comma >= 0:
		// последний разделитель, десятичный
		if comma > dot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case comma >= 0:
		if strings.Count(num, ",") > 1 {
			num = strings.ReplaceAll(num, ",", "")
		} else {
			num = strings.Replace(num, ",", ".", 1)
		}
	case strings.Count(num, ".") > 1:
		num = strings.ReplaceAll(num, ".", "")
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, ErrNotNumber
	}
	return d, nil
}

// ParseNullDecimal: как ParseDecimal, но пустое или нечисловое значение даёт Valid=false.
func ParseNullDecimal(s string) decimal.NullDecimal {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return Some(d)
}
