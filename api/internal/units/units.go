package units

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Канонические коды единиц.
const (
	Liter      = "l"
	Milliliter = "ml"
	Kilogram   = "kg"
	Gram       = "g"
	Piece      = "pcs"
	Pack       = "pack"
	Box        = "box"
)

var aliases = map[string]string{
	// объём
	"l": Liter, "ltr": Liter, "liter": Liter, "litre": Liter, "lt": Liter, "л": Liter, "литр": Liter,
	"ml": Milliliter, "mililiter": Milliliter, "milliliter": Milliliter, "millilitre": Milliliter, "mili": Milliliter, "мл": Milliliter,
	// вес
	"kg": Kilogram, "kilo": Kilogram, "kilogram": Kilogram, "кг": Kilogram,
	"g": Gram, "gr": Gram, "gram": Gram, "gramm": Gram, "г": Gram, "гр": Gram,
	// штучные
	"pcs": Piece, "pc": Piece, "piece": Piece, "pieces": Piece, "buah": Piece, "biji": Piece, "potong": Piece,
	"ea": Piece, "btl": Piece, "шт": Piece,
	"pack": Pack, "package": Pack, "pkg": Pack, "paket": Pack, "pak": Pack, "уп": Pack, "упак": Pack,
	"box": Box, "boxes": Box, "kotak": Box, "dus": Box, "kardus": Box, "кор": Box, "коробка": Box,
}

type category int

const (
	categoryNone category = iota
	categoryVolume
	categoryWeight
	categoryCount
)

var categories = map[string]category{
	Liter: categoryVolume, Milliliter: categoryVolume,
	Kilogram: categoryWeight, Gram: categoryWeight,
	Piece: categoryCount, Pack: categoryCount, Box: categoryCount,
}

type pair struct{ from, to string }

var factors = map[pair]decimal.Decimal{
	{Milliliter, Liter}: decimal.RequireFromString("0.001"),
	{Liter, Milliliter}: decimal.NewFromInt(1000),
	{Gram, Kilogram}:    decimal.RequireFromString("0.001"),
	{Kilogram, Gram}:    decimal.NewFromInt(1000),
}

// Normalize приводит строку единицы к каноническому коду.
// Неизвестные значения возвращаются как есть (в нижнем регистре, без точки на конце).
func Normalize(s string) string {
	u := strings.ToLower(strings.TrimSpace(s))
	u = strings.TrimSuffix(u, ".")
	if c, ok := aliases[u]; ok {
		return c
	}
	return u
}

// Convert переводит value из from в to. false, конвертация невозможна.
func Convert(value decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	f, t := Normalize(from), Normalize(to)
	if f == t {
		return value, true
	}
	k, ok := factors[pair{f, t}]
	if !ok {
		return decimal.Zero, false
	}
	return value.Mul(k), true
}

// IsCompatible: одна и та же единица, прямой коэффициент или общая категория (объём/вес).
// Штучные единицы между собой несовместимы.
func IsCompatible(a, b string) bool {
	x, y := Normalize(a), Normalize(b)
	if x == y {
		return true
	}
	if _, ok := factors[pair{x, y}]; ok {
		return true
	}
	cx, cy := categories[x], categories[y]
	if cx == categoryCount || cy == categoryCount {
		return false
	}
	return cx != categoryNone && cx == cy
}

// Common: единицы для клавиатуры выбора.
func Common() []string {
	return []string{Kilogram, Gram, Liter, Milliliter, Piece, Pack, Box}
}
