package invoice

// IssueKind: тип проблемы.
type IssueKind string

const (
	NotInDatabase      IssueKind = "not_in_database"
	LowConfidenceMatch IssueKind = "low_confidence_match"
	UnitMismatch       IssueKind = "unit_mismatch"
	MissingField       IssueKind = "missing_field"
	SumMismatch        IssueKind = "sum_mismatch"

	SupplierMissing IssueKind = "supplier_missing"
	NoPositions     IssueKind = "no_positions"
	TotalMismatch   IssueKind = "total_mismatch"
)

// Issue: проблема по позиции (Index с 1) или по накладной целиком (Index = 0).
type Issue struct {
	Index       int       `json:"index"`
	Kind        IssueKind `json:"kind"`
	Field       string    `json:"field,omitempty"`
	Original    Position  `json:"original"`
	Product     *Product  `json:"product,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Convertible bool      `json:"convertible,omitempty"`
}

// Icon: значок для списка проблем.
func (i Issue) Icon() string {
	switch i.Kind {
	case NotInDatabase:
		return "🔴"
	case LowConfidenceMatch:
		return "🟡"
	case UnitMismatch:
		return "🟠"
	default:
		return "⚠️"
	}
}

// Title: короткое описание проблемы для пользователя.
func (i Issue) Title() string {
	switch i.Kind {
	case NotInDatabase:
		return "нет в базе"
	case LowConfidenceMatch:
		return "низкая уверенность"
	case UnitMismatch:
		if i.Convertible {
			return "другая единица (можно пересчитать)"
		}
		return "несовместимая единица"
	case MissingField:
		switch i.Field {
		case "name":
			return "нет названия"
		case "quantity":
			return "нет количества"
		case "unit":
			return "нет единицы"
		}
		return "не заполнено поле"
	case SumMismatch:
		return "сумма не сходится"
	case SupplierMissing:
		return "не указан поставщик"
	case NoPositions:
		return "нет позиций"
	case TotalMismatch:
		return "итог не совпадает с суммой позиций"
	}
	return string(i.Kind)
}

// Action: решение по позиции.
type Action string

const (
	ActionMatch      Action = "match"
	ActionNewProduct Action = "new_product"
	ActionDelete     Action = "delete"
	ActionConvert    Action = "convert"
	ActionChangeUnit Action = "change_unit"
	ActionManualEdit Action = "manual_edit"
)

// Resolution: запись о том, как позиция была исправлена.
type Resolution struct {
	Action      Action `json:"action"`
	ProductID   *int64 `json:"product_id,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	OldUnit     string `json:"old_unit,omitempty"`
	NewUnit     string `json:"new_unit,omitempty"`
	Note        string `json:"note,omitempty"`
	// Created: товар уже заведён в справочник (для new_product), повторная выгрузка его не создаёт.
	Created bool `json:"created,omitempty"`
}
