package reconcile

import (
	"encoding/json"
	"fmt"

	"invoice-bot/api/internal/matcher"
)

type StateKind string

const (
	KindIssueList      StateKind = "issue_list"
	KindIssueEdit      StateKind = "issue_edit"
	KindProductSelect  StateKind = "product_select"
	KindFieldInput     StateKind = "field_input"
	KindUnitSelect     StateKind = "unit_select"
	KindConvertConfirm StateKind = "convert_confirm"
	KindConfirm        StateKind = "confirm"
)

// State: текущий экран диалога. Каждый вариант хранит ровно то, что нужно для него и для "Назад".
type State interface {
	Kind() StateKind
}

type IssueList struct {
	Page int `json:"page"`
}

type IssueEdit struct {
	Index    int `json:"index"`
	ListPage int `json:"list_page"`
}

// Откуда открыт выбор товара.
const (
	FromEdit   = "edit"
	FromName   = "name"
	FromSearch = "search"
)

type ProductSelect struct {
	Index      int                 `json:"index"`
	ListPage   int                 `json:"list_page"`
	Page       int                 `json:"page"`
	Query      string              `json:"query"`
	Candidates []matcher.Candidate `json:"candidates"`
	Origin     string              `json:"origin"`
}

// Поля для ввода текстом.
const (
	FieldName   = "name"
	FieldQty    = "qty"
	FieldUnit   = "unit"
	FieldPrice  = "price"
	FieldSearch = "search"
)

type FieldInput struct {
	Index    int    `json:"index"`
	ListPage int    `json:"list_page"`
	Field    string `json:"field"`
	// для поиска, открытого из выбора товара
	SelectQuery  string `json:"select_query,omitempty"`
	SelectPage   int    `json:"select_page,omitempty"`
	SelectOrigin string `json:"select_origin,omitempty"`
	FromSelect   bool   `json:"from_select,omitempty"`
}

type UnitSelect struct {
	Index    int `json:"index"`
	ListPage int `json:"list_page"`
}

type ConvertConfirm struct {
	Index     int    `json:"index"`
	ListPage  int    `json:"list_page"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Converted string `json:"converted"`
	// AfterMatch: предложено сразу после выбора товара (сопоставление уже сохранено).
	AfterMatch bool `json:"after_match,omitempty"`
}

type Confirm struct {
	ListPage int `json:"list_page"`
}

func (IssueList) Kind() StateKind      { return KindIssueList }
func (IssueEdit) Kind() StateKind      { return KindIssueEdit }
func (ProductSelect) Kind() StateKind  { return KindProductSelect }
func (FieldInput) Kind() StateKind     { return KindFieldInput }
func (UnitSelect) Kind() StateKind     { return KindUnitSelect }
func (ConvertConfirm) Kind() StateKind { return KindConvertConfirm }
func (Confirm) Kind() StateKind        { return KindConfirm }

type stateEnvelope struct {
	Kind StateKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalState(s State) ([]byte, error) {
	if s == nil {
		s = IssueList{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateEnvelope{Kind: s.Kind(), Data: data})
}

func unmarshalState(b []byte) (State, error) {
	if len(b) == 0 || string(b) == "null" {
		return IssueList{}, nil
	}
	var env stateEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindIssueList, "":
		return decodeAs[IssueList](env.Data)
	case KindIssueEdit:
		return decodeAs[IssueEdit](env.Data)
	case KindProductSelect:
		return decodeAs[ProductSelect](env.Data)
	case KindFieldInput:
		return decodeAs[FieldInput](env.Data)
	case KindUnitSelect:
		return decodeAs[UnitSelect](env.Data)
	case KindConvertConfirm:
		return decodeAs[ConvertConfirm](env.Data)
	case KindConfirm:
		return decodeAs[Confirm](env.Data)
	}
	return nil, fmt.Errorf("unknown state kind %q", env.Kind)
}

func decodeAs[T State](data json.RawMessage) (State, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
