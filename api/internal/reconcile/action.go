package reconcile

import "strconv"

type ActionKind string

const (
	ActIssue   ActionKind = "issue"   // Arg: номер позиции
	ActPage    ActionKind = "page"    // Arg: номер страницы
	ActProduct ActionKind = "product" // Arg: id товара
	ActField   ActionKind = "field"   // Arg: name|qty|unit|price|delete|add_new|convert|product|search
	ActText    ActionKind = "text"    // Arg: введённый текст
	ActUnit    ActionKind = "unit"    // Arg: код единицы
	ActConvert ActionKind = "convert" // Arg: yes|no
	ActConfirm ActionKind = "confirm"
	ActDone    ActionKind = "done"
	ActBack    ActionKind = "back"
	ActAddAll  ActionKind = "add_all"
	ActCancel  ActionKind = "cancel"
)

// Действия экрана правки позиции (ActField).
const (
	OpName    = "name"
	OpQty     = "qty"
	OpUnit    = "unit"
	OpPrice   = "price"
	OpDelete  = "delete"
	OpAddNew  = "add_new"
	OpConvert = "convert"
	OpProduct = "product"
	OpSearch  = "search"
)

// Action: одно действие пользователя.
type Action struct {
	Kind ActionKind
	Arg  string
}

func (a Action) Int() (int, bool) {
	n, err := strconv.Atoi(a.Arg)
	return n, err == nil
}

func Text(s string) Action { return Action{Kind: ActText, Arg: s} }

// Button: кнопка экрана.
type Button struct {
	Label  string
	Action Action
}

func btn(label string, kind ActionKind, arg string) Button {
	return Button{Label: label, Action: Action{Kind: kind, Arg: arg}}
}

// View: то, что показывается пользователю после каждого действия.
type View struct {
	Text string
	Rows [][]Button
	// AwaitText: экран ждёт ввода текста.
	AwaitText bool
	// Final: сессия завершена (выгружена или отменена).
	Final bool
}

// PageSize: размер страницы списка проблем и списка кандидатов.
const PageSize = 5

// Pages: число страниц, минимум одна.
func Pages(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + PageSize - 1) / PageSize
}

// ClampPage приводит номер страницы к [0, Pages(n)-1].
func ClampPage(page, n int) int {
	if last := Pages(n) - 1; page > last {
		page = last
	}
	if page < 0 {
		page = 0
	}
	return page
}

func pageBounds(page, n int) (int, int) {
	page = ClampPage(page, n)
	from := page * PageSize
	to := from + PageSize
	if to > n {
		to = n
	}
	return from, to
}
