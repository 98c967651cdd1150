package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-bot/api/internal/export"
	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/units"
)

func render(s *Session) View {
	var v View
	switch st := s.State.(type) {
	case IssueList:
		v = renderList(s, st)
	case IssueEdit:
		v = renderEdit(s, st)
	case ProductSelect:
		v = renderSelect(s, st)
	case FieldInput:
		v = renderInput(s, st)
	case UnitSelect:
		v = renderUnits(s, st)
	case ConvertConfirm:
		v = renderConvert(st)
	case Confirm:
		v = renderConfirm(s)
	default:
		v = renderList(s, IssueList{})
	}
	if s.Notice != "" {
		v.Text = s.Notice + "\n\n" + v.Text
	}
	return v
}

func header(d *invoice.Draft) string {
	var b strings.Builder
	b.WriteString("📄 Накладная")
	if d.Number != "" {
		b.WriteString(" №" + d.Number)
	}
	if d.Date != "" {
		b.WriteString(" от " + d.Date)
	}
	b.WriteString("\n")
	if d.Supplier != "" {
		b.WriteString("Поставщик: " + d.Supplier + "\n")
	}
	if d.Buyer != "" {
		b.WriteString("Покупатель: " + d.Buyer + "\n")
	}
	return b.String()
}

func renderList(s *Session, st IssueList) View {
	var b strings.Builder
	b.WriteString(header(&s.Draft))
	for _, is := range s.InvoiceIssues {
		b.WriteString(is.Icon() + " " + is.Title())
		if is.Kind == invoice.TotalMismatch && is.Field != "" {
			b.WriteString(" (" + is.Field + ")")
		}
		b.WriteString("\n")
	}

	if len(s.Open) == 0 {
		b.WriteString("\n✅ Все проблемы решены.")
		return View{Text: b.String(), Rows: [][]Button{
			{btn("✅ К подтверждению", ActDone, "")},
			{btn("❌ Отмена", ActCancel, "")},
		}}
	}

	page := ClampPage(st.Page, len(s.Open))
	from, to := pageBounds(page, len(s.Open))
	fmt.Fprintf(&b, "\nПроблем: %d. Страница %d/%d\n", len(s.Open), page+1, Pages(len(s.Open)))

	var rows [][]Button
	for _, is := range s.Open[from:to] {
		name := strings.TrimSpace(is.Original.Name)
		if p, ok := s.Draft.At(is.Index); ok && strings.TrimSpace(p.Name) != "" {
			name = p.Name
		}
		if name == "" {
			name = "без названия"
		}
		label := fmt.Sprintf("%s %d. %s — %s", is.Icon(), is.Index, short(name, 28), is.Title())
		rows = append(rows, []Button{btn(label, ActIssue, strconv.Itoa(is.Index))})
	}
	if nav := navRow(page, len(s.Open)); len(nav) > 0 {
		rows = append(rows, nav)
	}
	for _, is := range s.Open {
		if is.Kind == invoice.NotInDatabase {
			rows = append(rows, []Button{btn("➕ Добавить все новые", ActAddAll, "")})
			break
		}
	}
	rows = append(rows, []Button{btn("✅ Готово", ActDone, ""), btn("❌ Отмена", ActCancel, "")})
	b.WriteString("Выберите позицию:")
	return View{Text: b.String(), Rows: rows}
}

func navRow(page, n int) []Button {
	var nav []Button
	if page > 0 {
		nav = append(nav, btn("◀️", ActPage, strconv.Itoa(page-1)))
	}
	if page < Pages(n)-1 {
		nav = append(nav, btn("▶️", ActPage, strconv.Itoa(page+1)))
	}
	return nav
}

func describePosition(index int, p *invoice.Position) string {
	var b strings.Builder
	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = "без названия"
	}
	fmt.Fprintf(&b, "Позиция %d: %s\n", index, name)
	fmt.Fprintf(&b, "Количество: %s %s\n", fmtDec(p.Quantity), p.Unit)
	fmt.Fprintf(&b, "Цена: %s\n", fmtDec(p.Price))
	fmt.Fprintf(&b, "Сумма: %s\n", fmtDec(p.Sum))
	return b.String()
}

func renderEdit(s *Session, st IssueEdit) View {
	p, ok := s.Draft.At(st.Index)
	if !ok {
		return renderList(s, IssueList{Page: st.ListPage})
	}
	var b strings.Builder
	b.WriteString(describePosition(st.Index, p))

	issues := s.IssuesAt(st.Index)
	needsProduct, convertible := false, false
	if len(issues) > 0 {
		b.WriteString("\nПроблемы:\n")
	}
	for _, is := range issues {
		b.WriteString(is.Icon() + " " + is.Title())
		if is.Product != nil {
			switch is.Kind {
			case invoice.LowConfidenceMatch, invoice.NotInDatabase:
				fmt.Fprintf(&b, ": похоже на «%s» (%.0f%%)", is.Product.Name, is.Confidence*100)
			case invoice.UnitMismatch:
				fmt.Fprintf(&b, ": в справочнике «%s» в %s", is.Product.Name, is.Product.Unit)
			}
		}
		b.WriteString("\n")
		switch is.Kind {
		case invoice.NotInDatabase, invoice.LowConfidenceMatch:
			needsProduct = true
		case invoice.UnitMismatch:
			convertible = convertible || is.Convertible
		}
	}
	b.WriteString("\nЧто сделать?")

	var rows [][]Button
	if needsProduct {
		rows = append(rows, []Button{
			btn("🔍 Выбрать товар", ActField, OpProduct),
			btn("🆕 Новый товар", ActField, OpAddNew),
		})
	}
	if convertible {
		rows = append(rows, []Button{btn("🔄 Пересчитать единицы", ActField, OpConvert)})
	}
	rows = append(rows,
		[]Button{btn("✏️ Название", ActField, OpName), btn("🔢 Количество", ActField, OpQty)},
		[]Button{btn("📏 Единица", ActField, OpUnit), btn("💰 Цена", ActField, OpPrice)},
		[]Button{btn("🗑 Удалить", ActField, OpDelete), btn("⬅️ Назад", ActBack, "")},
	)
	return View{Text: b.String(), Rows: rows}
}

func renderSelect(s *Session, st ProductSelect) View {
	var b strings.Builder
	name := ""
	if p, ok := s.Draft.At(st.Index); ok {
		name = p.Name
	}
	fmt.Fprintf(&b, "Позиция %d: %s\n", st.Index, name)
	if st.Query != "" && st.Query != name {
		fmt.Fprintf(&b, "Поиск: %s\n", st.Query)
	}

	var rows [][]Button
	if len(st.Candidates) == 0 {
		b.WriteString("\nПохожих товаров не найдено. Введите название для поиска или заведите новый товар.")
	} else {
		page := ClampPage(st.Page, len(st.Candidates))
		from, to := pageBounds(page, len(st.Candidates))
		fmt.Fprintf(&b, "\nВыберите товар (страница %d/%d) или введите название для поиска:", page+1, Pages(len(st.Candidates)))
		for _, c := range st.Candidates[from:to] {
			label := fmt.Sprintf("%s (%s) %.0f%%", short(c.Name, 32), c.Unit, c.Confidence*100)
			rows = append(rows, []Button{btn(label, ActProduct, strconv.FormatInt(c.ID, 10))})
		}
		if nav := navRow(page, len(st.Candidates)); len(nav) > 0 {
			rows = append(rows, nav)
		}
	}
	rows = append(rows,
		[]Button{btn("🔍 Поиск", ActField, OpSearch), btn("🆕 Новый товар", ActField, OpAddNew)},
		[]Button{btn("⬅️ Назад", ActBack, "")},
	)
	return View{Text: b.String(), Rows: rows, AwaitText: true}
}

func renderInput(s *Session, st FieldInput) View {
	p, ok := s.Draft.At(st.Index)
	if !ok {
		return renderList(s, IssueList{Page: st.ListPage})
	}
	var prompt string
	switch st.Field {
	case FieldName:
		prompt = fmt.Sprintf("Текущее название: %s\nВведите новое название:", p.Name)
	case FieldQty:
		prompt = fmt.Sprintf("Текущее количество: %s %s\nВведите количество:", fmtDec(p.Quantity), p.Unit)
	case FieldPrice:
		prompt = fmt.Sprintf("Текущая цена: %s\nВведите цену:", fmtDec(p.Price))
	case FieldUnit:
		prompt = fmt.Sprintf("Текущая единица: %s\nВведите единицу измерения:", p.Unit)
	case FieldSearch:
		prompt = "Введите название товара для поиска в справочнике:"
	}
	return View{
		Text:      fmt.Sprintf("Позиция %d\n%s", st.Index, prompt),
		Rows:      [][]Button{{btn("⬅️ Назад", ActBack, "")}},
		AwaitText: true,
	}
}

// unitChoices: единица товара (если её нет среди стандартных) идёт первой.
func unitChoices(s *Session, index int) []string {
	common := units.Common()
	for _, is := range s.IssuesAt(index) {
		if is.Product == nil || is.Product.Unit == "" {
			continue
		}
		u := units.Normalize(is.Product.Unit)
		found := false
		for _, c := range common {
			if c == u {
				found = true
				break
			}
		}
		if !found {
			return append([]string{u}, common...)
		}
		break
	}
	return common
}

func renderUnits(s *Session, st UnitSelect) View {
	p, ok := s.Draft.At(st.Index)
	if !ok {
		return renderList(s, IssueList{Page: st.ListPage})
	}
	text := fmt.Sprintf("Позиция %d: %s\nТекущая единица: %s\nВыберите единицу или введите свою:", st.Index, p.Name, p.Unit)
	var rows [][]Button
	var row []Button
	for _, u := range unitChoices(s, st.Index) {
		row = append(row, btn(u, ActUnit, u))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []Button{btn("⬅️ Назад", ActBack, "")})
	return View{Text: text, Rows: rows, AwaitText: true}
}

func renderConvert(st ConvertConfirm) View {
	text := fmt.Sprintf("Позиция %d: единица в накладной %s, в справочнике %s.\nПересчитать %s %s → %s %s?",
		st.Index, st.From, st.To, st.Value, st.From, st.Converted, st.To)
	return View{Text: text, Rows: [][]Button{
		{btn("✅ Да", ActConvert, "yes"), btn("❌ Нет", ActConvert, "no")},
	}}
}

func renderConfirm(s *Session) View {
	var b strings.Builder
	b.WriteString(header(&s.Draft))
	b.WriteString("\n")
	total := decimal.Zero
	count := 0
	for i := range s.Draft.Positions {
		p := &s.Draft.Positions[i]
		if p.Deleted {
			continue
		}
		index := i + 1
		mark := "❓"
		res, hasRes := s.Fixed[index]
		switch {
		case p.MatchedProductID != nil:
			mark = "✅"
		case hasRes && res.Action == invoice.ActionNewProduct:
			mark = "🆕"
		}
		sum := p.LineSum()
		total = total.Add(sum)
		count++
		fmt.Fprintf(&b, "%s %d. %s — %s %s × %s = %s\n", mark, index, short(p.Name, 32),
			fmtDec(p.Quantity), p.Unit, fmtDec(p.Price), sum.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nПозиций: %d, итого: %s", count, total.StringFixed(2))
	if len(s.Open) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Осталось нерешённых проблем: %d", len(s.Open))
	}
	b.WriteString("\n\nВыгрузить накладную в Syrve?")
	return View{Text: b.String(), Rows: [][]Button{
		{btn("✅ Выгрузить", ActConfirm, "")},
		{btn("⬅️ Назад", ActBack, ""), btn("❌ Отмена", ActCancel, "")},
	}}
}

func exportedText(inv *export.Invoice, msg string, created int) string {
	text := fmt.Sprintf("✅ %s\nПозиций: %d, итого: %s", msg, len(inv.Items), inv.Total.StringFixed(2))
	if created > 0 {
		text += fmt.Sprintf("\nНовых товаров в справочнике: %d", created)
	}
	return text
}

func fmtDec(d decimal.NullDecimal) string {
	if !d.Valid {
		return "—"
	}
	return d.Decimal.String()
}

func short(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
