package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/detect"
	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/export"
	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/matcher"
	"invoice-bot/api/internal/units"
)

// Recorder сохраняет выгруженную накладную.
type Recorder interface {
	RecordExport(ctx context.Context, s *Session, inv *export.Invoice) error
}

// Engine: машина состояний сверки. Сама сессия хранится снаружи.
type Engine struct {
	Catalog  catalog.Catalog
	Aliases  catalog.Aliases
	Detector *detect.Detector
	Exporter export.Exporter
	Recorder Recorder
	Log      logrus.FieldLogger

	CandidateThreshold float64
	CandidateLimit     int
	ExportTimeout      time.Duration

	now func() time.Time
}

func NewEngine(c catalog.Catalog, a catalog.Aliases, det *detect.Detector, exp export.Exporter, log logrus.FieldLogger) *Engine {
	return &Engine{
		Catalog:            c,
		Aliases:            a,
		Detector:           det,
		Exporter:           exp,
		Log:                log,
		CandidateThreshold: 0.5,
		CandidateLimit:     4 * PageSize,
		ExportTimeout:      30 * time.Second,
		now:                time.Now,
	}
}

// Start прогоняет детектор и открывает сессию.
func (e *Engine) Start(ctx context.Context, chatID int64, draft invoice.Draft) (*Session, View, error) {
	d := draft.Clone()
	if len(d.Positions) == 0 {
		return nil, View{}, errs.Validation("positions", "в накладной не найдено ни одной позиции")
	}
	res, err := e.Detector.Detect(ctx, &d)
	if err != nil {
		return nil, View{}, err
	}
	now := e.clock()
	s := &Session{
		ID:            uuid.New(),
		ChatID:        chatID,
		Draft:         d,
		InvoiceIssues: res.Invoice,
		Open:          res.Positions,
		Fixed:         map[int]invoice.Resolution{},
		State:         IssueList{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(s.Open) == 0 {
		s.State = Confirm{}
	}
	e.logger().WithFields(logrus.Fields{
		"session":   s.ID,
		"chat_id":   chatID,
		"positions": len(d.Positions),
		"issues":    len(s.Open),
	}).Info("reconcile session started")
	return s, e.finish(s), nil
}

// Handle применяет действие к копии сессии. При ошибке возвращается исходное состояние с сообщением.
func (e *Engine) Handle(ctx context.Context, s *Session, a Action) (out *Session, v View) {
	defer func() {
		if r := recover(); r != nil {
			e.logger().WithFields(logrus.Fields{
				"session": s.ID,
				"action":  a.Kind,
				"arg":     a.Arg,
				"panic":   r,
			}).Error("reconcile handler panic")
			out = s.Clone()
			out.prune()
			out.State = IssueList{Page: ClampPage(listPage(s.State), len(out.Open))}
			out.Notice = "😔 Что-то пошло не так. Вернул вас к списку проблем."
			v = e.finish(out)
		}
	}()

	if a.Kind == ActCancel {
		return s, View{Text: "❌ Работа с накладной отменена.", Final: true}
	}

	next := s.Clone()
	next.Notice = ""
	final, err := e.apply(ctx, next, a)
	if err != nil {
		out = s.Clone()
		out.Notice = e.describe(err)
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			out.prune()
			out.State = IssueList{Page: ClampPage(listPage(s.State), len(out.Open))}
		}
		return out, e.finish(out)
	}
	if final != nil {
		return next, *final
	}
	next.prune()
	return next, e.finish(next)
}

// Render: текущий экран без изменения сессии.
func (e *Engine) Render(s *Session) View {
	return render(s)
}

func (e *Engine) finish(s *Session) View {
	s.UpdatedAt = e.clock()
	v := render(s)
	s.Notice = ""
	return v
}

func (e *Engine) apply(ctx context.Context, s *Session, a Action) (*View, error) {
	switch st := s.State.(type) {
	case IssueList:
		return nil, e.onList(s, st, a)
	case IssueEdit:
		return nil, e.onEdit(ctx, s, st, a)
	case ProductSelect:
		return nil, e.onSelect(ctx, s, st, a)
	case FieldInput:
		return nil, e.onInput(ctx, s, st, a)
	case UnitSelect:
		return nil, e.onUnit(ctx, s, st, a)
	case ConvertConfirm:
		return nil, e.onConvert(s, st, a)
	case Confirm:
		return e.onConfirm(ctx, s, st, a)
	}
	s.State = IssueList{}
	return nil, nil
}

// ---------------- issue list ----------------

func (e *Engine) onList(s *Session, st IssueList, a Action) error {
	switch a.Kind {
	case ActPage:
		if n, ok := a.Int(); ok {
			s.State = IssueList{Page: ClampPage(n, len(s.Open))}
		}
	case ActIssue:
		idx, ok := a.Int()
		if !ok {
			return errs.NotFound("position", a.Arg)
		}
		if _, ok := s.Draft.At(idx); !ok {
			return errs.NotFound("position", idx)
		}
		s.State = IssueEdit{Index: idx, ListPage: st.Page}
	case ActAddAll:
		return e.addAllMissing(s, st.Page)
	case ActDone, ActConfirm:
		s.State = Confirm{ListPage: st.Page}
	}
	return nil
}

// addAllMissing помечает все позиции "нет в базе" как новые товары. Либо всё, либо ничего.
func (e *Engine) addAllMissing(s *Session, page int) error {
	var targets []int
	seen := map[int]bool{}
	for _, is := range s.Open {
		if is.Kind == invoice.NotInDatabase && !seen[is.Index] {
			seen[is.Index] = true
			targets = append(targets, is.Index)
		}
	}
	if len(targets) == 0 {
		return errs.Validation("", "Нет позиций с пометкой «нет в базе».")
	}
	added := 0
	for _, idx := range targets {
		pos, ok := s.Draft.At(idx)
		if !ok || strings.TrimSpace(pos.Name) == "" {
			continue
		}
		s.removeAt(idx)
		s.Fixed[idx] = invoice.Resolution{Action: invoice.ActionNewProduct, ProductName: strings.TrimSpace(pos.Name)}
		added++
	}
	if added == 0 {
		return errs.Validation("name", "У позиций нет названий, сначала введите их.")
	}
	e.afterResolve(s, page)
	s.Notice = fmt.Sprintf("🆕 Добавлено новых товаров: %d", added)
	return nil
}

// afterResolve: к списку проблем или, если их не осталось, к подтверждению.
func (e *Engine) afterResolve(s *Session, page int) {
	s.prune()
	if len(s.Open) == 0 {
		s.State = Confirm{}
		return
	}
	s.State = IssueList{Page: ClampPage(page, len(s.Open))}
}

// ---------------- issue edit ----------------

func (e *Engine) onEdit(ctx context.Context, s *Session, st IssueEdit, a Action) error {
	pos, ok := s.Draft.At(st.Index)
	if !ok {
		return errs.NotFound("position", st.Index)
	}
	switch a.Kind {
	case ActBack:
		s.State = IssueList{Page: ClampPage(st.ListPage, len(s.Open))}
	case ActField:
		switch a.Arg {
		case OpProduct:
			return e.openSelect(ctx, s, st.Index, st.ListPage, pos.Name, FromEdit, true)
		case OpSearch:
			s.State = FieldInput{Index: st.Index, ListPage: st.ListPage, Field: FieldSearch}
		case OpName:
			s.State = FieldInput{Index: st.Index, ListPage: st.ListPage, Field: FieldName}
		case OpQty:
			s.State = FieldInput{Index: st.Index, ListPage: st.ListPage, Field: FieldQty}
		case OpPrice:
			s.State = FieldInput{Index: st.Index, ListPage: st.ListPage, Field: FieldPrice}
		case OpUnit:
			s.State = UnitSelect{Index: st.Index, ListPage: st.ListPage}
		case OpDelete:
			pos.Deleted = true
			s.removeAt(st.Index)
			s.Fixed[st.Index] = invoice.Resolution{Action: invoice.ActionDelete}
			e.afterResolve(s, st.ListPage)
			s.Notice = fmt.Sprintf("🗑 Позиция %d удалена.", st.Index)
		case OpAddNew:
			return e.markNew(s, st.Index, st.ListPage)
		case OpConvert:
			return e.offerConvert(ctx, s, st.Index, st.ListPage)
		}
	}
	return nil
}

func (e *Engine) markNew(s *Session, idx, listPage int) error {
	pos, _ := s.Draft.At(idx)
	name := strings.TrimSpace(pos.Name)
	if name == "" {
		return errs.Validation("name", "У позиции нет названия, сначала введите его.")
	}
	pos.MatchedProductID = nil
	pos.Confidence = 0
	s.removeAt(idx)
	s.Fixed[idx] = invoice.Resolution{Action: invoice.ActionNewProduct, ProductName: name}
	e.afterResolve(s, listPage)
	s.Notice = fmt.Sprintf("🆕 «%s» будет заведён как новый товар.", name)
	return nil
}

func (e *Engine) offerConvert(ctx context.Context, s *Session, idx, listPage int) error {
	pos, _ := s.Draft.At(idx)
	if pos.MatchedProductID == nil {
		return errs.Validation("unit", "Сначала выберите товар.")
	}
	prod, err := e.product(ctx, *pos.MatchedProductID)
	if err != nil {
		return err
	}
	from, to := units.Normalize(pos.Unit), units.Normalize(prod.Unit)
	if from == to {
		return errs.Validation("unit", "Единицы уже совпадают.")
	}
	if !units.IsCompatible(from, to) || !pos.Quantity.Valid {
		return errs.Validation("unit", "Пересчёт %s → %s невозможен, выберите единицу вручную.", pos.Unit, prod.Unit)
	}
	conv, _ := units.Convert(pos.Quantity.Decimal, from, to)
	s.State = ConvertConfirm{
		Index: idx, ListPage: listPage,
		From: from, To: to,
		Value: pos.Quantity.Decimal.String(), Converted: conv.String(),
	}
	return nil
}

// ---------------- product select ----------------

// openSelect ищет кандидатов и открывает выбор товара. force=false, не открывать при пустом результате.
func (e *Engine) openSelect(ctx context.Context, s *Session, idx, listPage int, query, origin string, force bool) error {
	products, err := e.Catalog.Products(ctx)
	if err != nil {
		return errs.External("catalog", err)
	}
	cands := matcher.FindSimilar(query, matcher.WithoutSemifinished(products), e.CandidateLimit, e.CandidateThreshold)
	for _, is := range s.IssuesAt(idx) {
		if is.Product == nil || hasCandidate(cands, is.Product.ID) {
			continue
		}
		cands = append(cands, matcher.Candidate{ID: is.Product.ID, Name: is.Product.Name, Unit: is.Product.Unit, Confidence: is.Confidence})
	}
	if len(cands) == 0 && !force {
		return nil
	}
	s.State = ProductSelect{Index: idx, ListPage: listPage, Query: query, Candidates: cands, Origin: origin}
	return nil
}

func hasCandidate(cands []matcher.Candidate, id int64) bool {
	for _, c := range cands {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) onSelect(ctx context.Context, s *Session, st ProductSelect, a Action) error {
	if _, ok := s.Draft.At(st.Index); !ok {
		return errs.NotFound("position", st.Index)
	}
	switch a.Kind {
	case ActPage:
		if n, ok := a.Int(); ok {
			st.Page = ClampPage(n, len(st.Candidates))
			s.State = st
		}
	case ActProduct:
		id, err := strconv.ParseInt(a.Arg, 10, 64)
		if err != nil {
			return errs.NotFound("product", a.Arg)
		}
		return e.selectProduct(ctx, s, st.Index, st.ListPage, id)
	case ActText:
		q := strings.TrimSpace(a.Arg)
		if q == "" {
			return errs.Validation("query", "Пустой запрос.")
		}
		return e.openSelect(ctx, s, st.Index, st.ListPage, q, st.Origin, true)
	case ActField:
		switch a.Arg {
		case OpSearch:
			s.State = FieldInput{
				Index: st.Index, ListPage: st.ListPage, Field: FieldSearch,
				FromSelect: true, SelectQuery: st.Query, SelectPage: st.Page, SelectOrigin: st.Origin,
			}
		case OpAddNew:
			return e.markNew(s, st.Index, st.ListPage)
		}
	case ActBack:
		switch st.Origin {
		case FromName:
			s.State = FieldInput{Index: st.Index, ListPage: st.ListPage, Field: FieldName}
		case FromSearch:
			s.State = FieldInput{Index: st.Index, ListPage: st.ListPage, Field: FieldSearch}
		default:
			s.State = IssueEdit{Index: st.Index, ListPage: st.ListPage}
		}
	}
	return nil
}

// selectProduct: товар и алиас сохраняются до изменения сессии, ошибка прерывает переход.
func (e *Engine) selectProduct(ctx context.Context, s *Session, idx, listPage int, productID int64) error {
	pos, _ := s.Draft.At(idx)
	prod, err := e.product(ctx, productID)
	if err != nil {
		return err
	}
	if name := strings.TrimSpace(pos.Name); name != "" && e.Aliases != nil {
		if err := e.Aliases.Upsert(ctx, name, prod.ID); err != nil {
			return persistErr("save alias", err)
		}
	}

	pos.Match(prod.ID, 1.0)
	s.removeAt(idx)
	res := invoice.Resolution{Action: invoice.ActionMatch, ProductID: idPtr(prod.ID), ProductName: prod.Name}

	from, to := units.Normalize(pos.Unit), units.Normalize(prod.Unit)
	switch {
	case to == "" || from == to:
	case from == "":
		pos.Unit = to
		res.NewUnit = to
	case units.IsCompatible(from, to) && pos.Quantity.Valid:
		conv, _ := units.Convert(pos.Quantity.Decimal, from, to)
		s.Fixed[idx] = res
		s.State = ConvertConfirm{
			Index: idx, ListPage: listPage,
			From: from, To: to,
			Value: pos.Quantity.Decimal.String(), Converted: conv.String(),
			AfterMatch: true,
		}
		return nil
	case units.IsCompatible(from, to):
		res.Note = "количество не указано, единица не пересчитана"
	default:
		res.Note = fmt.Sprintf("единица %s несовместима с %s, оставлена без изменений", pos.Unit, prod.Unit)
	}
	s.Fixed[idx] = res
	e.afterResolve(s, listPage)
	s.Notice = fmt.Sprintf("✅ Позиция %d: %s", idx, prod.Name)
	if res.Note != "" {
		s.Notice += "\nℹ️ " + res.Note
	}
	return nil
}

// ---------------- conversion ----------------

func (e *Engine) onConvert(s *Session, st ConvertConfirm, a Action) error {
	pos, ok := s.Draft.At(st.Index)
	if !ok {
		return errs.NotFound("position", st.Index)
	}
	switch {
	case a.Kind == ActConvert && a.Arg == "yes":
		newQty, err := decimal.NewFromString(st.Converted)
		if err != nil || newQty.IsZero() {
			return errs.Validation("qty", "Не удалось пересчитать количество.")
		}
		oldQty := pos.Quantity.Decimal
		oldUnit := pos.Unit
		pos.Quantity = invoice.Some(newQty)
		pos.Unit = st.To
		// сумма строки не меняется, цена пересчитывается
		switch {
		case pos.Sum.Valid:
			pos.Price = invoice.Some(pos.Sum.Decimal.Div(newQty).Round(4))
		case pos.Price.Valid:
			pos.Price = invoice.Some(pos.Price.Decimal.Mul(oldQty).Div(newQty).Round(4))
		}

		res, ok := s.Fixed[st.Index]
		if !ok || !st.AfterMatch {
			res = invoice.Resolution{Action: invoice.ActionConvert, ProductID: copyID(pos.MatchedProductID)}
		}
		res.OldUnit, res.NewUnit = oldUnit, st.To
		res.Note = fmt.Sprintf("%s %s → %s %s", st.Value, st.From, st.Converted, st.To)
		s.Fixed[st.Index] = res
		s.removeAt(st.Index)
		e.afterResolve(s, st.ListPage)
		s.Notice = "🔄 Пересчитано: " + res.Note
	case a.Kind == ActConvert || a.Kind == ActBack:
		if st.AfterMatch {
			res := s.Fixed[st.Index]
			res.Note = "единица оставлена без пересчёта"
			s.Fixed[st.Index] = res
			e.afterResolve(s, st.ListPage)
			return nil
		}
		s.State = IssueEdit{Index: st.Index, ListPage: st.ListPage}
	}
	return nil
}

// ---------------- units ----------------

func (e *Engine) onUnit(ctx context.Context, s *Session, st UnitSelect, a Action) error {
	if _, ok := s.Draft.At(st.Index); !ok {
		return errs.NotFound("position", st.Index)
	}
	switch a.Kind {
	case ActUnit, ActText:
		return e.setUnit(ctx, s, st.Index, st.ListPage, a.Arg)
	case ActBack:
		s.State = IssueEdit{Index: st.Index, ListPage: st.ListPage}
	}
	return nil
}

func (e *Engine) setUnit(ctx context.Context, s *Session, idx, listPage int, raw string) error {
	u := units.Normalize(raw)
	if u == "" {
		return errs.Validation("unit", "Укажите единицу измерения.")
	}
	pos, _ := s.Draft.At(idx)
	old := strings.TrimSpace(pos.Unit)
	e.logEdit(s, idx, FieldUnit, old, u)
	pos.Unit = u
	// запоминаем "название + старая единица", чтобы такие строки в следующий раз сопоставлялись сразу
	if pos.MatchedProductID != nil && old != "" && units.Normalize(old) != u && e.Aliases != nil {
		if name := strings.TrimSpace(pos.Name); name != "" {
			if err := e.Aliases.Upsert(ctx, name+" "+old, *pos.MatchedProductID); err != nil {
				return persistErr("save alias", err)
			}
		}
	}
	return e.refresh(ctx, s, idx, listPage, invoice.Resolution{Action: invoice.ActionChangeUnit, OldUnit: old, NewUnit: u})
}

// ---------------- text input ----------------

func (e *Engine) onInput(ctx context.Context, s *Session, st FieldInput, a Action) error {
	pos, ok := s.Draft.At(st.Index)
	if !ok {
		return errs.NotFound("position", st.Index)
	}
	switch a.Kind {
	case ActBack:
		if st.Field == FieldSearch && st.FromSelect {
			origin := st.SelectOrigin
			if origin == "" {
				origin = FromEdit
			}
			if err := e.openSelect(ctx, s, st.Index, st.ListPage, st.SelectQuery, origin, true); err != nil {
				return err
			}
			if ps, ok := s.State.(ProductSelect); ok {
				ps.Page = ClampPage(st.SelectPage, len(ps.Candidates))
				s.State = ps
			}
			return nil
		}
		s.State = IssueEdit{Index: st.Index, ListPage: st.ListPage}
		return nil
	case ActUnit:
		if st.Field == FieldUnit {
			return e.setUnit(ctx, s, st.Index, st.ListPage, a.Arg)
		}
		return nil
	case ActText:
	default:
		return nil
	}

	text := strings.TrimSpace(a.Arg)
	switch st.Field {
	case FieldName:
		if text == "" {
			return errs.Validation("name", "Название не может быть пустым.")
		}
		e.logEdit(s, st.Index, FieldName, pos.Name, text)
		pos.Name = text
		pos.MatchedProductID = nil
		pos.Confidence = 0
		if prev, ok := s.Fixed[st.Index]; ok && prev.Action == invoice.ActionNewProduct {
			prev.ProductName = text
			s.Fixed[st.Index] = prev
		}
		if err := e.refresh(ctx, s, st.Index, st.ListPage, invoice.Resolution{Action: invoice.ActionManualEdit}); err != nil {
			return err
		}
		if s.hasKindAt(st.Index, invoice.NotInDatabase, invoice.LowConfidenceMatch) {
			return e.openSelect(ctx, s, st.Index, st.ListPage, text, FromName, false)
		}
		return nil

	case FieldQty:
		v, err := invoice.ParseDecimal(text)
		if err != nil || !v.IsPositive() {
			return errs.Validation("qty", "Введите положительное число, например 2.5")
		}
		e.logEdit(s, st.Index, FieldQty, fmtDec(pos.Quantity), v.String())
		pos.Quantity = invoice.Some(v)
		pos.Recalc()
		return e.refresh(ctx, s, st.Index, st.ListPage, invoice.Resolution{Action: invoice.ActionManualEdit})

	case FieldPrice:
		v, err := invoice.ParseDecimal(text)
		if err != nil || v.IsNegative() {
			return errs.Validation("price", "Введите цену числом, например 120.50")
		}
		e.logEdit(s, st.Index, FieldPrice, fmtDec(pos.Price), v.String())
		pos.Price = invoice.Some(v)
		pos.Recalc()
		return e.refresh(ctx, s, st.Index, st.ListPage, invoice.Resolution{Action: invoice.ActionManualEdit})

	case FieldUnit:
		return e.setUnit(ctx, s, st.Index, st.ListPage, text)

	case FieldSearch:
		if text == "" {
			return errs.Validation("query", "Пустой запрос.")
		}
		return e.openSelect(ctx, s, st.Index, st.ListPage, text, FromSearch, true)
	}
	return nil
}

func (e *Engine) logEdit(s *Session, idx int, field, old, next string) {
	e.logger().WithFields(logrus.Fields{
		"session": s.ID,
		"index":   idx,
		"field":   field,
		"old":     old,
		"new":     next,
	}).Info("position edited")
}

// refresh перепроверяет позицию после правки и обновляет её проблемы и решение.
func (e *Engine) refresh(ctx context.Context, s *Session, idx, listPage int, res invoice.Resolution) error {
	issues, err := e.Detector.DetectPosition(ctx, &s.Draft, idx)
	if err != nil {
		return err
	}
	pos, _ := s.Draft.At(idx)
	prev, hadPrev := s.Fixed[idx]

	if hadPrev && prev.Action == invoice.ActionNewProduct && pos.MatchedProductID == nil {
		// позиция уже помечена как новый товар, поиск по справочнику не нужен
		kept := issues[:0:0]
		for _, is := range issues {
			if is.Kind != invoice.NotInDatabase && is.Kind != invoice.LowConfidenceMatch {
				kept = append(kept, is)
			}
		}
		issues = kept
		res = prev
	}

	s.replaceAt(idx, issues)
	if len(issues) == 0 {
		res.ProductID = copyID(pos.MatchedProductID)
		if res.ProductName == "" && hadPrev {
			res.ProductName = prev.ProductName
		}
		s.Fixed[idx] = res
		e.afterResolve(s, listPage)
		s.Notice = fmt.Sprintf("✅ Позиция %d исправлена.", idx)
		return nil
	}
	if hadPrev && pos.MatchedProductID == nil && prev.Action != invoice.ActionNewProduct {
		delete(s.Fixed, idx)
	}
	s.State = IssueEdit{Index: idx, ListPage: listPage}
	return nil
}

// ---------------- confirm & export ----------------

func (e *Engine) onConfirm(ctx context.Context, s *Session, st Confirm, a Action) (*View, error) {
	switch a.Kind {
	case ActBack:
		s.State = IssueList{Page: ClampPage(st.ListPage, len(s.Open))}
	case ActConfirm:
		return e.confirm(ctx, s)
	}
	return nil, nil
}

// confirm: финализация, заведение новых товаров, выгрузка. При сбое сессия остаётся на подтверждении.
func (e *Engine) confirm(ctx context.Context, s *Session) (*View, error) {
	products, err := e.Catalog.Products(ctx)
	if err != nil {
		return nil, errs.External("catalog", err)
	}
	if _, err := export.Finalize(s.Draft, s.Fixed, products); err != nil {
		return nil, err
	}

	// созданные товары должны остаться в сессии даже при ошибке дальше
	if err := e.createPending(ctx, s, products); err != nil {
		s.Notice = e.describe(err)
		return nil, nil
	}
	products, err = e.Catalog.Products(ctx)
	if err != nil {
		s.Notice = e.describe(errs.External("catalog", err))
		return nil, nil
	}
	inv, err := export.Finalize(s.Draft, s.Fixed, products)
	if err != nil {
		s.Notice = e.describe(err)
		return nil, nil
	}

	ectx, cancel := context.WithTimeout(ctx, e.ExportTimeout)
	ok, msg := e.Exporter.Export(ectx, inv)
	cancel()
	if !ok {
		e.logger().WithFields(logrus.Fields{"session": s.ID, "reason": msg}).Warn("export failed")
		s.Notice = "❌ Не удалось выгрузить накладную: " + msg + "\nМожно повторить выгрузку."
		return nil, nil
	}

	if e.Recorder != nil {
		if err := e.Recorder.RecordExport(ctx, s, inv); err != nil {
			e.logger().WithError(err).WithField("session", s.ID).Error("record exported invoice")
		}
	}
	e.logger().WithFields(logrus.Fields{"session": s.ID, "items": len(inv.Items)}).Info("invoice exported")
	created := 0
	for _, res := range s.Fixed {
		if res.Action == invoice.ActionNewProduct && res.Created {
			created++
		}
	}
	v := View{Text: exportedText(inv, msg, created), Final: true}
	return &v, nil
}

// createPending заводит товары для решений new_product, один раз на позицию.
func (e *Engine) createPending(ctx context.Context, s *Session, products []invoice.Product) error {
	keys := make([]int, 0, len(s.Fixed))
	for k := range s.Fixed {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	// одно название может стоять в накладной несколько раз
	created := map[string]int64{}
	for _, idx := range keys {
		res := s.Fixed[idx]
		if res.Action != invoice.ActionNewProduct || res.Created {
			continue
		}
		pos, ok := s.Draft.At(idx)
		if !ok {
			continue
		}
		name := res.ProductName
		if name == "" {
			name = strings.TrimSpace(pos.Name)
		}
		unit := units.Normalize(pos.Unit)
		key := catalog.AliasKey(name)

		id, seen := created[key]
		if !seen {
			var err error
			id, err = e.createProduct(ctx, name, unit, products)
			if err != nil {
				return err
			}
			created[key] = id
			e.logger().WithFields(logrus.Fields{"product_id": id, "name": name, "unit": unit}).Info("product created")
		}
		res.Created = true
		res.ProductID = idPtr(id)
		s.Fixed[idx] = res
		pos.Match(id, 1.0)

		if e.Aliases != nil && !strings.EqualFold(strings.TrimSpace(pos.Name), name) {
			if err := e.Aliases.Upsert(ctx, pos.Name, id); err != nil {
				e.logger().WithError(err).WithField("alias", pos.Name).Warn("alias for new product not saved")
			}
		}
	}
	return nil
}

// createProduct заводит товар. Если такое название уже есть в справочнике, возвращает его id.
func (e *Engine) createProduct(ctx context.Context, name, unit string, products []invoice.Product) (int64, error) {
	id, err := e.Catalog.Create(ctx, name, unit)
	if err == nil {
		return id, nil
	}
	var ie *errs.IntegrityError
	if !errors.As(err, &ie) {
		return 0, persistErr("create product", err)
	}
	if existing, ok := findByName(products, name); ok {
		return existing.ID, nil
	}
	// товар мог появиться после загрузки списка
	fresh, lerr := e.Catalog.Products(ctx)
	if lerr != nil {
		return 0, errs.External("catalog", lerr)
	}
	if existing, ok := findByName(fresh, name); ok {
		return existing.ID, nil
	}
	return 0, err
}

func findByName(products []invoice.Product, name string) (invoice.Product, bool) {
	for _, p := range products {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true
		}
	}
	return invoice.Product{}, false
}

// ---------------- helpers ----------------

func (e *Engine) product(ctx context.Context, id int64) (*invoice.Product, error) {
	p, err := e.Catalog.Product(ctx, id)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		return nil, errs.External("catalog", err)
	}
	if p == nil {
		return nil, errs.NotFound("product", id)
	}
	return p, nil
}

func persistErr(op string, err error) error {
	var ie *errs.IntegrityError
	if errors.As(err, &ie) {
		return err
	}
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return errs.External(op, err)
}

func (e *Engine) describe(err error) string {
	var (
		ve  *errs.ValidationError
		nf  *errs.NotFoundError
		ie  *errs.IntegrityError
		ext *errs.ExternalServiceError
	)
	// IntegrityError может оборачивать ValidationError хранилища
	switch {
	case errors.As(err, &ie):
		e.logger().WithError(err).Error("integrity error")
		return "❌ Не удалось сохранить изменения. Попробуйте ещё раз."
	case errors.As(err, &ve):
		if len(ve.Positions) > 0 {
			return fmt.Sprintf("⚠️ Не решены позиции: %s", joinInts(ve.Positions))
		}
		return "⚠️ " + ve.Message
	case errors.As(err, &nf):
		e.logger().WithError(err).Warn("stale reference")
		return "ℹ️ Позиция или товар больше не существуют, список обновлён."
	case errors.As(err, &ext):
		e.logger().WithError(err).Error("external service error")
		return "❌ Сервис временно недоступен, попробуйте ещё раз."
	}
	e.logger().WithError(err).Error("reconcile error")
	return "❌ Не удалось выполнить действие."
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func listPage(st State) int {
	switch x := st.(type) {
	case IssueList:
		return x.Page
	case IssueEdit:
		return x.ListPage
	case ProductSelect:
		return x.ListPage
	case FieldInput:
		return x.ListPage
	case UnitSelect:
		return x.ListPage
	case ConvertConfirm:
		return x.ListPage
	case Confirm:
		return x.ListPage
	}
	return 0
}

func idPtr(id int64) *int64 { return &id }

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	return idPtr(*p)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}
