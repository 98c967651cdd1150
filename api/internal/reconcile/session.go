package reconcile

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"invoice-bot/api/internal/invoice"
)

// Session: рабочее состояние сверки одной накладной.
type Session struct {
	ID        uuid.UUID
	ChatID    int64
	MessageID int

	Draft         invoice.Draft
	InvoiceIssues []invoice.Issue
	Open          []invoice.Issue
	Fixed         map[int]invoice.Resolution
	State         State

	// Notice: одноразовое сообщение поверх следующего экрана.
	Notice string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone: глубокая копия. Обработчики работают только с копией.
func (s *Session) Clone() *Session {
	out := *s
	out.Draft = s.Draft.Clone()
	out.InvoiceIssues = append([]invoice.Issue(nil), s.InvoiceIssues...)
	out.Open = append([]invoice.Issue(nil), s.Open...)
	out.Fixed = make(map[int]invoice.Resolution, len(s.Fixed))
	for k, v := range s.Fixed {
		if v.ProductID != nil {
			id := *v.ProductID
			v.ProductID = &id
		}
		out.Fixed[k] = v
	}
	return &out
}

// IssuesAt: открытые проблемы позиции.
func (s *Session) IssuesAt(index int) []invoice.Issue {
	var out []invoice.Issue
	for _, is := range s.Open {
		if is.Index == index {
			out = append(out, is)
		}
	}
	return out
}

func (s *Session) hasKindAt(index int, kinds ...invoice.IssueKind) bool {
	for _, is := range s.Open {
		if is.Index != index {
			continue
		}
		for _, k := range kinds {
			if is.Kind == k {
				return true
			}
		}
	}
	return false
}

// removeAt убирает все проблемы позиции и возвращает их число.
func (s *Session) removeAt(index int) int {
	kept := s.Open[:0:0]
	for _, is := range s.Open {
		if is.Index != index {
			kept = append(kept, is)
		}
	}
	n := len(s.Open) - len(kept)
	s.Open = kept
	return n
}

// replaceAt заменяет проблемы позиции свежими, сохраняя порядок накладной.
func (s *Session) replaceAt(index int, issues []invoice.Issue) {
	s.removeAt(index)
	s.Open = append(s.Open, issues...)
	sort.SliceStable(s.Open, func(i, j int) bool { return s.Open[i].Index < s.Open[j].Index })
}

// prune убирает проблемы, ссылающиеся на удалённые или несуществующие позиции.
func (s *Session) prune() {
	kept := s.Open[:0:0]
	for _, is := range s.Open {
		if _, ok := s.Draft.At(is.Index); ok {
			kept = append(kept, is)
		}
	}
	s.Open = kept
}

type sessionJSON struct {
	ID            uuid.UUID                  `json:"id"`
	ChatID        int64                      `json:"chat_id"`
	MessageID     int                        `json:"message_id"`
	Draft         invoice.Draft              `json:"draft"`
	InvoiceIssues []invoice.Issue            `json:"invoice_issues"`
	Open          []invoice.Issue            `json:"open_issues"`
	Fixed         map[int]invoice.Resolution `json:"fixed_issues"`
	State         json.RawMessage            `json:"state"`
	Notice        string                     `json:"notice,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	st, err := marshalState(s.State)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sessionJSON{
		ID:            s.ID,
		ChatID:        s.ChatID,
		MessageID:     s.MessageID,
		Draft:         s.Draft,
		InvoiceIssues: s.InvoiceIssues,
		Open:          s.Open,
		Fixed:         s.Fixed,
		State:         st,
		Notice:        s.Notice,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	})
}

func (s *Session) UnmarshalJSON(b []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := unmarshalState(raw.State)
	if err != nil {
		return err
	}
	*s = Session{
		ID:            raw.ID,
		ChatID:        raw.ChatID,
		MessageID:     raw.MessageID,
		Draft:         raw.Draft,
		InvoiceIssues: raw.InvoiceIssues,
		Open:          raw.Open,
		Fixed:         raw.Fixed,
		State:         st,
		Notice:        raw.Notice,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
	}
	if s.Fixed == nil {
		s.Fixed = map[int]invoice.Resolution{}
	}
	return nil
}
