package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"invoice-bot/api/internal/ocr"
	"invoice-bot/api/internal/util"
)

const systemPrompt = `Ты — модуль распознавания товарных накладных для ресторана.
На фото одна накладная (несколько фото альбома склеены сверху вниз в одно изображение).
Перепиши документ и извлеки данные строго в JSON. Никаких пояснений вне JSON.

Правила:
1) Переписывай названия товаров как в документе, не исправляй и не переводи.
2) Числа копируй как в документе, с разрядными пробелами и запятыми ("1 234,50" допустимо).
3) quantity — количество, unit — единица измерения как в документе (кг, г, л, мл, шт, уп, kg, pcs...).
4) price — цена за единицу, sum — сумма строки. Если значения нет, ставь null.
5) date — дата документа в формате YYYY-MM-DD, если её можно прочитать, иначе пустая строка.
6) Строки итогов, НДС и подписи не являются позициями.
7) raw_text — весь текст документа построчно.

Формат ответа:
{
  "supplier": string,
  "buyer": string,
  "date": string,
  "number": string,
  "positions": [
    {"name": string, "quantity": number|string|null, "unit": string, "price": number|string|null, "sum": number|string|null}
  ],
  "total_sum": number|string|null,
  "raw_text": string
}`

type Engine struct {
	APIKey string
	Model  string
	Retry  RetryConfig
	Log    logrus.FieldLogger
}

func New(apiKey, model string, log logrus.FieldLogger) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
		Retry:  DefaultRetryConfig,
		Log:    log,
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

// Parse распознаёт накладную. Ответ модели разбирается как JSON, при мусоре вокруг вырезается первый объект.
func (e *Engine) Parse(ctx context.Context, img []byte, mime string) (ocr.ParseResult, error) {
	if e.APIKey == "" {
		return ocr.ParseResult{}, errors.New("GEMINI_API_KEY is empty")
	}
	if len(img) == 0 {
		return ocr.ParseResult{}, errors.New("gemini parse: empty image")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return ocr.ParseResult{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		return ocr.ParseResult{}, fmt.Errorf("gemini: model is nil")
	}
	// Возвращаем строго JSON
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	parts := []genai.Part{
		genai.Text("Распознай накладную. Ответ строго JSON по формату."),
		&genai.Blob{MIMEType: util.PickMIME(mime, img), Data: img},
	}

	resp, err := e.generate(ctx, m, parts)
	if err != nil {
		return ocr.ParseResult{}, err
	}
	txt := firstText(resp)
	if txt == "" {
		return ocr.ParseResult{}, fmt.Errorf("gemini parse: empty response")
	}
	return decodeResult(txt)
}

func decodeResult(txt string) (ocr.ParseResult, error) {
	var out ocr.ParseResult
	clean := util.StripCodeFences(strings.TrimSpace(txt))
	if err := json.Unmarshal([]byte(clean), &out); err == nil {
		return out, nil
	}
	obj, ok := util.ExtractJSONObject(txt)
	if !ok {
		return ocr.ParseResult{}, fmt.Errorf("gemini parse: no JSON in response: %s", util.Truncate(clean, 200))
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return ocr.ParseResult{}, fmt.Errorf("gemini parse: bad JSON: %w", err)
	}
	return out, nil
}

// generate: вызов модели с повторами на временных ошибках.
func (e *Engine) generate(ctx context.Context, m *genai.GenerativeModel, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	cfg := e.Retry
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig
	}
	var lastErr *Error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err == nil {
			return resp, nil
		}
		lastErr = categorize(err)
		e.logger().WithFields(logrus.Fields{
			"attempt":   attempt,
			"category":  lastErr.Category,
			"status":    lastErr.StatusCode,
			"retryable": lastErr.Retryable,
		}).Warn("gemini call failed")
		if !lastErr.Retryable || attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, categorize(ctx.Err())
		case <-time.After(cfg.backoff(attempt, lastErr)):
		}
	}
	return nil, lastErr
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
