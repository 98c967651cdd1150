package handle

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/detect"
	"invoice-bot/api/internal/ocr"
)

// Handle: служебный HTTP API: распознать накладную без Telegram, проверить сопоставление, поправить алиасы.
type Handle struct {
	OCR      *ocr.Cached
	Detector *detect.Detector
	Catalog  catalog.Catalog
	Aliases  catalog.Aliases
	Token    string
	Log      logrus.FieldLogger

	validate *validator.Validate
}

func New(recognizer *ocr.Cached, det *detect.Detector, c catalog.Catalog, a catalog.Aliases, token string, log logrus.FieldLogger) *Handle {
	return &Handle{
		OCR:      recognizer,
		Detector: det,
		Catalog:  c,
		Aliases:  a,
		Token:    strings.TrimSpace(token),
		Log:      log,
		validate: validator.New(),
	}
}

// Register вешает обработчики на mux. Без токена API не публикуется.
func (h *Handle) Register(mux *http.ServeMux) bool {
	if h.Token == "" {
		return false
	}
	mux.HandleFunc("/v1/invoice/parse", h.auth(h.Parse))
	mux.HandleFunc("/v1/catalog/match", h.auth(h.Match))
	mux.HandleFunc("/v1/aliases", h.auth(h.Alias))
	return true
}

func (h *Handle) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// decode читает JSON-тело и проверяет теги validate.
func (h *Handle) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 25<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validator().Struct(v); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handle) validator() *validator.Validate {
	if h.validate == nil {
		h.validate = validator.New()
	}
	return h.validate
}

func (h *Handle) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
