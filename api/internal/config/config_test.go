package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"GEMINI_API_KEY":     "key",
		"SYRVE_URL":          "https://syrve.example.com/api/invoices",
		"DATABASE_URL":       "postgres://bot:secret@db:5432/invoices?sslmode=disable",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookup(baseEnv()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" || cfg.GeminiModel != "gemini-2.5-flash" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.FuzzyThreshold != 0.85 || cfg.LearnThreshold != 0.90 || cfg.CandidateThreshold != 0.5 {
		t.Fatalf("thresholds: %v %v %v", cfg.FuzzyThreshold, cfg.LearnThreshold, cfg.CandidateThreshold)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.ExportTimeout != 30*time.Second {
		t.Fatalf("durations: %v %v", cfg.SessionTTL, cfg.ExportTimeout)
	}
	if cfg.UseRedis() {
		t.Fatalf("redis must be off without REDIS_ADDR")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	env := baseEnv()
	env["FUZZY_THRESHOLD"] = "0,9"
	env["SESSION_TTL"] = "3600"
	env["OCR_TIMEOUT"] = "2m"
	env["REDIS_ADDR"] = "redis:6379"
	env["REDIS_DB"] = "2"

	cfg, err := FromEnv(lookup(env))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FuzzyThreshold != 0.9 {
		t.Fatalf("fuzzy = %v", cfg.FuzzyThreshold)
	}
	if cfg.SessionTTL != time.Hour || cfg.OCRTimeout != 2*time.Minute {
		t.Fatalf("durations: %v %v", cfg.SessionTTL, cfg.OCRTimeout)
	}
	if !cfg.UseRedis() || cfg.RedisDB != 2 {
		t.Fatalf("redis: %+v", cfg)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing token", map[string]string{"GEMINI_API_KEY": "k", "SYRVE_URL": "http://x"}, "TELEGRAM_BOT_TOKEN"},
		{"bad number", merge(baseEnv(), "REDIS_DB", "two"), "REDIS_DB"},
		{"bad duration", merge(baseEnv(), "CATALOG_TTL", "soon"), "CATALOG_TTL"},
		{"threshold range", merge(baseEnv(), "LEARN_THRESHOLD", "1.5"), "LEARN_THRESHOLD"},
		{"candidate above fuzzy", merge(merge(baseEnv(), "CANDIDATE_THRESHOLD", "0.9"), "FUZZY_THRESHOLD", "0.8"), "CANDIDATE_THRESHOLD must not exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(lookup(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func merge(m map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for kk, vv := range m {
		out[kk] = vv
	}
	out[k] = v
	return out
}

func TestResolveDSNFromParts(t *testing.T) {
	env := baseEnv()
	delete(env, "DATABASE_URL")
	env["POSTGRES_USER"] = "u"
	env["POSTGRES_PASSWORD"] = "p@ss"
	env["PGHOST"] = "localhost"

	cfg, err := FromEnv(lookup(env))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := SafeDSNSummary(cfg.DatabaseURL); got != "host=localhost port=5432 db=invoicebot user=u" {
		t.Fatalf("summary = %q", got)
	}
	if strings.Contains(SafeDSNSummary(cfg.DatabaseURL), "p@ss") {
		t.Fatalf("password leaked")
	}
}

func TestLogErrorFields(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("debug", &buf)
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	LogError(l, "store", "Upsert", "save alias", map[string]any{"alias": "сыр"}, errors.New("boom"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if rec["module"] != "store" || rec["funcName"] != "Upsert" || rec["msg"] != "boom" || rec["level"] != "error" {
		t.Fatalf("record = %v", rec)
	}
	if newLogger("nonsense", &buf).GetLevel() != logrus.InfoLevel {
		t.Fatalf("unknown level must fall back to info")
	}
}
