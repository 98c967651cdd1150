package httpserver

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Check: проверка зависимости для /healthz (БД, Redis).
type Check func(ctx context.Context) error

// Health отвечает 200 "ok", если все проверки прошли, иначе 503 со списком упавших.
func Health(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var failed []string
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				failed = append(failed, name+": not ok\n"+err.Error())
			}
		}
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failed, "\n")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Register вешает /healthz и корневую заглушку на mux.
func Register(mux *http.ServeMux, checks map[string]Check) {
	mux.HandleFunc("/healthz", Health(checks))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("invoice bot"))
	})
}
