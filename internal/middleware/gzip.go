package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

var compress = chimiddleware.Compress(5, "text/html", "text/plain", "application/json")

// GzipMiddleware распаковывает тело запроса в gzip и сжимает HTML и JSON ответы,
// если клиент принимает gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	compressed := compress(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			defer gr.Close()
			r.Body = gr
			r.Header.Del("Content-Encoding")
		}

		compressed.ServeHTTP(w, r)
	})
}
