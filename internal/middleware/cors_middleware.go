package middleware

import (
	"net/http"
	"strings"
)

// Origins is a parsed CORS allow list. "*" admits every origin.
type Origins struct {
	any  bool
	list map[string]struct{}
}

func ParseOrigins(allowed string) Origins {
	o := Origins{list: make(map[string]struct{})}
	for _, origin := range strings.Split(allowed, ",") {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			o.any = true
		default:
			o.list[origin] = struct{}{}
		}
	}
	return o
}

// Allows reports whether a request from origin may proceed. Requests
// without an Origin header come from non-browser clients and are allowed.
func (o Origins) Allows(origin string) bool {
	if origin == "" || o.any {
		return true
	}
	_, ok := o.list[origin]
	return ok
}

func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	origins := ParseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && origins.Allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			} else if origin == "" && origins.any {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			// exports are downloaded by browsers that need the file name
			w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
