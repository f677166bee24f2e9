package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const maxRequestBodyBytes int64 = 1 << 20 // 1 MiB

func applyRequestBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func applyAuth(next http.Handler, serviceAPIKey, jwtSecret string) http.Handler {
	serviceAPIKey = strings.TrimSpace(serviceAPIKey)
	jwtSecret = strings.TrimSpace(jwtSecret)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isProtectedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if serviceAPIKey == "" && jwtSecret == "" {
			writeAuthError(w, http.StatusInternalServerError, "API auth is not configured")
			return
		}

		if serviceAPIKey != "" {
			incomingKey := strings.TrimSpace(r.Header.Get("X-Service-API-Key"))
			if incomingKey != "" && subtle.ConstantTimeCompare([]byte(incomingKey), []byte(serviceAPIKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		if jwtSecret != "" {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
			if token != "" {
				if err := validateJWT(token, jwtSecret); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func isProtectedPath(path string) bool {
	if path == "/" || path == "/health" {
		return false
	}
	return strings.HasPrefix(path, "/api/")
}

func validateJWT(tokenString, secret string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
