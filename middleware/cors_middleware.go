package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

var defaultOrigins = []string{
	"http://localhost:3000", // dashboard dev server
	"http://localhost:5173",
	"https://agrimarket.ng",
	"https://www.agrimarket.ng",
	"https://partners.agrimarket.ng",
}

// AllowedOrigins merges the built-in frontend origins with extra ones from configuration.
func AllowedOrigins(extra []string) []string {
	origins := append([]string{}, defaultOrigins...)
	for _, origin := range extra {
		if o := strings.TrimSpace(origin); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// GlobalCORS creates a global CORS middleware
func GlobalCORS(extra []string) echo.MiddlewareFunc {
	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     AllowedOrigins(extra),
		AllowMethods:     []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		MaxAge:           86400,
	})
}
