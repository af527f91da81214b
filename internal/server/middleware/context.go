package middleware

import (
	"context"

	"github.com/OFFIS-RIT/chronicle/internal/queue"
	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// App carries the process-wide dependencies handlers need. Runs, Queue and
// Bucket may be nil when the server runs without persistence; the routes that
// need them answer 503 in that case. Presign is optional and turns artifact
// downloads into redirects.
type App struct {
	Runs           store.RunStorage
	Queue          queue.Publisher
	Bucket         *storage.Bucket
	Presign        func(ctx context.Context, key string) (string, error)
	Keyfunc        jwt.Keyfunc
	Config         analysis.Config
	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
