package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/drawingmigration/internal/api"
	"github.com/Lllllllleong/drawingmigration/internal/bootstrap"
	"github.com/Lllllllleong/drawingmigration/internal/config"
)

var (
	handler http.Handler
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("DrawingAPI", serveAPI)
}

// main is required by the Go Functions Framework.
func main() {}

func serveAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
		if err != nil {
			initErr = err
			return
		}
		engine, err := bootstrap.New(context.Background(), cfg, slog.Default())
		if err != nil {
			initErr = err
			return
		}
		handler = api.NewServer(engine, slog.Default()).Routes()
	})
	if initErr != nil {
		slog.Error("Drawing API initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
