package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/Lllllllleong/drawingmigration/internal/services"
)

var (
	ocrInstance *services.PageOCRFunction
	once        sync.Once
	initErr     error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandlePageOCR", handlePageOCR)
}

// main is required by the Go Functions Framework.
func main() {}

// handlePageOCR is called by the OCR workflow once per page.
func handlePageOCR(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
		if err != nil {
			initErr = err
			return
		}
		ocrInstance, initErr = services.NewPageOCR(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Page OCR initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.PageOCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := ocrInstance.Process(r.Context(), &req)
	if err != nil {
		// Logged inside Process; a 500 makes the workflow retry the step.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
