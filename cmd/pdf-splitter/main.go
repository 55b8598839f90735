package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/drawingmigration/internal/config"
	"github.com/Lllllllleong/drawingmigration/internal/models"
	"github.com/Lllllllleong/drawingmigration/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	pdfSplitterInstance *services.PDFSplitterFunction
	once                sync.Once
	initErr             error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// GCS uploads arrive as CloudEvents; the split workflow calls over HTTP.
	functions.CloudEvent("SplitAndPublish", splitAndPublish)
	functions.HTTP("HandleSplit", handleSplit)
}

// main is required by the Go Functions Framework.
func main() {}

func instance() (*services.PDFSplitterFunction, error) {
	once.Do(func() {
		cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
		if err != nil {
			initErr = err
			return
		}
		pdfSplitterInstance, initErr = services.NewPDFSplitter(context.Background(), cfg)
	})
	return pdfSplitterInstance, initErr
}

func splitAndPublish(ctx context.Context, e cloudevents.Event) error {
	splitter, err := instance()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	_, err = splitter.Process(ctx, gcsEvent)
	return err
}

func handleSplit(w http.ResponseWriter, r *http.Request) {
	splitter, err := instance()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bucket == "" || req.Name == "" {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: bucket and name are required", http.StatusBadRequest)
		return
	}

	res, err := splitter.Process(r.Context(), services.GCSEvent{Bucket: req.Bucket, Name: req.Name})
	if err != nil {
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
