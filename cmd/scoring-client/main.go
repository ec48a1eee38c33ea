// scoring-client invokes a running scoring endpoint with sample records
// drawn from a telemetry dataset and prints the response envelope.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/machinewatch/scoring-runtime/internal/dataset"
)

func main() {
	var (
		url         = flag.String("url", envOr("SCORING_URL", "http://localhost:8080"), "scoring endpoint base URL")
		datasetPath = flag.String("dataset", "", "parquet telemetry dataset to sample records from")
		inputPath   = flag.String("input", "", "JSON file holding a raw record array (alternative to -dataset)")
		count       = flag.Int("count", 1, "number of records to send from the dataset")
		timeoutSec  = flag.Int("timeout-sec", 30, "request timeout in seconds")
	)
	flag.Parse()

	body, err := buildRequestBody(*datasetPath, *inputPath, *count)
	if err != nil {
		log.Fatalf("failed to build request body: %v", err)
	}

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}
	resp, err := client.Post(
		strings.TrimRight(*url, "/")+"/score",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		log.Fatalf("score request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	envelope, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("unexpected status %d: %s", resp.StatusCode, envelope)
	}
	fmt.Println(string(envelope))
}

func buildRequestBody(datasetPath string, inputPath string, count int) ([]byte, error) {
	switch {
	case datasetPath != "" && inputPath != "":
		return nil, fmt.Errorf("-dataset and -input are mutually exclusive")
	case datasetPath != "":
		rows, err := dataset.ReadRows(datasetPath, count)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dataset.Records(rows))
	case inputPath != "":
		raw, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, err
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("one of -dataset or -input is required")
	}
}

func envOr(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
