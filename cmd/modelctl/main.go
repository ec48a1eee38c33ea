// modelctl manages the file-backed model registry: register artifact
// directories as new versions, list what is registered, verify checksums.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/machinewatch/scoring-runtime/internal/registry"
)

func main() {
	var (
		root     = flag.String("root", envOr("SCORING_REGISTRY_ROOT", "models/registry"), "model registry root directory")
		name     = flag.String("name", "", "model name")
		artifact = flag.String("artifact", "", "artifact directory to register as a new version")
		tags     = flag.String("tags", "", "comma-separated key=value tags for the new version")
		list     = flag.Bool("list", false, "list registered versions of -name")
		verify   = flag.Bool("verify", false, "verify the checksum of the latest version of -name")
	)
	flag.Parse()

	if strings.TrimSpace(*name) == "" {
		log.Fatal("-name is required")
	}

	reg, err := registry.Open(*root)
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}

	switch {
	case *artifact != "":
		model, err := reg.Register(strings.TrimSpace(*name), *artifact, parseTags(*tags))
		if err != nil {
			log.Fatalf("failed to register model: %v", err)
		}
		fmt.Printf("registered %s@%s (%d bytes, checksum %s)\n",
			model.Name, model.Version, model.SizeBytes, model.Checksum)
	case *list:
		models, err := reg.List(strings.TrimSpace(*name))
		if err != nil {
			log.Fatalf("failed to list models: %v", err)
		}
		for _, model := range models {
			fmt.Printf("%s\t%s\t%s\t%d bytes\n",
				model.Version, model.CreatedAt.Format("2006-01-02 15:04:05"), model.Checksum, model.SizeBytes)
		}
	case *verify:
		model, err := reg.Latest(strings.TrimSpace(*name))
		if err != nil {
			log.Fatalf("failed to resolve model: %v", err)
		}
		if err := reg.Verify(model); err != nil {
			log.Fatalf("verification failed: %v", err)
		}
		fmt.Printf("verified %s@%s\n", model.Name, model.Version)
	default:
		log.Fatal("one of -artifact, -list, or -verify is required")
	}
}

func parseTags(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		tags[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return tags
}

func envOr(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
