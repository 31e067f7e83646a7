package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/meshdrift/meshdrift/internal/model"
)

// jsonl lines can get long when gateways append request metadata.
const maxLineBytes = 1 << 20

// FileIngestor reads newline-delimited JSON records from a local file.
// Unknown fields are ignored; malformed lines are skipped and counted.
type FileIngestor struct{}

// NewFileIngestor creates a FileIngestor.
func NewFileIngestor() *FileIngestor {
	return &FileIngestor{}
}

// Ingest parses the file at sourceRef into records.
func (f *FileIngestor) Ingest(ctx context.Context, sourceRef string) ([]model.Record, error) {
	if sourceRef == "" {
		return nil, fmt.Errorf("ingest: empty source ref")
	}
	file, err := os.Open(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", sourceRef, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []model.Record
	var skipped int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		if rec.Source == "" || rec.Destination == "" || rec.Timestamp.IsZero() {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", sourceRef, err)
	}
	if skipped > 0 {
		log.Printf("[integration] ingest %s: skipped %d malformed records", sourceRef, skipped)
	}
	return records, nil
}
