package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/pkg/id"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Archiver persists rendered exports, e.g. to the S3 compliance bucket.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Export renders all entries matching the filter in the given format and
// returns the payload with its content type.
func (t *Trail) Export(f Filter, format string) ([]byte, string, error) {
	f.Limit = t.cfg.MaxEntries
	f.Offset = 0
	result := t.Query(f)

	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(result.Entries, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	case FormatCSV:
		data, err := renderCSV(result.Entries)
		if err != nil {
			return nil, "", err
		}
		return data, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q: %w", format, domain.ErrBadRequest)
	}
}

// Archive renders an export and uploads it to the archiver. The returned
// string is the stored object's URL.
func (t *Trail) Archive(ctx context.Context, archiver Archiver, f Filter, format string) (string, error) {
	data, contentType, err := t.Export(f, format)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = FormatJSON
	}
	key := fmt.Sprintf("audit/%s/%s.%s", t.now().UTC().Format("2006/01/02"), id.New(), format)
	return archiver.Put(ctx, key, data, contentType)
}

func renderCSV(entries []domain.AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "timestamp", "action", "identifier", "user_id", "role", "resource", "ip_address", "user_agent", "severity", "success"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range entries {
		row := []string{
			e.EntryID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Action,
			e.Identifier,
			e.UserID,
			e.Role,
			e.Resource,
			e.IPAddress,
			e.UserAgent,
			e.Severity,
			strconv.FormatBool(e.Success),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
