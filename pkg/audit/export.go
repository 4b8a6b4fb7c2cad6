package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// ExportFormat selects the encoding of an audit listing
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// ParseFormat parses a format name; empty means JSON.
func ParseFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatNDJSON, FormatCSV:
		return ExportFormat(s), nil
	}
	return "", &domain.InvalidInputError{Field: "format", Reason: "must be json, ndjson or csv"}
}

// ContentType returns the MIME type for the format
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

var (
	usageHeader   = []string{"id", "timestamp", "user_id", "service_id", "outcome", "usage_count", "detail"}
	paymentHeader = []string{"id", "timestamp", "user_id", "amount", "currency", "outcome", "reference", "detail"}
)

// ExportUsage encodes gate decisions
func ExportUsage(entries []*domain.UsageAuditEntry, format ExportFormat) ([]byte, error) {
	return export(entries, format, usageHeader, func(e *domain.UsageAuditEntry) []string {
		return []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.UserID, 10),
			e.ServiceID,
			string(e.Outcome),
			strconv.FormatInt(e.UsageCount, 10),
			e.Detail,
		}
	})
}

// ExportPayments encodes payment attempts
func ExportPayments(entries []*domain.PaymentAuditEntry, format ExportFormat) ([]byte, error) {
	return export(entries, format, paymentHeader, func(e *domain.PaymentAuditEntry) []string {
		return []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.UserID, 10),
			strconv.FormatInt(e.Amount, 10),
			e.Currency,
			string(e.Outcome),
			e.Reference,
			e.Detail,
		}
	})
}

func export[T any](entries []T, format ExportFormat, header []string, row func(T) []string) ([]byte, error) {
	switch format {
	case FormatNDJSON:
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		for _, e := range entries {
			if err := encoder.Encode(e); err != nil {
				return nil, fmt.Errorf("failed to encode entry: %w", err)
			}
		}
		return buf.Bytes(), nil

	case FormatCSV:
		var buf bytes.Buffer
		writer := csv.NewWriter(&buf)
		if err := writer.Write(header); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		for _, e := range entries {
			if err := writer.Write(row(e)); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, fmt.Errorf("CSV writer error: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return json.Marshal(map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		})
	}
}
