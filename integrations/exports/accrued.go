package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"poolrewards/core/state"
	"poolrewards/crypto"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "."))); f {
	case FormatCSV, FormatJSONL, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("exports: unsupported format %q", raw)
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/vnd.apache.parquet"
	}
}

// AccruedSnapshot is the accrued ledger of one distributor at a block.
type AccruedSnapshot struct {
	Distributor crypto.Address
	RewardToken string
	Block       uint64
	GeneratedAt time.Time
	Entries     []state.AccruedEntry
}

// row is the flattened form every encoder writes.
type row struct {
	distributor string
	account     string
	token       string
	amount      string
	block       uint64
	generatedAt string
}

func (s AccruedSnapshot) rows() []row {
	generated := s.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	stamp := generated.UTC().Format(time.RFC3339Nano)
	out := make([]row, 0, len(s.Entries))
	for _, entry := range s.Entries {
		amount := entry.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		out = append(out, row{
			distributor: s.Distributor.String(),
			account:     entry.User.String(),
			token:       strings.ToUpper(s.RewardToken),
			amount:      amount.String(),
			block:       s.Block,
			generatedAt: stamp,
		})
	}
	return out
}

// Render encodes the snapshot and returns the payload with its SHA-256
// checksum.
func Render(format Format, s AccruedSnapshot) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return AccruedCSV(s)
	case FormatJSONL:
		return AccruedJSONL(s)
	case FormatParquet:
		return AccruedParquet(s)
	}
	return nil, "", fmt.Errorf("exports: unsupported format %q", format)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
