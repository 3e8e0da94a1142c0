package exports

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// AccruedCSV builds a CSV export of the snapshot and returns the serialised
// data alongside a SHA-256 checksum of the payload.
func AccruedCSV(s AccruedSnapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"distributor", "account", "reward_token", "accrued", "block", "generated_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, r := range s.rows() {
		record := []string{r.distributor, r.account, r.token, r.amount, strconv.FormatUint(r.block, 10), r.generatedAt}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
