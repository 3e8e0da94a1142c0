package exports

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Amounts are kept as decimal strings; 1e18-scaled balances overflow INT64.
type parquetRow struct {
	Distributor string `parquet:"name=distributor, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Account     string `parquet:"name=account, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RewardToken string `parquet:"name=reward_token, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Accrued     string `parquet:"name=accrued, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Block       int64  `parquet:"name=block, type=INT64"`
	GeneratedAt string `parquet:"name=generated_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// AccruedParquet builds a Parquet export of the snapshot and returns the file
// bytes alongside a checksum.
func AccruedParquet(s AccruedSnapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range s.rows() {
		if err := pw.Write(parquetRow{
			Distributor: r.distributor,
			Account:     r.account,
			RewardToken: r.token,
			Accrued:     r.amount,
			Block:       int64(r.block),
			GeneratedAt: r.generatedAt,
		}); err != nil {
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet finalise: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
