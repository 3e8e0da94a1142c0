package exports

import (
	"bytes"
	"encoding/json"
)

type jsonlRecord struct {
	Distributor string `json:"distributor"`
	Account     string `json:"account"`
	RewardToken string `json:"reward_token"`
	Accrued     string `json:"accrued"`
	Block       uint64 `json:"block"`
	GeneratedAt string `json:"generated_at"`
}

// AccruedJSONL builds a JSON Lines export of the snapshot and returns the
// serialised payload alongside a checksum.
func AccruedJSONL(s AccruedSnapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, r := range s.rows() {
		if err := encoder.Encode(jsonlRecord{
			Distributor: r.distributor,
			Account:     r.account,
			RewardToken: r.token,
			Accrued:     r.amount,
			Block:       r.block,
			GeneratedAt: r.generatedAt,
		}); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
