package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// PoolsJSONL serialises the rows as JSON Lines and returns the payload with a
// SHA-256 checksum over it.
func PoolsJSONL(rows []*PoolRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		if row == nil {
			continue
		}
		payload := map[string]interface{}{
			"market":          row.Market,
			"kind":            row.Kind,
			"maturity":        row.Maturity,
			"borrowed":        amountString(row.Borrowed),
			"supplied":        amountString(row.Supplied),
			"backup_borrowed": amountString(row.BackupBorrowed),
			"earnings":        amountString(row.Earnings),
			"captured_at":     capturedAt(row).Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
