// Package exports renders market accounting state into the flat formats the
// accounting pipeline ingests. Every export carries a checksum so downstream
// consumers can detect truncated transfers.
package exports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"termlend/sdk/market"
)

// PoolRow is one exported pool accounting line. Maturity is zero for the
// floating pool.
type PoolRow struct {
	Market         string
	Kind           string
	Maturity       uint64
	Borrowed       *big.Int
	Supplied       *big.Int
	BackupBorrowed *big.Int
	Earnings       *big.Int
	CapturedAt     time.Time
}

// KindFloating and KindFixed label the two pool families in exports.
const (
	KindFloating = "floating"
	KindFixed    = "fixed"
)

// PoolsCSV serialises the rows as CSV and returns the payload with a SHA-256
// checksum over it.
func PoolsCSV(rows []*PoolRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"market", "kind", "maturity", "borrowed", "supplied", "backup_borrowed", "earnings", "captured_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		record := []string{
			row.Market,
			row.Kind,
			fmt.Sprintf("%d", row.Maturity),
			amountString(row.Borrowed),
			amountString(row.Supplied),
			amountString(row.BackupBorrowed),
			amountString(row.Earnings),
			capturedAt(row).Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func amountString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func capturedAt(row *PoolRow) time.Time {
	if row.CapturedAt.IsZero() {
		return time.Now().UTC()
	}
	return row.CapturedAt.UTC()
}

// CollectRows snapshots a market's floating pool plus the requested fixed
// maturities through the RPC client.
func CollectRows(ctx context.Context, client *market.Client, marketID string, maturities []uint64) ([]*PoolRow, error) {
	now := time.Now().UTC()
	floating, err := client.GetFloatingPool(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("collect floating pool: %w", err)
	}
	rows := []*PoolRow{{
		Market:         marketID,
		Kind:           KindFloating,
		Borrowed:       parseAmount(floating.TotalBorrowed.String()),
		Supplied:       parseAmount(floating.TotalAssets.String()),
		BackupBorrowed: parseAmount(floating.BackupBorrowed.String()),
		Earnings:       parseAmount(floating.EarningsAccumulator.String()),
		CapturedAt:     now,
	}}
	for _, maturity := range maturities {
		pool, err := client.GetFixedPool(ctx, marketID, maturity)
		if err != nil {
			return nil, fmt.Errorf("collect fixed pool %d: %w", maturity, err)
		}
		rows = append(rows, &PoolRow{
			Market:         marketID,
			Kind:           KindFixed,
			Maturity:       maturity,
			Borrowed:       parseAmount(pool.Borrowed.String()),
			Supplied:       parseAmount(pool.Supplied.String()),
			BackupBorrowed: parseAmount(pool.BackupBorrowed.String()),
			Earnings:       parseAmount(pool.UnassignedEarnings.String()),
			CapturedAt:     now,
		})
	}
	return rows, nil
}

func parseAmount(value string) *big.Int {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return big.NewInt(0)
	}
	return amount
}
