// Package export dumps the credit transaction log to parquet for
// offline analytics.
package export

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/pixelforge-studio/pixelforge/internal/ledger"
)

// TransactionRecord is the parquet row schema for one ledger entry.
type TransactionRecord struct {
	ID          string `parquet:"id"`
	UserID      string `parquet:"user_id"`
	Amount      int64  `parquet:"amount"`
	Type        string `parquet:"type"`
	Description string `parquet:"description"`
	CreatedAt   string `parquet:"created_at"`
}

// WriteTransactions writes the ledger entries to a parquet file at path.
func WriteTransactions(path string, txs []ledger.Transaction) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[TransactionRecord](file)

	records := make([]TransactionRecord, len(txs))
	for i, tx := range txs {
		records[i] = TransactionRecord{
			ID:          tx.ID,
			UserID:      tx.UserID,
			Amount:      tx.Amount,
			Type:        tx.Type,
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		}
	}

	written := 0
	if len(records) > 0 {
		written, err = writer.Write(records)
		if err != nil {
			return written, fmt.Errorf("writing parquet rows: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("closing parquet writer: %w", err)
	}
	return written, nil
}
