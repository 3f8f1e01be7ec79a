package mirror

import (
	"time"
)

// Set of order states recorded on the row.
const (
	StatusCreated     = "created"
	StatusIncomplete  = "incomplete"
	StatusWriteFailed = "write_failed"
)

// CarvingEntry is the mirror row for a ledger id. A nil Message marks a
// tombstone: the id was deleted on the ledger.
type CarvingEntry struct {
	CarvingID  string  `gorm:"column:carving_id;primaryKey;size:66"`
	CarvingTxn string  `gorm:"column:carving_txn;size:66;not null;uniqueIndex"`
	To         *string `gorm:"column:carving_to;size:256"`
	From       *string `gorm:"column:carving_from;size:256"`
	Message    *string `gorm:"column:message;type:text"`
	Properties string  `gorm:"column:properties;size:64;not null"`
}

// TableName overrides the table name gorm would derive.
func (CarvingEntry) TableName() string {
	return "existing_carving"
}

// Order is the record of a processed payment. The two external ids are
// each unique so a payment can only be recorded once.
type Order struct {
	ID                   uint      `gorm:"primaryKey"`
	ExternalObjectID     string    `gorm:"column:external_object_id;size:255;not null;uniqueIndex"`
	ExternalPaymentID    string    `gorm:"column:external_payment_id;size:255;not null;uniqueIndex"`
	To                   string    `gorm:"column:carving_to;size:256"`
	From                 string    `gorm:"column:carving_from;size:256"`
	Message              string    `gorm:"column:message;type:text"`
	Properties           string    `gorm:"column:properties;size:64"`
	ProvidedEmail        string    `gorm:"column:provided_email;size:320"`
	ReceiptEmail         string    `gorm:"column:receipt_email;size:320"`
	CreatedAt            time.Time `gorm:"column:created_at;not null"`
	ReceivedAt           time.Time `gorm:"column:received_at;not null"`
	Status               string    `gorm:"column:status;size:32;not null;index"`
	FailureReason        string    `gorm:"column:failure_reason;type:text"`
	LedgerEntryID        *string   `gorm:"column:ledger_entry_id;size:66"`
	LedgerTransactionRef *string   `gorm:"column:ledger_transaction_ref;size:66"`
	LedgerLink           *string   `gorm:"column:ledger_link;size:512"`
	BlockchainExecuted   bool      `gorm:"column:blockchain_executed;not null"`
	EmailSent            bool      `gorm:"column:email_sent;not null"`
}

// TableName overrides the table name gorm would derive.
func (Order) TableName() string {
	return "orders"
}
