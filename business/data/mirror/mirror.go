// Package mirror stores the relational projection of the ledger and the
// records of processed payments.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/carvexyz/carve/business/sys/database"
	"github.com/carvexyz/carve/foundation/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Set of error variables for CRUD operations.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("order already recorded")
)

// insertBatchSize bounds the rows sent per insert statement.
const insertBatchSize = 500

// State describes what the mirror knows about a ledger id.
type State int

// Set of states an id can be in.
const (
	Absent State = iota
	Live
	Tombstone
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Tombstone:
		return "tombstone"
	}
	return "absent"
}

// Store manages the set of APIs for mirror and order access.
type Store struct {
	log *zap.SugaredLogger
	db  *gorm.DB
}

// NewStore constructs a mirror store for api access.
func NewStore(log *zap.SugaredLogger, db *gorm.DB) Store {
	return Store{
		log: log,
		db:  db,
	}
}

// Migrate creates or updates the tables the store uses.
func (s Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&CarvingEntry{}, &Order{}); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	return nil
}

// =============================================================================
// Mirror

// ReplaceAll clears the mirror and inserts the entries in one transaction.
// A failure leaves the previous mirror in place.
func (s Store) ReplaceAll(ctx context.Context, entries []CarvingEntry) error {
	return database.WithTx(ctx, s.log, s.db, func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CarvingEntry{}).Error; err != nil {
			return fmt.Errorf("clearing mirror: %w", err)
		}

		if len(entries) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(entries, insertBatchSize).Error; err != nil {
			return fmt.Errorf("inserting %d rows: %w", len(entries), err)
		}

		return nil
	})
}

// QueryByID returns the mirror row for the id.
func (s Store) QueryByID(ctx context.Context, id ledger.ID) (CarvingEntry, error) {
	var entry CarvingEntry
	err := s.db.WithContext(ctx).Where("carving_id = ?", id.Hex()).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CarvingEntry{}, ErrNotFound
		}
		return CarvingEntry{}, fmt.Errorf("selecting carving %s: %w", id.Hex(), err)
	}

	return entry, nil
}

// EntryState reports whether the mirror has a live row, a tombstone, or no
// row at all for the id.
func (s Store) EntryState(ctx context.Context, id ledger.ID) (State, error) {
	entry, err := s.QueryByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Absent, nil
	case err != nil:
		return Absent, err
	case entry.Message == nil:
		return Tombstone, nil
	}

	return Live, nil
}

// QueryAll returns every mirror row ordered by id.
func (s Store) QueryAll(ctx context.Context) ([]CarvingEntry, error) {
	var entries []CarvingEntry
	if err := s.db.WithContext(ctx).Order("carving_id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("selecting carvings: %w", err)
	}

	return entries, nil
}

// Count returns the number of live rows and tombstones.
func (s Store) Count(ctx context.Context) (live int64, tombstones int64, err error) {
	db := s.db.WithContext(ctx).Model(&CarvingEntry{})

	if err := db.Where("message IS NOT NULL").Count(&live).Error; err != nil {
		return 0, 0, fmt.Errorf("counting live: %w", err)
	}

	db = s.db.WithContext(ctx).Model(&CarvingEntry{})
	if err := db.Where("message IS NULL").Count(&tombstones).Error; err != nil {
		return 0, 0, fmt.Errorf("counting tombstones: %w", err)
	}

	return live, tombstones, nil
}

// =============================================================================
// Orders

// QueryOrderByExternalIDs returns the order matching either external id.
func (s Store) QueryOrderByExternalIDs(ctx context.Context, objectID string, paymentID string) (Order, error) {
	var order Order
	err := s.db.WithContext(ctx).
		Where("external_object_id = ? OR external_payment_id = ?", objectID, paymentID).
		Order("id").
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("selecting order: %w", err)
	}

	return order, nil
}

// CreateOrder inserts the order. A unique key violation on either external
// id is reported as ErrDuplicate.
func (s Store) CreateOrder(ctx context.Context, order *Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting order: %w", err)
	}

	return nil
}

// MarkEmailSent records that the buyer was notified.
func (s Store) MarkEmailSent(ctx context.Context, orderID uint) error {
	res := s.db.WithContext(ctx).Model(&Order{}).Where("id = ?", orderID).Update("email_sent", true)
	if res.Error != nil {
		return fmt.Errorf("updating order %d: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// QueryFlagged returns the orders that need manual follow up.
func (s Store) QueryFlagged(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{StatusWriteFailed, StatusIncomplete}).
		Order("id").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("selecting flagged orders: %w", err)
	}

	return orders, nil
}

// QueryOrders returns every order in insertion order.
func (s Store) QueryOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := s.db.WithContext(ctx).Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("selecting orders: %w", err)
	}

	return orders, nil
}
