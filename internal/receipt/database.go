package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucketName = "receipts"
	itemBucketName    = "items"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt together with its items
	SaveReceipt(receipt *Receipt, items []*Item) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// ListItems returns all items, grouped by receipt in extraction order
	ListItems() ([]*Item, error)

	// ListReceiptItems returns the items of one receipt in extraction order
	ListReceiptItems(receiptID string) ([]*Item, error)

	// DeleteReceipt removes a receipt and its items
	DeleteReceipt(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, itemBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// itemPrefix groups a receipt's item keys; bbolt keeps keys sorted, so a
// cursor seek on it yields the items in position order
func itemPrefix(receiptID string) []byte {
	return []byte(receiptID + "/")
}

func itemKey(item *Item) []byte {
	return []byte(fmt.Sprintf("%s/%06d", item.ReceiptID, item.Position))
}

// SaveReceipt saves a receipt and its items in a single transaction
func (b *BoltDB) SaveReceipt(receipt *Receipt, items []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(receiptBucketName)).Put([]byte(receipt.ID), data); err != nil {
			return fmt.Errorf("storing receipt: %w", err)
		}

		bucket := tx.Bucket([]byte(itemBucketName))
		if err := deletePrefix(bucket, itemPrefix(receipt.ID)); err != nil {
			return fmt.Errorf("replacing items: %w", err)
		}
		for _, item := range items {
			if item.ReceiptID != receipt.ID {
				return fmt.Errorf("item %s belongs to receipt %q, not %q", item.ID, item.ReceiptID, receipt.ID)
			}
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("marshaling item: %w", err)
			}
			if err := bucket.Put(itemKey(item), data); err != nil {
				return fmt.Errorf("storing item: %w", err)
			}
		}
		return nil
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// ListItems returns every stored item
func (b *BoltDB) ListItems() ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemBucketName)).ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListReceiptItems returns the items stored for one receipt
func (b *BoltDB) ListReceiptItems(receiptID string) ([]*Item, error) {
	items := make([]*Item, 0)
	prefix := itemPrefix(receiptID)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(itemBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteReceipt removes a receipt and its items
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(receiptBucketName)).Delete([]byte(id)); err != nil {
			return err
		}
		return deletePrefix(tx.Bucket([]byte(itemBucketName)), itemPrefix(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func deletePrefix(bucket *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
