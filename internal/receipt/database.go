package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket    = "receipts"
	correctionsBucket = "corrections"
	jobsBucket        = "jobs"
)

// ReceiptMutator edits a stored receipt inside a write transaction. A
// non-nil Correction is stored in the same transaction.
type ReceiptMutator func(r *Receipt) (*Correction, error)

// JobMutator edits a stored job inside a write transaction.
type JobMutator func(j *Job) error

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// UpdateReceipt applies fn to a stored receipt and saves the result
	// together with any correction fn returns.
	UpdateReceipt(id string, fn ReceiptMutator) (*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// ListCorrections returns all corrections, oldest first
	ListCorrections() ([]*Correction, error)

	// CountCorrections returns the number of stored corrections
	CountCorrections() (int, error)

	SaveJob(job *Job) error
	GetJob(id string) (*Job, error)
	// ListJobs returns all jobs, newest first
	ListJobs() ([]*Job, error)
	UpdateJob(id string, fn JobMutator) (*Job, error)

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

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptsBucket, correctionsBucket, jobsBucket} {
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

func put(tx *bbolt.Tx, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

func get(tx *bbolt.Tx, bucket, key string, v any) error {
	data := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %s: %w", bucket, key, ErrNotFound)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", bucket, err)
	}
	return nil
}

func list[T any](b *BoltDB, bucket string) ([]*T, error) {
	out := make([]*T, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			item := new(T)
			if err := json.Unmarshal(v, item); err != nil {
				return fmt.Errorf("unmarshaling %s: %w", bucket, err)
			}
			out = append(out, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, receiptsBucket, receipt.ID, receipt)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, receiptsBucket, id, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns all receipts in key order
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	return list[Receipt](b, receiptsBucket)
}

// UpdateReceipt runs fn against the stored receipt in one write transaction
func (b *BoltDB) UpdateReceipt(id string, fn ReceiptMutator) (*Receipt, error) {
	var receipt Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := get(tx, receiptsBucket, id, &receipt); err != nil {
			return err
		}
		correction, err := fn(&receipt)
		if err != nil {
			return err
		}
		if err := put(tx, receiptsBucket, id, &receipt); err != nil {
			return err
		}
		if correction != nil {
			return put(tx, correctionsBucket, correction.ID, correction)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// ListCorrections returns all corrections, oldest first
func (b *BoltDB) ListCorrections() ([]*Correction, error) {
	corrections, err := list[Correction](b, correctionsBucket)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(corrections, func(i, j int) bool {
		return corrections[i].CorrectedAt.Before(corrections[j].CorrectedAt)
	})
	return corrections, nil
}

// CountCorrections returns the number of stored corrections
func (b *BoltDB) CountCorrections() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(correctionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// SaveJob saves a job to the database
func (b *BoltDB) SaveJob(job *Job) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, jobsBucket, job.ID, job)
	})
}

// GetJob retrieves a job by ID
func (b *BoltDB) GetJob(id string) (*Job, error) {
	var job Job
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, jobsBucket, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs, newest first
func (b *BoltDB) ListJobs() ([]*Job, error) {
	jobs, err := list[Job](b, jobsBucket)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// UpdateJob runs fn against the stored job in one write transaction
func (b *BoltDB) UpdateJob(id string, fn JobMutator) (*Job, error) {
	var job Job
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := get(tx, jobsBucket, id, &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		return put(tx, jobsBucket, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
