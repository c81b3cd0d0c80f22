package receipts

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	bolt "go.etcd.io/bbolt"

	"microescrow/core/types"
	"microescrow/crypto"
	"microescrow/host"
)

var (
	bucketReceipts = []byte("receipts")
	bucketHeights  = []byte("heights")

	// ErrNotFound is returned when no receipt matches the lookup.
	ErrNotFound = errors.New("receipt not found")
)

// Record is the stored and served form of a host receipt.
type Record struct {
	InvocationID string         `json:"invocationId"`
	Contract     string         `json:"contract"`
	Method       string         `json:"method"`
	Height       uint64         `json:"height"`
	Root         string         `json:"root"`
	Result       hexutil.Bytes  `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Events       []*types.Event `json:"events,omitempty"`
	Time         time.Time      `json:"time"`
}

// Success reports whether the invocation committed its effects.
func (r *Record) Success() bool {
	return r.Error == ""
}

// FromReceipt converts a host receipt into its stored form.
func FromReceipt(receipt *host.Receipt) *Record {
	rec := &Record{
		InvocationID: receipt.InvocationID,
		Contract:     crypto.FormatContract(receipt.Contract),
		Method:       receipt.Method,
		Height:       receipt.Height,
		Root:         receipt.Root.Hex(),
		Error:        receipt.Error,
		Time:         time.Unix(receipt.Time, 0).UTC(),
	}
	if len(receipt.Result) > 0 {
		rec.Result = append(hexutil.Bytes(nil), receipt.Result...)
	}
	for _, evt := range receipt.Events {
		rec.Events = append(rec.Events, evt.Clone())
	}
	return rec
}

// Store persists receipts in a Bolt database keyed by invocation id with a
// secondary index by height.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the Bolt-backed receipt store.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketReceipts, bucketHeights} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record implements host.ReceiptRecorder.
func (s *Store) Record(receipt *host.Receipt) error {
	if receipt == nil {
		return errors.New("receipts: nil receipt")
	}
	if receipt.InvocationID == "" {
		return errors.New("receipts: missing invocation id")
	}
	encoded, err := json.Marshal(FromReceipt(receipt))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketReceipts).Put([]byte(receipt.InvocationID), encoded); err != nil {
			return err
		}
		return tx.Bucket(bucketHeights).Put(heightKey(receipt.Height), []byte(receipt.InvocationID))
	})
}

// Get returns the receipt for an invocation id.
func (s *Store) Get(invocationID string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketReceipts).Get([]byte(invocationID))
		if raw == nil {
			return ErrNotFound
		}
		rec = new(Record)
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ByHeight returns the receipt committed at height.
func (s *Store) ByHeight(height uint64) (*Record, error) {
	var id []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeights).Get(heightKey(height))
		if raw == nil {
			return ErrNotFound
		}
		id = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(string(id))
	if err != nil {
		return nil, fmt.Errorf("receipts: height %d index is dangling: %w", height, err)
	}
	return rec, nil
}

// Latest returns up to limit receipts, newest first.
func (s *Store) Latest(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	out := make([]*Record, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		c := tx.Bucket(bucketHeights).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			raw := receipts.Get(v)
			if raw == nil {
				continue
			}
			rec := new(Record)
			if err := json.Unmarshal(raw, rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func heightKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}
