package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rendau/httpc/adapters/journal"
	"github.com/rendau/httpc/adapters/logger"
)

const (
	bucketName = "journal"
	tsKeyBytes = 8
)

// St keeps entries in a bbolt file. Keys start with the big-endian
// creation time so a cursor walks them in time order.
type St struct {
	lg logger.Lite
	db *bolt.DB
}

func New(lg logger.Lite, path string) (*St, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	return &St{
		lg: logger.OrNop(lg),
		db: db,
	}, nil
}

func (s *St) Record(_ context.Context, entry journal.EntrySt) error {
	if s == nil || s.db == nil {
		return nil
	}

	entry = journal.Prepare(entry)

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("journal bucket missing")
		}
		return bucket.Put(encodeKey(entry), value)
	})
	if err != nil {
		s.lg.Errorw("journal record fail", err, "id", entry.Id)
		return err
	}

	return nil
}

// List returns entries newest first.
func (s *St) List(ctx context.Context, pars journal.ListParsSt) ([]journal.EntrySt, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	var result []journal.EntrySt

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("journal bucket missing")
		}

		var sinceKey []byte
		if pars.Since != nil {
			sinceKey = make([]byte, tsKeyBytes)
			binary.BigEndian.PutUint64(sinceKey, uint64(pars.Since.UnixNano()))
		}

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if sinceKey != nil && bytes.Compare(k[:tsKeyBytes], sinceKey) < 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			var entry journal.EntrySt
			if err := json.Unmarshal(v, &entry); err != nil {
				s.lg.Warnw("journal: skip broken entry", "key", fmt.Sprintf("%x", k), "error", err)
				continue
			}

			if !pars.Match(entry) {
				continue
			}

			result = append(result, entry)

			if pars.Limit > 0 && len(result) >= pars.Limit {
				break
			}
		}

		return nil
	})

	return result, err
}

func (s *St) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeKey(entry journal.EntrySt) []byte {
	key := make([]byte, tsKeyBytes, tsKeyBytes+len(entry.Id))
	binary.BigEndian.PutUint64(key, uint64(entry.CreatedAt.UnixNano()))
	return append(key, entry.Id...)
}
