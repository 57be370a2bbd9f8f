package detector

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWatermarks     = []byte("watermarks")
	bucketAttendanceDays = []byte("attendance_days")
)

// WatermarkStore persists per (parent, category) cursors and per-day
// attendance check marks in a local bolt database. Single writer: only the
// detector loop touches it.
type WatermarkStore struct {
	db *bolt.DB
}

func OpenWatermarkStore(path string) (*WatermarkStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open watermark store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketWatermarks, bucketAttendanceDays} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create watermark buckets")
	}
	return &WatermarkStore{db: db}, nil
}

func (s *WatermarkStore) Close() error { return s.db.Close() }

// Get returns the cursor for a (parent, category) pair, or the zero time if
// none has been recorded yet.
func (s *WatermarkStore) Get(parentID, category string) (time.Time, error) {
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketWatermarks).Get(markKey(parentID, category))
		if len(raw) == 8 {
			at = time.UnixMilli(int64(binary.BigEndian.Uint64(raw))).UTC()
		}
		return nil
	})
	return at, err
}

// Advance moves the cursor forward. A value at or behind the stored cursor
// is ignored, keeping the watermark monotonically non-decreasing.
func (s *WatermarkStore) Advance(parentID, category string, to time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWatermarks)
		key := markKey(parentID, category)
		if raw := b.Get(key); len(raw) == 8 {
			if int64(binary.BigEndian.Uint64(raw)) >= to.UnixMilli() {
				return nil
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(to.UnixMilli()))
		return b.Put(key, buf[:])
	})
}

// DayChecked reports whether attendance was already checked for the child
// on the given day (YYYY-MM-DD).
func (s *WatermarkStore) DayChecked(parentID, childID, day string) (bool, error) {
	var checked bool
	err := s.db.View(func(tx *bolt.Tx) error {
		checked = tx.Bucket(bucketAttendanceDays).Get(dayKey(parentID, childID, day)) != nil
		return nil
	})
	return checked, err
}

func (s *WatermarkStore) MarkDayChecked(parentID, childID, day string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttendanceDays).Put(dayKey(parentID, childID, day), []byte{1})
	})
}

func markKey(parentID, category string) []byte {
	return []byte(parentID + "|" + category)
}

func dayKey(parentID, childID, day string) []byte {
	return []byte(parentID + "|" + childID + "|" + day)
}
