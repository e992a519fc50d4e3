package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var (
	keyLatest   = []byte("snapshot:latest")
	keyPrevious = []byte("snapshot:previous")
)

// PebbleStore 本地磁盘快照，保留最近两份
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Name() string { return "pebble" }

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Save(_ context.Context, snap *Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()

	prev, closer, err := s.db.Get(keyLatest)
	switch {
	case err == nil:
		if err := b.Set(keyPrevious, prev, nil); err != nil {
			closer.Close()
			return err
		}
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return err
	}
	if err := b.Set(keyLatest, raw, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) Load(_ context.Context) (*Snapshot, error) {
	snap, err := s.get(keyLatest)
	if err == nil || errors.Is(err, ErrNoSnapshot) {
		return snap, err
	}
	// 最新一份损坏时退回上一份
	if prev, perr := s.get(keyPrevious); perr == nil {
		return prev, nil
	}
	return nil, err
}

func (s *PebbleStore) get(key []byte) (*Snapshot, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	defer closer.Close()
	return Decode(val)
}
