// Package state holds the per-channel books and tapes. It has no locking:
// a Store must only be touched by the goroutine that owns it.
package state

import (
	"errors"

	"github.com/rudmsa/feedagg/internal/market"
)

var (
	ErrEntryExists   = errors.New("state entry already exists")
	ErrEntryNotFound = errors.New("state entry not found")
)

type Store struct {
	books map[market.Channel]*Book
	tapes map[market.Channel]*Tape
}

func NewStore() *Store {
	return &Store{
		books: make(map[market.Channel]*Book),
		tapes: make(map[market.Channel]*Tape),
	}
}

// Create adds an empty book or tape for ch depending on its kind.
func (s *Store) Create(ch market.Channel) error {
	if s.Exists(ch) {
		return ErrEntryExists
	}
	switch ch.Kind {
	case market.Book:
		s.books[ch] = NewBook()
	case market.Tape:
		s.tapes[ch] = NewTape()
	default:
		return market.ErrUnknownKind
	}
	return nil
}

func (s *Store) Exists(ch market.Channel) bool {
	switch ch.Kind {
	case market.Book:
		_, ok := s.books[ch]
		return ok
	case market.Tape:
		_, ok := s.tapes[ch]
		return ok
	}
	return false
}

// Book returns the live book for ch. Callers outside the owning goroutine
// must use BookSnapshot instead.
func (s *Store) Book(ch market.Channel) (*Book, bool) {
	b, ok := s.books[ch]
	return b, ok
}

func (s *Store) Tape(ch market.Channel) (*Tape, bool) {
	t, ok := s.tapes[ch]
	return t, ok
}

func (s *Store) BookSnapshot(ch market.Channel) (*Book, error) {
	b, ok := s.books[ch]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return b.Clone(), nil
}

func (s *Store) TapeSnapshot(ch market.Channel) ([]market.Trade, error) {
	t, ok := s.tapes[ch]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return t.Trades(), nil
}

func (s *Store) Len() int {
	return len(s.books) + len(s.tapes)
}
