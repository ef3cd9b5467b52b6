// Package favorites persists the user's station list as a JSON file.
package favorites

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) List() ([]domain.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add appends fav unless a favorite with the same URL exists, and returns
// the resulting list.
func (s *Store) Add(fav domain.Favorite) ([]domain.Favorite, error) {
	fav.Name = strings.TrimSpace(fav.Name)
	fav.URL = strings.TrimSpace(fav.URL)
	if fav.Name == "" || fav.URL == "" {
		return nil, domain.NewError(domain.CodeInvalidRequest, "Missing name or url", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	favs, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, existing := range favs {
		if existing.URL == fav.URL {
			return favs, nil
		}
	}
	favs = append(favs, fav)
	if err := s.save(favs); err != nil {
		return nil, err
	}
	return favs, nil
}

// Delete removes every favorite with url. Deleting an unknown url is not an
// error.
func (s *Store) Delete(url string) ([]domain.Favorite, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, domain.NewError(domain.CodeInvalidRequest, "Missing url", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	favs, err := s.load()
	if err != nil {
		return nil, err
	}
	kept := favs[:0]
	for _, f := range favs {
		if f.URL != url {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(favs) {
		return kept, nil
	}
	if err := s.save(kept); err != nil {
		return nil, err
	}
	return kept, nil
}

// load treats a missing or unreadable file as an empty list so a corrupt
// file never locks the user out of the UI.
func (s *Store) load() ([]domain.Favorite, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Favorite{}, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.CodeInternal, "read favorites", err)
	}

	favs := []domain.Favorite{}
	if err := json.Unmarshal(data, &favs); err != nil {
		s.logger.Warn("favorites_unreadable", slog.String("path", s.path), slog.String("error", err.Error()))
		return []domain.Favorite{}, nil
	}
	return favs, nil
}

func (s *Store) save(favs []domain.Favorite) error {
	data, err := json.MarshalIndent(favs, "", "  ")
	if err != nil {
		return domain.NewError(domain.CodeInternal, "encode favorites", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".favorites-*.json")
	if err != nil {
		return domain.NewError(domain.CodeInternal, "write favorites", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.NewError(domain.CodeInternal, "write favorites", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.NewError(domain.CodeInternal, "write favorites", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return domain.NewError(domain.CodeInternal, fmt.Sprintf("replace %s", s.path), err)
	}
	return nil
}
