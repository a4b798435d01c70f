// Package vecstore implements the durable, tenant-scoped nearest-neighbor
// store: one HNSW index plus a parallel label list per tenant, persisted
// as a pair of files that are always committed together. Index position i
// and label position i refer to the same enrollment event at all times.
package vecstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNeedsReindex is returned when a tenant's on-disk state is corrupted
// (one of the pair of files is missing, or their contents disagree).
// Recovery is a full rebuild from reference images, not automatic repair.
var ErrNeedsReindex = errors.New("tenant index corrupted, reindex required")

// ErrInvalidTenant is returned when a tenant id is not a valid UUID.
var ErrInvalidTenant = errors.New("tenant id must be a valid UUID")

const (
	weightsDir = "weights"
	indexFile  = "index.hnsw"
	labelsFile = "labels.gob"
)

// Neighbor is one nearest-neighbor search hit: the enrollment position in
// the index and the exact cosine distance from the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// Store manages per-tenant vector indices under a root data directory.
// Mutations are serialized per tenant; searches run concurrently and
// always observe a consistent index/label snapshot.
type Store struct {
	dir string
	dim int
	log *zap.Logger

	mu      sync.Mutex
	tenants map[string]*tenantIndex
}

// New creates a store rooted at dir for vectors of the given dimension.
func New(dir string, dim int, log *zap.Logger) *Store {
	return &Store{
		dir:     dir,
		dim:     dim,
		log:     log,
		tenants: make(map[string]*tenantIndex),
	}
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// Dir returns the store's root data directory.
func (s *Store) Dir() string {
	return s.dir
}

// paths returns the index and labels file paths for a tenant.
func (s *Store) paths(tenantID string) (string, string) {
	base := filepath.Join(s.dir, tenantID, weightsDir)
	return filepath.Join(base, indexFile), filepath.Join(base, labelsFile)
}

// OpenOrCreate loads a tenant's index/labels pair from disk, or creates
// an empty pair and persists it immediately so that file existence is a
// reliable existence check for future calls. Exactly one of the two files
// existing means a prior crash left the pair out of sync and yields
// ErrNeedsReindex.
func (s *Store) OpenOrCreate(tenantID string) error {
	_, err := s.tenant(tenantID)
	return err
}

// tenant returns the in-memory index for a tenant, loading or creating it
// on first use.
func (s *Store) tenant(tenantID string) (*tenantIndex, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tenants[tenantID]; ok {
		return t, nil
	}

	indexPath, labelsPath := s.paths(tenantID)
	indexExists := fileExists(indexPath)
	labelsExists := fileExists(labelsPath)

	switch {
	case indexExists && labelsExists:
		t, err := loadTenantIndex(indexPath, labelsPath, s.dim)
		if err != nil {
			s.log.Error("failed to load tenant index",
				zap.String("tenant", tenantID), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrNeedsReindex, err)
		}
		s.log.Info("loaded tenant index",
			zap.String("tenant", tenantID), zap.Int("vectors", t.count()))
		s.tenants[tenantID] = t
		return t, nil

	case indexExists != labelsExists:
		s.log.Error("tenant index files out of sync",
			zap.String("tenant", tenantID),
			zap.Bool("index_file", indexExists),
			zap.Bool("labels_file", labelsExists))
		return nil, fmt.Errorf("%w: partial index/labels pair on disk", ErrNeedsReindex)

	default:
		if err := os.MkdirAll(filepath.Dir(indexPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating tenant directory: %w", err)
		}
		t := newTenantIndex(s.dim)
		if err := t.persist(indexPath, labelsPath); err != nil {
			return nil, fmt.Errorf("persisting empty tenant index: %w", err)
		}
		s.log.Info("created tenant index", zap.String("tenant", tenantID))
		s.tenants[tenantID] = t
		return t, nil
	}
}

// Add appends a vector and label to a tenant's index, returning the new
// total count. The change is in-memory only until Persist is called.
func (s *Store) Add(tenantID string, vector []float32, label string) (int, error) {
	t, err := s.tenant(tenantID)
	if err != nil {
		return 0, err
	}
	return t.add(vector, label)
}

// Search returns up to k neighbors ranked most similar first, plus the
// label list snapshot taken under the same lock so callers can resolve
// neighbor positions to identities consistently.
func (s *Store) Search(tenantID string, query []float32, k int) ([]Neighbor, []string, error) {
	t, err := s.tenant(tenantID)
	if err != nil {
		return nil, nil, err
	}
	return t.search(query, k)
}

// Persist atomically writes a tenant's index and label list to disk.
func (s *Store) Persist(tenantID string) error {
	t, err := s.tenant(tenantID)
	if err != nil {
		return err
	}
	indexPath, labelsPath := s.paths(tenantID)
	return t.persist(indexPath, labelsPath)
}

// Count returns the number of vectors enrolled for a tenant.
func (s *Store) Count(tenantID string) (int, error) {
	t, err := s.tenant(tenantID)
	if err != nil {
		return 0, err
	}
	return t.count(), nil
}

// Replace swaps a tenant's index and labels wholesale with freshly built
// content. Used by the batch reindexer; this is also the recovery path
// for a corrupted pair, so unlike the other operations it does not try to
// load existing on-disk state.
func (s *Store) Replace(tenantID string, vectors [][]float32, labels []string) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}

	s.mu.Lock()
	t, ok := s.tenants[tenantID]
	if !ok {
		t = newTenantIndex(s.dim)
		s.tenants[tenantID] = t
	}
	s.mu.Unlock()

	if err := t.replace(vectors, labels); err != nil {
		return err
	}

	indexPath, labelsPath := s.paths(tenantID)
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o750); err != nil {
		return fmt.Errorf("creating tenant directory: %w", err)
	}
	if err := t.persist(indexPath, labelsPath); err != nil {
		return fmt.Errorf("persisting rebuilt index: %w", err)
	}
	s.log.Info("replaced tenant index",
		zap.String("tenant", tenantID), zap.Int("vectors", len(labels)))
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
