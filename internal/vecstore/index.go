package vecstore

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW index parameters for face embeddings.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	hnswMaxNeighbors = 16
)

// labelFile is the on-disk representation of a tenant's label list.
// Position i corresponds to graph node key i.
type labelFile struct {
	Dim    int
	Labels []string
}

// tenantIndex is one tenant's in-memory index state: an HNSW graph keyed
// by enrollment position and the parallel label list. The mutex enforces
// the single-writer-per-tenant discipline; searches take the read lock.
type tenantIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int]
	labels []string
	dim    int
}

// newGraph creates an empty HNSW graph with cosine distance.
func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

func newTenantIndex(dim int) *tenantIndex {
	return &tenantIndex{
		graph: newGraph(),
		dim:   dim,
	}
}

// add appends a vector and its label, returning the new total count.
func (t *tenantIndex) add(vector []float32, label string) (int, error) {
	if len(vector) != t.dim {
		return 0, fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), t.dim)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos := len(t.labels)
	t.graph.Add(hnsw.MakeNode(pos, vector))
	t.labels = append(t.labels, label)
	return len(t.labels), nil
}

// search finds the k nearest neighbors to the query vector, most similar
// first, along with a snapshot of the label list taken under the same
// lock. An empty index yields an empty result, not an error.
func (t *tenantIndex) search(query []float32, k int) ([]Neighbor, []string, error) {
	if len(query) != t.dim {
		return nil, nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), t.dim)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	labels := make([]string, len(t.labels))
	copy(labels, t.labels)

	if len(t.labels) == 0 {
		return nil, labels, nil
	}

	nodes := t.graph.Search(query, k)
	neighbors := make([]Neighbor, len(nodes))
	for i, n := range nodes {
		neighbors[i] = Neighbor{
			Index: n.Key,
			// Compute the exact cosine distance from the node's stored
			// vector; the graph's internal ordering is approximate.
			Distance: CosineDistance(query, n.Value),
		}
	}

	return neighbors, labels, nil
}

// replace swaps in a freshly built graph and label list wholesale.
func (t *tenantIndex) replace(vectors [][]float32, labels []string) error {
	if len(vectors) != len(labels) {
		return fmt.Errorf("vector count %d does not match label count %d", len(vectors), len(labels))
	}
	for i, v := range vectors {
		if len(v) != t.dim {
			return fmt.Errorf("vector %d has dimension %d, index dimension is %d", i, len(v), t.dim)
		}
	}

	g := newGraph()
	for i, v := range vectors {
		g.Add(hnsw.MakeNode(i, v))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.graph = g
	t.labels = append([]string(nil), labels...)
	return nil
}

// count returns the number of enrolled vectors.
func (t *tenantIndex) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.labels)
}

// persistLocked writes the graph and labels to indexPath and labelsPath.
// Both files are written to temporaries and renamed into place so a crash
// cannot leave one updated without the other. Caller must hold the write
// lock (or otherwise guarantee exclusive access).
func (t *tenantIndex) persistLocked(indexPath, labelsPath string) error {
	indexTmp := indexPath + ".tmp"
	labelsTmp := labelsPath + ".tmp"

	f, err := os.Create(indexTmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := t.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(indexTmp)
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(indexTmp)
		return fmt.Errorf("closing index file: %w", err)
	}

	lf, err := os.Create(labelsTmp)
	if err != nil {
		_ = os.Remove(indexTmp)
		return fmt.Errorf("failed to create labels file: %w", err)
	}
	enc := gob.NewEncoder(lf)
	if err := enc.Encode(labelFile{Dim: t.dim, Labels: t.labels}); err != nil {
		_ = lf.Close()
		_ = os.Remove(indexTmp)
		_ = os.Remove(labelsTmp)
		return fmt.Errorf("encoding labels: %w", err)
	}
	if err := lf.Close(); err != nil {
		_ = os.Remove(indexTmp)
		_ = os.Remove(labelsTmp)
		return fmt.Errorf("closing labels file: %w", err)
	}

	if err := os.Rename(indexTmp, indexPath); err != nil {
		return fmt.Errorf("replacing index file: %w", err)
	}
	if err := os.Rename(labelsTmp, labelsPath); err != nil {
		return fmt.Errorf("replacing labels file: %w", err)
	}
	return nil
}

// persist takes the write lock and writes both files atomically.
func (t *tenantIndex) persist(indexPath, labelsPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistLocked(indexPath, labelsPath)
}

// loadTenantIndex reads a previously persisted index/labels pair.
func loadTenantIndex(indexPath, labelsPath string, dim int) (*tenantIndex, error) {
	lf, err := os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer lf.Close()

	var labels labelFile
	if err := gob.NewDecoder(lf).Decode(&labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	if labels.Dim != dim {
		return nil, fmt.Errorf("labels file dimension %d does not match configured dimension %d", labels.Dim, dim)
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	g := newGraph()
	// hnsw's decoder requires an io.ByteReader, which *os.File does not provide.
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("importing HNSW graph: %w", err)
	}
	if g.Len() != len(labels.Labels) {
		return nil, fmt.Errorf("index has %d vectors but label list has %d entries", g.Len(), len(labels.Labels))
	}

	return &tenantIndex{
		graph:  g,
		labels: labels.Labels,
		dim:    dim,
	}, nil
}
