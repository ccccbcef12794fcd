package crosswalk

import (
	"sync"

	"github.com/mskcc/oncotree-api/oncotree"
)

// Cache holds the concepts of every known oncotree code. The whole map is
// swapped on refresh; readers never see a partial update.
type Cache struct {
	sync.RWMutex
	concepts map[string]Concept
}

func NewCache() *Cache {
	return &Cache{concepts: map[string]Concept{}}
}

func (c *Cache) Lookup(code string) (oncotree.CrossReferences, bool) {
	c.RLock()
	concept, ok := c.concepts[code]
	c.RUnlock()
	if !ok {
		return oncotree.CrossReferences{}, false
	}
	return concept.References(), true
}

func (c *Cache) Replace(concepts map[string]Concept) {
	if concepts == nil {
		concepts = map[string]Concept{}
	}
	c.Lock()
	c.concepts = concepts
	c.Unlock()
}

func (c *Cache) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.concepts)
}
