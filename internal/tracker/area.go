package tracker

import (
	"fmt"
	"sync"

	"github.com/zulandar/amrbridge/internal/models"
	"gorm.io/gorm"
)

// areaCache memoizes area-to-node resolution for one mission. Each cache
// has its own lock so unrelated missions never contend.
type areaCache struct {
	mu    sync.Mutex
	nodes map[string]string
}

// resolve maps a step position to a physical node code. An area code
// resolves to its lowest-sort member node; anything that matches no area
// is treated as a literal node code. The result is cached, so an area
// created after a mission started does not change that mission's
// resolution mid-flight.
func (c *areaCache) resolve(db *gorm.DB, position string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes == nil {
		c.nodes = make(map[string]string)
	}
	if node, ok := c.nodes[position]; ok {
		return node, nil
	}

	var member models.AreaNode
	err := db.Where("area_code = ?", position).
		Order("sort ASC, node_code ASC").
		First(&member).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		c.nodes[position] = position
		return position, nil
	case err != nil:
		return "", fmt.Errorf("tracker: resolve area %q: %w", position, err)
	}
	c.nodes[position] = member.NodeCode
	return member.NodeCode, nil
}
