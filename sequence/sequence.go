// Package sequence provides the engine's trade-ID source: a snowflake node
// issuing monotonic, collision-free identifiers.
package sequence

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Snowflake issues globally unique, roughly time-ordered string IDs. It is
// safe for concurrent use.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates an ID source for the given node. Node IDs must be
// unique across engine instances sharing an ID space.
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Snowflake{node: node}, nil
}

// NextID returns the next identifier as a decimal string.
func (s *Snowflake) NextID() string {
	return s.node.Generate().String()
}
