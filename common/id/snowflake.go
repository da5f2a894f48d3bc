package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Each worker
// process gets its own node ID so job record and report IDs never collide
// across concurrent workers.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique, time-ordered int64 ID.
func New() int64 {
	return node.Generate().Int64()
}
