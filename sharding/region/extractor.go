package region

import (
	"hash/fnv"
	"strconv"

	"github.com/vx-labs/cluster-sharding/sharding"
)

// EntityMessage is implemented by messages addressed to an entity.
type EntityMessage interface {
	EntityID() string
}

// Extractor maps messages to entities, and entities to shards.
type Extractor interface {
	EntityID(msg interface{}) (string, bool)
	ShardID(entityID string) string
}

// HashExtractor spreads entities over a fixed number of shards.
type HashExtractor struct {
	NumberOfShards uint32
}

func (h HashExtractor) EntityID(msg interface{}) (string, bool) {
	switch m := msg.(type) {
	case sharding.StartEntity:
		return m.EntityID, true
	case EntityMessage:
		return m.EntityID(), true
	}
	return "", false
}

func (h HashExtractor) ShardID(entityID string) string {
	hash := fnv.New32a()
	hash.Write([]byte(entityID))
	return strconv.FormatUint(uint64(hash.Sum32()%h.NumberOfShards), 10)
}
