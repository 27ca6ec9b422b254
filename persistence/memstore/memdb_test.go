package memstore

import (
	"testing"

	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/persistence/journaltest"
)

func TestMemDBStore(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) (persistence.Journal, func()) {
		return New(), func() {}
	})
}
