package memory_test

import (
	"testing"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/store/memory"
	"github.com/warp/inventory-engine/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) inventory.Store {
		return memory.New()
	})
}
