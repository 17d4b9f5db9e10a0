package memory_test

import (
	"testing"

	"foodrescue/internal/adapters/memory"
	"foodrescue/internal/adapters/storetest"
	"foodrescue/internal/ports"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.InventoryStore { return memory.NewStore() })
}
