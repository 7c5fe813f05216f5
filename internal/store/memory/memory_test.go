package memory

import (
	"testing"

	"github.com/alexbotov/slotengine/internal/store"
	"github.com/alexbotov/slotengine/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
