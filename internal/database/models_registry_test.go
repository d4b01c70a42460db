package database

import (
	"testing"

	modelspkg "forge/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesChatRoom(t *testing.T) {
	found := false
	for _, model := range PersistentModels() {
		if _, ok := model.(*modelspkg.ChatRoom); ok {
			found = true
			break
		}
	}
	require.True(t, found, "PersistentModels should include ChatRoom")
}
