package checks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inkroom/internal/database"
	"github.com/charlesng35/inkroom/internal/database/testutil"
	"github.com/charlesng35/inkroom/internal/monitoring"
	"github.com/charlesng35/inkroom/internal/storage"
	"github.com/charlesng35/inkroom/internal/whiteboard"
)

type countingHub int

func (c countingHub) ConnectionCount() int { return int(c) }

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	require.Equal(t, monitoring.StatusUp, Database(db).Run(context.Background()).Status)

	closed, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.Close(closed))
	result := Database(closed).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.NotEmpty(t, result.Details)

	require.Equal(t, monitoring.StatusDown, Database(nil).Run(context.Background()).Status)
}

func TestStorageCheck(t *testing.T) {
	store, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, monitoring.StatusUp, Storage(store).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, Storage(nil).Run(context.Background()).Status)
}

func TestRealtimeCheck(t *testing.T) {
	sessions := whiteboard.NewStore()
	sessions.Create()
	names := whiteboard.NewRegistry()
	names.SetName("conn-1", "Alice")
	names.SetName("conn-2", "Bob")

	result := Realtime(countingHub(3), sessions, names).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "3 connections, 1 sessions, 2 named", result.Details)

	names.Remove("conn-2")
	require.Equal(t, "3 connections, 1 sessions, 1 named", Realtime(countingHub(3), sessions, names).Run(context.Background()).Details)

	require.Equal(t, monitoring.StatusDegraded, Realtime(nil, sessions, names).Run(context.Background()).Status)
}
