package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single URL", "postgres://localhost:5432/db", []string{"postgres://localhost:5432/db"}},
		{
			"URLs with whitespace and empty entries",
			" postgres://host1:5432/db , ,postgres://host2:5432/db,",
			[]string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{"only commas and whitespace", " , , ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestNewConnectionManager_UnreachablePrimary(t *testing.T) {
	cm, err := NewConnectionManager(context.Background(), ConnectionConfig{
		PrimaryURL: "postgres://127.0.0.1:1/tenancy?sslmode=disable&connect_timeout=1",
		MaxConns:   4,
		Timeout:    2 * time.Second,
	}, testLogger())
	assert.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to connect to primary")
}

func TestConnectionManager_ReplicaRoundRobin(t *testing.T) {
	primary, _ := newPingMock(t)
	r1, _ := newPingMock(t)
	r2, _ := newPingMock(t)

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{r1, r2}, testLogger())
	assert.Same(t, primary, cm.Primary())

	seen := map[*sql.DB]int{}
	for i := 0; i < 4; i++ {
		seen[cm.Replica()]++
	}
	assert.Equal(t, 2, seen[r1])
	assert.Equal(t, 2, seen[r2])
	assert.Len(t, cm.AllReplicas(), 2)
}

func TestConnectionManager_ReplicaFallsBackToPrimary(t *testing.T) {
	primary, _ := newPingMock(t)
	cm := NewConnectionManagerFromDB(primary, nil, testLogger())
	assert.Same(t, primary, cm.Replica())
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing()

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("primary down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		pm.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := NewConnectionManagerFromDB(primary, nil, testLogger())
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	healthy, hm := newPingMock(t)
	broken, bm := newPingMock(t)
	hm.ExpectPing()
	bm.ExpectPing().WillReturnError(errors.New("connection refused"))
	bm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{healthy, broken}, testLogger())
	removed := cm.RemoveUnhealthyReplicas(context.Background())

	assert.Equal(t, 1, removed)
	assert.Equal(t, []*sql.DB{healthy}, cm.AllReplicas())
}

func TestConnectionManager_Stats(t *testing.T) {
	primary, _ := newPingMock(t)
	replica, _ := newPingMock(t)
	cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())

	stats := cm.Stats()
	assert.Len(t, stats.Replicas, 1)
}

func TestConnectionManager_Close(t *testing.T) {
	primary, pm := newPingMock(t)
	replica, rm := newPingMock(t)
	pm.ExpectClose()
	rm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())
	assert.NoError(t, cm.Close())
	assert.Empty(t, cm.AllReplicas())
}

func TestConnectionManager_StartHealthCheckRoutine(t *testing.T) {
	primary, _ := newPingMock(t)
	broken, bm := newPingMock(t)
	bm.ExpectPing().WillReturnError(errors.New("gone"))
	bm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{broken}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm.StartHealthCheckRoutine(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(cm.AllReplicas()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_ConcurrentReplicaSelection(t *testing.T) {
	primary, _ := newPingMock(t)
	r1, _ := newPingMock(t)
	r2, _ := newPingMock(t)
	cm := NewConnectionManagerFromDB(primary, []*sql.DB{r1, r2}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db := cm.Replica()
			assert.True(t, db == r1 || db == r2)
		}()
	}
	wg.Wait()
}
