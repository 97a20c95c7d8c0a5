package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/safein/internal/database"
	"github.com/nao1215/safein/pkg/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(context.Background(), database.MemoryDSN, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func mustEvent(t *testing.T, userID string, typ event.Type, data any, at time.Time) *event.Event {
	t.Helper()
	e, err := event.NewAt(at, "sess-1", event.AggregateTypeSession, typ, userID, data)
	require.NoError(t, err)
	return e
}

func TestStore_AppendAndListByUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, mustEvent(t, "u1", event.TypeSessionStarted, event.SessionStartedData{Email: "u1@example.com", Method: "password"}, base)))
	require.NoError(t, s.Append(ctx, mustEvent(t, "u1", event.TypeAccessRedirected, event.AccessRedirectedData{Path: "/dashboard", Action: "redirect_company_create", Target: "/company/create", Guard: "company"}, base.Add(time.Minute))))
	require.NoError(t, s.Append(ctx, mustEvent(t, "u2", event.TypeSessionStarted, event.SessionStartedData{Email: "u2@example.com"}, base)))

	got, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, event.TypeAccessRedirected, got[0].EventType, "新しい順に並ぶ")
	assert.Equal(t, event.TypeSessionStarted, got[1].EventType)
	assert.Equal(t, base.Add(time.Minute), got[0].CreatedAt)
	assert.Equal(t, event.AggregateTypeSession, got[0].AggregateType)

	data, err := event.DecodeData[event.AccessRedirectedData](got[0])
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", data.Path)
	assert.Equal(t, "company", data.Guard)

	got, err = s.ListByUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ListByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got, "JSONで空配列になるようにnilを返さない")
}

func TestStore_ListByTypeAndCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	for range 3 {
		require.NoError(t, s.Append(ctx, mustEvent(t, "u1", event.TypeCompanyCheckFailed, event.CompanyCheckFailedData{Path: "/dashboard", Error: "timeout"}, now)))
	}
	require.NoError(t, s.Append(ctx, mustEvent(t, "", event.TypeAccessRedirected, event.AccessRedirectedData{Path: "/dashboard"}, now)))

	got, err := s.ListByType(ctx, event.TypeCompanyCheckFailed, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	counts, err := s.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[event.Type]int{event.TypeCompanyCheckFailed: 3, event.TypeAccessRedirected: 1}, counts)
}

func TestStore_AppendErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	assert.Error(t, s.Append(ctx, nil))
	assert.Error(t, s.Append(ctx, &event.Event{}))

	e := mustEvent(t, "u1", event.TypeSessionEnded, event.SessionEndedData{Reason: "logout"}, time.Now())
	require.NoError(t, s.Append(ctx, e))
	assert.Error(t, s.Append(ctx, e), "同じIDのイベントは追記できない")
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLimit, clampLimit(0))
	assert.Equal(t, DefaultLimit, clampLimit(-5))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
}
