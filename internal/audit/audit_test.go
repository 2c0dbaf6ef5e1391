package audit

import (
	"testing"

	"github.com/cohesix/root/internal/bytesize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendThenRecentReturnsRecord(t *testing.T) {
	j, err := NewJournal(4*bytesize.KiB, "")
	require.NoError(t, err)

	j.Append(Record{IssuedAtMs: 1, Role: "queen", Subject: "hive-01", Verb: "spawn", Detail: "worker-1"})

	data := j.Recent(0, 4096)
	assert.Contains(t, string(data), `"verb":"spawn"`)
	assert.Contains(t, string(data), `"subject":"hive-01"`)
}

func TestRecentPastEndReturnsNil(t *testing.T) {
	j, err := NewJournal(4*bytesize.KiB, "")
	require.NoError(t, err)
	j.Append(Record{Verb: "spawn"})

	data := j.Recent(10_000, 64)

	assert.Nil(t, data)
}

func TestRingEvictsOldestBytesWhenFull(t *testing.T) {
	j, err := NewJournal(16, "")
	require.NoError(t, err)

	j.Append(Record{Verb: "a"})
	j.Append(Record{Verb: "b"})
	j.Append(Record{Verb: "c"})
	j.Append(Record{Verb: "d"})

	assert.True(t, j.Dropped() > 0)
	assert.True(t, len(j.Recent(0, 1024)) <= 16)
}

func TestNewJournalWithDurableExportAutoMigrates(t *testing.T) {
	j, err := NewJournal(4*bytesize.KiB, ":memory:")
	require.NoError(t, err)

	j.Append(Record{IssuedAtMs: 2, Role: "observer", Subject: "dash-1", Verb: "read", Detail: "/log/queen"})

	var count int64
	require.NoError(t, j.db.Model(&recordRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
