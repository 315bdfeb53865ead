package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

func TestRegistryInsert(t *testing.T) {
	t.Parallel()

	t.Run("defaults to pending", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		require.NoError(t, r.Insert(Record{ID: "a", FileName: "a.png"}))

		rec, err := r.Get("a")
		require.NoError(t, err)
		assert.Equal(t, protocol.KindPending, rec.Status.Kind)
		assert.False(t, rec.CreatedAt.IsZero(), "CreatedAt should be set")
		assert.Equal(t, "a.png", rec.FileName)
	})

	t.Run("keeps explicit creation time", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

		require.NoError(t, r.Insert(Record{ID: "a", CreatedAt: created}))

		rec, err := r.Get("a")
		require.NoError(t, err)
		assert.Equal(t, created, rec.CreatedAt)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		require.NoError(t, r.Insert(Record{ID: "a"}))
		err := r.Insert(Record{ID: "a"})

		assert.ErrorIs(t, err, ErrDuplicateTask)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("rejects empty id", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		assert.Error(t, r.Insert(Record{}))
		assert.Equal(t, 0, r.Len())
	})
}

func TestRegistryUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		steps   []protocol.Status
		wantErr error
		want    protocol.Kind
	}{
		{
			name:  "pending to in progress",
			steps: []protocol.Status{protocol.InProgress(nil)},
			want:  protocol.KindInProgress,
		},
		{
			name:  "pending straight to success",
			steps: []protocol.Status{protocol.Success("hello")},
			want:  protocol.KindSuccess,
		},
		{
			name:  "in progress to failure",
			steps: []protocol.Status{protocol.InProgress(nil), protocol.Failure("no code found")},
			want:  protocol.KindFailure,
		},
		{
			name:    "terminal is final",
			steps:   []protocol.Status{protocol.Success("hello"), protocol.Failure("late")},
			wantErr: ErrTerminalStatus,
			want:    protocol.KindSuccess,
		},
		{
			name:    "no second in progress",
			steps:   []protocol.Status{protocol.InProgress(nil), protocol.InProgress([]byte{1})},
			wantErr: ErrInvalidTransition,
			want:    protocol.KindInProgress,
		},
		{
			name:    "no move back to pending",
			steps:   []protocol.Status{protocol.Pending()},
			wantErr: ErrInvalidTransition,
			want:    protocol.KindPending,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewRegistry()
			require.NoError(t, r.Insert(Record{ID: "a"}))

			var err error
			for _, s := range tc.steps {
				err = r.Update("a", s)
			}

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}

			rec, getErr := r.Get("a")
			require.NoError(t, getErr)
			assert.Equal(t, tc.want, rec.Status.Kind)
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		err := r.Update("missing", protocol.Success("x"))

		assert.ErrorIs(t, err, ErrTaskNotFound)
		assert.Equal(t, 0, r.Len())
	})
}

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRegistrySnapshotKeepsSubmissionOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	for _, id := range []protocol.CorrelationID{"A", "B", "C"} {
		require.NoError(t, r.Insert(Record{ID: id}))
	}

	// Replies land in a different order than submissions.
	require.NoError(t, r.Update("C", protocol.Success("c")))
	require.NoError(t, r.Update("A", protocol.Failure("a")))
	require.NoError(t, r.Update("B", protocol.Success("b")))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, protocol.CorrelationID("A"), snap[0].ID)
	assert.Equal(t, protocol.CorrelationID("B"), snap[1].ID)
	assert.Equal(t, protocol.CorrelationID("C"), snap[2].ID)
	assert.Equal(t, protocol.Failure("a"), snap[0].Status)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	data := []byte{1, 2, 3}

	require.NoError(t, r.Insert(Record{ID: "a"}))
	require.NoError(t, r.Update("a", protocol.InProgress(data)))

	snap := r.Snapshot()
	snap[0].Status.Data[0] = 9
	snap[0].FileName = "changed"
	data[1] = 9

	rec, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, rec.Status.Data)
	assert.Empty(t, rec.FileName)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := protocol.CorrelationID(fmt.Sprintf("task-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Insert(Record{ID: id}); err != nil {
				t.Errorf("insert %s: %v", id, err)
				return
			}
			if err := r.Update(id, protocol.InProgress(nil)); err != nil {
				t.Errorf("update %s: %v", id, err)
				return
			}
			_ = r.Snapshot()
			if err := r.Update(id, protocol.Success(string(id))); err != nil {
				t.Errorf("finish %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	require.Len(t, snap, n)
	for _, rec := range snap {
		assert.Equal(t, protocol.Success(rec.ID.String()), rec.Status)
	}
}

// Every observed sequence of statuses for one task is a prefix of
// Pending, InProgress, terminal.
func TestRegistryObservedStatusesOnlyMoveForward(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Insert(Record{ID: "a"}))

	done := make(chan struct{})
	var observed []protocol.Kind
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			rec, err := r.Get("a")
			if err != nil {
				return
			}
			if n := len(observed); n == 0 || observed[n-1] != rec.Status.Kind {
				observed = append(observed, rec.Status.Kind)
			}
			if rec.Status.IsTerminal() {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Update("a", protocol.InProgress(nil)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Update("a", protocol.Success("done")))
	<-done

	full := []protocol.Kind{protocol.KindPending, protocol.KindInProgress, protocol.KindSuccess}
	rank := map[protocol.Kind]int{}
	for i, k := range full {
		rank[k] = i
	}
	for i := 1; i < len(observed); i++ {
		assert.Greater(t, rank[observed[i]], rank[observed[i-1]], "statuses went backwards: %v", observed)
	}
}
