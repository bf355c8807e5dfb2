package agentloop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/agentstate"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
)

func TestTailerReadsOnlyCompleteNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	tailer, err := NewTailer(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("line1\nline2\npartial")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines, err := tailer.ReadNewLines()
	require.NoError(t, err)
	require.Equal(t, []string{"line1", "line2"}, lines)

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\nline3\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines, err = tailer.ReadNewLines()
	require.NoError(t, err)
	require.Equal(t, []string{"partial", "line3"}, lines)
}

func TestDeliveryStateBackoffDoubles(t *testing.T) {
	ds := NewDeliveryState(3, 100*time.Millisecond)
	ds.Attempt = 1
	require.Equal(t, 100*time.Millisecond, ds.NextDelay())
	ds.Attempt = 2
	require.Equal(t, 200*time.Millisecond, ds.NextDelay())
	ds.Attempt = 3
	require.Equal(t, 400*time.Millisecond, ds.NextDelay())
	require.True(t, ds.Exhausted())
}

func TestLoopEmitsAndPersistsOnSuccess(t *testing.T) {
	var received []*batch.Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/batches/checkpoints" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
			return
		}
		var b batch.Batch
		err := json.NewDecoder(r.Body).Decode(&b)
		require.NoError(t, err)
		received = append(received, &b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"hash":"00"}`))
	}))
	defer srv.Close()

	stateDir := t.TempDir()
	store, err := agentstate.Open(stateDir)
	require.NoError(t, err)
	st, err := store.Load()
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logPath, nil, 0o644))
	tailer, err := NewTailer(logPath)
	require.NoError(t, err)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("a\nb\nc\nd\ne\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	client := NewClient(srv.URL, logger.New("error"))
	loop := New(store, client, tailer, Config{BatchSize: 5, MaxRetries: 3, RetryBase: 10 * time.Millisecond}, logger.New("error"))

	loop.Reconcile(context.Background(), st)
	require.Equal(t, uint64(1), st.Seq)

	require.NoError(t, loop.Tick(context.Background(), st))
	require.Len(t, received, 1)
	require.Equal(t, uint64(2), st.Seq)

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(2), reloaded.Seq)
}

func TestLoopAdvancesStateOnConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/batches/checkpoints" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"conflict","message":"batch already admitted"}`))
	}))
	defer srv.Close()

	stateDir := t.TempDir()
	store, err := agentstate.Open(stateDir)
	require.NoError(t, err)
	st, err := store.Load()
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logPath, nil, 0o644))
	tailer, err := NewTailer(logPath)
	require.NoError(t, err)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("a\nb\nc\nd\ne\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	client := NewClient(srv.URL, logger.New("error"))
	loop := New(store, client, tailer, Config{BatchSize: 5, MaxRetries: 3, RetryBase: 10 * time.Millisecond}, logger.New("error"))

	loop.Reconcile(context.Background(), st)
	require.NoError(t, loop.Tick(context.Background(), st))
	require.Equal(t, uint64(2), st.Seq, "a 409 from the collector should advance local state like a 2xx")

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(2), reloaded.Seq)
}

