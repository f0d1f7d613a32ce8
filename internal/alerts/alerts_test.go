package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalystbot/catalystbot/internal/models"
)

type stubRenderer struct {
	dir  string
	name string
	err  error
	// relative makes Render return a path relative to dir, exercising the
	// absolute-path resolution contract.
	relative bool
}

func (s *stubRenderer) Render(_ context.Context, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	path := filepath.Join(s.dir, s.name)
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		return "", err
	}
	if s.relative {
		return s.name, nil
	}
	return path, nil
}

func classified() *models.ClassifiedItem {
	return &models.ClassifiedItem{
		Item: &models.NewsItem{
			Source:      "prwire",
			SourceID:    "rel-1",
			Title:       "ACME Receives FDA Approval",
			URL:         "https://wire.example.com/acme-fda",
			PublishedAt: time.Date(2026, 2, 3, 14, 0, 0, 0, time.UTC),
			Ticker:      "ACME",
		},
		Score:       0.55,
		Sentiment:   0.45,
		Confidence:  0.6,
		KeywordsHit: map[string]float64{"fda_approval": 0.55},
		Price:       &models.PriceSnapshot{Ticker: "ACME", Last: models.Float(4.20), ChangePct: models.Float(12.5)},
	}
}

func TestBuildDeclaresAttachments(t *testing.T) {
	dir := t.TempDir()
	charts := NewChartCache(&stubRenderer{dir: dir, name: "chart.png"}, dir, time.Minute)
	b := NewBuilder(charts, &stubRenderer{dir: dir, name: "gauge.png"}, "alerts")

	msg := b.Build(context.Background(), classified())
	require.Len(t, msg.Embeds, 1)
	require.Len(t, msg.Attachments, 2)

	assert.Equal(t, "attachment://chart.png", msg.Embeds[0].Image.URL)
	assert.Equal(t, Attachment{ID: 0, Filename: "chart.png", Description: "Chart",
		Path: filepath.Join(dir, "chart.png")}, msg.Attachments[0])
	assert.Equal(t, 1, msg.Attachments[1].ID)
	assert.Equal(t, "gauge.png", msg.Attachments[1].Filename)
	assert.True(t, filepath.IsAbs(msg.Attachments[0].Path))
	assert.NotEmpty(t, msg.IdempotencyKey)
}

func TestBuildWithoutChartStillAlerts(t *testing.T) {
	dir := t.TempDir()
	charts := NewChartCache(&stubRenderer{dir: dir, name: "x", err: os.ErrNotExist}, dir, time.Minute)
	b := NewBuilder(charts, nil, "alerts")

	msg := b.Build(context.Background(), classified())
	assert.Empty(t, msg.Attachments)
	assert.Nil(t, msg.Embeds[0].Image)
}

func TestChartCacheResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	cache := NewChartCache(&stubRenderer{dir: dir, name: "chart.png", relative: true}, dir, time.Minute)

	path, err := cache.Get(context.Background(), "ACME")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(dir, "chart.png"), path)
}

func TestChartCacheReusesFreshRender(t *testing.T) {
	dir := t.TempDir()
	r := &countingRenderer{stubRenderer: stubRenderer{dir: dir, name: "chart.png"}}
	cache := NewChartCache(r, dir, time.Minute)

	_, err := cache.Get(context.Background(), "ACME")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

type countingRenderer struct {
	stubRenderer
	calls int
}

func (c *countingRenderer) Render(ctx context.Context, ticker string) (string, error) {
	c.calls++
	return c.stubRenderer.Render(ctx, ticker)
}

type capturedRequest struct {
	payload     payload
	fileFields  []string
	fileContent map[string]string
}

func captureServer(t *testing.T, handler func(w http.ResponseWriter, n int)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var captured capturedRequest
		captured.fileContent = make(map[string]string)
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("payload_json")), &captured.payload))
		for field, headers := range r.MultipartForm.File {
			captured.fileFields = append(captured.fileFields, field)
			f, err := headers[0].Open()
			require.NoError(t, err)
			buf := make([]byte, 64)
			k, _ := f.Read(buf)
			f.Close()
			captured.fileContent[field] = string(buf[:k])
		}
		mu.Lock()
		reqs = append(reqs, captured)
		n++
		cnt := n
		mu.Unlock()
		handler(w, cnt)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func instantDispatcher(url string) *Dispatcher {
	d := NewDispatcher(url, "", 0)
	d.sleep = func(time.Duration) {}
	return d
}

func TestDispatchMultipartContract(t *testing.T) {
	srv, reqs := captureServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"123"}`))
	})

	dir := t.TempDir()
	charts := NewChartCache(&stubRenderer{dir: dir, name: "chart.png"}, dir, time.Minute)
	msg := NewBuilder(charts, nil, "alerts").Build(context.Background(), classified())

	d := instantDispatcher(srv.URL)
	d.BeginCycle(8)
	require.NoError(t, d.Send(context.Background(), msg))

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	require.Len(t, got.payload.Attachments, 1)
	assert.Equal(t, 0, got.payload.Attachments[0].ID)
	assert.Equal(t, "chart.png", got.payload.Attachments[0].Filename)
	assert.Equal(t, "Chart", got.payload.Attachments[0].Description)
	assert.Equal(t, "attachment://chart.png", got.payload.Embeds[0].Image.URL)
	assert.Contains(t, got.fileFields, "files[0]")
	assert.Equal(t, "png-bytes", got.fileContent["files[0]"])
}

func TestDispatchEmptyAttachmentsArrayPresent(t *testing.T) {
	var rawPayload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		rawPayload = r.FormValue("payload_json")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := instantDispatcher(srv.URL)
	d.BeginCycle(8)
	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}
	require.NoError(t, d.Send(context.Background(), msg))

	assert.Contains(t, rawPayload, `"attachments":[]`,
		"attachments must serialize as an array even when empty")
}

func TestDispatchRetriesOn429HonoringRetryAfter(t *testing.T) {
	srv, reqs := captureServer(t, func(w http.ResponseWriter, n int) {
		if n == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	var slept []time.Duration
	d := instantDispatcher(srv.URL)
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }
	d.BeginCycle(8)

	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}
	require.NoError(t, d.Send(context.Background(), msg))
	assert.Len(t, *reqs, 2)
	require.NotEmpty(t, slept)
	assert.Equal(t, 10*time.Millisecond, slept[0], "Retry-After header overrides the backoff")
}

func TestDispatch400IsPermanent(t *testing.T) {
	srv, reqs := captureServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid payload"}`))
	})

	d := instantDispatcher(srv.URL)
	d.BeginCycle(8)
	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}
	err := d.Send(context.Background(), msg)

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, http.StatusBadRequest, perm.Status)
	assert.Len(t, *reqs, 1, "400 must not be retried")
}

func TestDispatchFailureReturnsCapSlot(t *testing.T) {
	srv, reqs := captureServer(t, func(w http.ResponseWriter, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	d := instantDispatcher(srv.URL)
	d.BeginCycle(1)
	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}

	var perm *PermanentError
	require.ErrorAs(t, d.Send(context.Background(), msg), &perm)

	// The failed delivery must not consume the only slot.
	require.NoError(t, d.Send(context.Background(), msg))
	assert.Len(t, *reqs, 2)
}

func TestDispatchBackoffHonorsCancellation(t *testing.T) {
	srv, reqs := captureServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := instantDispatcher(srv.URL)
	d.sleep = func(time.Duration) { cancel() }
	d.BeginCycle(8)

	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}
	err := d.Send(ctx, msg)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, *reqs, 1, "no further attempts after cancellation")
}

func TestDispatchCycleCapDefers(t *testing.T) {
	srv, _ := captureServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusOK)
	})

	d := instantDispatcher(srv.URL)
	d.BeginCycle(1)
	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}
	require.NoError(t, d.Send(context.Background(), msg))

	err := d.Send(context.Background(), msg)
	assert.ErrorIs(t, err, ErrCycleCapReached)

	// Next cycle resets the budget.
	d.BeginCycle(1)
	require.NoError(t, d.Send(context.Background(), msg))
}

func TestDispatchMinIntervalSpacing(t *testing.T) {
	srv, _ := captureServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusOK)
	})

	var slept []time.Duration
	d := NewDispatcher(srv.URL, "", 1200*time.Millisecond)
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }
	base := time.Now()
	d.now = func() time.Time { return base }
	d.BeginCycle(8)

	msg := &Message{Channel: "alerts", Embeds: []Embed{{Title: "t"}}}
	require.NoError(t, d.Send(context.Background(), msg))
	require.NoError(t, d.Send(context.Background(), msg))

	require.NotEmpty(t, slept)
	assert.Equal(t, 1200*time.Millisecond, slept[0])
}
