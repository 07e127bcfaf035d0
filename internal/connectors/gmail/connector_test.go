package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"offerwatch/internal"
	"offerwatch/internal/logging"
)

type fakeGmail struct {
	mu       sync.Mutex
	messages map[string]int64
	order    []string
	queries  []string
	modified []string
}

func rawMail(subject string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(
		"From: Trader <sales@trader.example>\r\n" +
			"Subject: " + subject + "\r\n" +
			"Date: Mon, 06 Oct 2025 10:00:00 +0000\r\n" +
			"Content-Type: text/plain\r\n\r\n" +
			"HP EliteBook 840 G6, 16GB, 250 EUR\r\n"))
}

func (f *fakeGmail) add(id string, internalDate int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = internalDate
	f.order = append(f.order, id)
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/gmail/v1/users/me/"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "profile":
		_ = json.NewEncoder(w).Encode(map[string]any{"emailAddress": "offers@example.com"})
	case path == "messages":
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		refs := []map[string]string{}
		for _, id := range f.order {
			refs = append(refs, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs})
	case strings.HasSuffix(path, "/modify"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "messages/"), "/modify")
		f.modified = append(f.modified, id)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	case strings.HasPrefix(path, "messages/"):
		id := strings.TrimPrefix(path, "messages/")
		date, ok := f.messages[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		// internalDate travels as a JSON string.
		body := map[string]any{"id": id, "internalDate": strconv.FormatInt(date, 10)}
		if r.URL.Query().Get("format") == "raw" {
			body["raw"] = rawMail("offer " + id)
		}
		_ = json.NewEncoder(w).Encode(body)
	default:
		http.NotFound(w, r)
	}
}

func startSource(t *testing.T, fake *fakeGmail) *Source {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	src := NewSource(Options{}, logging.Discard(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, src.Start(context.Background()))
	return src
}

func TestFirstFetchOnlySetsWatermark(t *testing.T) {
	fake := &fakeGmail{messages: map[string]int64{}}
	fake.add("old1", 1_700_000_000_000)
	fake.add("old2", 1_700_000_500_000)
	src := startSource(t, fake)
	require.True(t, src.Ready())

	msgs, err := src.FetchNewMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, int64(1_700_000_500_000), src.Watermark())

	fake.add("new1", 1_700_000_900_000)
	msgs, err = src.FetchNewMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new1", msgs[0].SourceRef)
	assert.Equal(t, "gmail", msgs[0].Provider)
	assert.Equal(t, "offer new1", msgs[0].Subject)
	assert.Contains(t, msgs[0].Text, "EliteBook")
	assert.Equal(t, int64(1_700_000_900_000), src.Watermark())

	fake.mu.Lock()
	assert.Equal(t, DefaultQuery, fake.queries[0])
	assert.Equal(t, DefaultQuery+" after:1700000500", fake.queries[1])
	fake.mu.Unlock()
}

func TestMarkAsSeenRemovesUnread(t *testing.T) {
	fake := &fakeGmail{messages: map[string]int64{}}
	src := startSource(t, fake)

	require.NoError(t, src.MarkAsSeen(context.Background(), internal.MailMessage{SourceRef: "abc"}))
	assert.Equal(t, []string{"abc"}, fake.modified)
}

func TestNotStarted(t *testing.T) {
	src := NewSource(Options{}, logging.Discard())
	msgs, err := src.FetchNewMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Error(t, src.MarkAsSeen(context.Background(), internal.MailMessage{SourceRef: "x"}))
}

func TestDecodeBase64URL(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte("hi?"))
	got, err := decodeBase64URL(padded)
	require.NoError(t, err)
	assert.Equal(t, "hi?", string(got))

	_, err = decodeBase64URL("***")
	assert.Error(t, err)
}
