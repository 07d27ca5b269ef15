package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduparlema/llmproxy-chatbot/internal/llm"
)

func newTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "knowledge.db")
	}
	s, err := NewSQLiteStore(path, SQLiteOptions{TopK: 3, Strategy: StrategySmart})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRetrieve(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	for _, text := range []string{
		"F-1 students may apply for **OPT** up to 90 days before the program end date.",
		"The International Center is located in Dowling Hall.",
		"J-1 scholars must report address changes within 10 days.",
	} {
		if err := s.Store(ctx, text); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	docs, err := s.Retrieve(ctx, "When can I apply for OPT?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("expected at least one document")
	}
	if !strings.Contains(docs[0].Summary, "OPT up to 90 days") {
		t.Errorf("top document = %q", docs[0].Summary)
	}
	if strings.Contains(docs[0].Summary, "**") {
		t.Error("summary should be stored as plain text")
	}

	none, err := s.Retrieve(ctx, "zebra")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unrelated query returned %d documents", len(none))
	}
}

func TestSQLiteStoreDeduplicates(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Store(ctx, "Visa interviews require form DS-160."); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
	docs, _ := s.Retrieve(ctx, "DS-160")
	if len(docs) != 1 || len(docs[0].Chunks) != 1 {
		t.Errorf("docs = %+v", docs)
	}
}

func TestSQLiteStoreReloadsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.db")
	first, err := NewSQLiteStore(path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := first.Store(context.Background(), "Health insurance waivers are due September 15."); err != nil {
		t.Fatalf("Store: %v", err)
	}
	first.Close()

	second := newTestStore(t, path)
	docs, err := second.Retrieve(context.Background(), "insurance waiver")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected reloaded document, got %d", len(docs))
	}
}

func TestSQLiteStoreThreshold(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "k.db"), SQLiteOptions{Threshold: 1e9})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	s.Store(context.Background(), "CPT requires a job offer.")
	docs, err := s.Retrieve(context.Background(), "CPT")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("threshold should filter all hits, got %d", len(docs))
	}
}

func TestSQLiteStoreConcurrentWrites(t *testing.T) {
	s := newTestStore(t, "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Store(context.Background(), "Orientation starts the last week of August."); err != nil {
				t.Errorf("Store: %v", err)
			}
		}()
	}
	wg.Wait()
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

func TestSplit(t *testing.T) {
	if got := Split("   ", StrategySmart); got != nil {
		t.Errorf("Split(blank) = %v", got)
	}

	smart := Split("First paragraph.\n\nSecond paragraph.", StrategySmart)
	if len(smart) != 1 || !strings.Contains(smart[0], "Second") {
		t.Errorf("short paragraphs should merge: %q", smart)
	}

	long := strings.Repeat("word ", 300)
	for _, c := range Split(long, StrategyFixed) {
		if len(c) > fixedChunkSize {
			t.Errorf("fixed chunk of %d bytes exceeds %d", len(c), fixedChunkSize)
		}
	}
	if n := len(Split(long, StrategySmart)); n != 2 {
		t.Errorf("smart split of 1500 bytes = %d chunks, want 2", n)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "**Bold** and _em_", want: "Bold and em"},
		{in: "See [the center](https://tufts.edu).", want: "See the center."},
		{in: "- one\n- two", want: "one\ntwo"},
		{in: "# Title\n\nBody text.", want: "Title\n\nBody text."},
		{in: "plain", want: "plain"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDocumentText(t *testing.T) {
	d := Document{Summary: "OPT", Chunks: []string{"OPT lasts 12 months."}}
	if got := d.Text(); got != "OPT lasts 12 months." {
		t.Errorf("Text() = %q", got)
	}
	d = Document{Summary: "Summary only"}
	if got := d.Text(); got != "Summary only" {
		t.Errorf("Text() = %q", got)
	}
}

func TestProxyStore(t *testing.T) {
	var added map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		switch req["action"] {
		case "retrieve":
			if req["session_id"] != "kb" {
				t.Errorf("session_id = %v", req["session_id"])
			}
			w.Write([]byte(`[{"doc_summary":"Dowling Hall","chunks":["The center is in Dowling Hall."]}]`))
		case "add":
			added = req
			w.Write([]byte(`{"result":"ok"}`))
		}
	}))
	defer srv.Close()

	client := llm.NewProxyClient(srv.URL, "", time.Second, nil)
	p := NewProxyStore(client, "kb", 0.5, 3, "")

	docs, err := p.Retrieve(context.Background(), "where is the center")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Chunks[0] != "The center is in Dowling Hall." {
		t.Errorf("docs = %+v", docs)
	}

	if err := p.Store(context.Background(), "**Office hours** are 9-5."); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if added["text"] != "Office hours are 9-5." || added["strategy"] != StrategySmart {
		t.Errorf("add request = %v", added)
	}
}

func TestNone(t *testing.T) {
	var s Store = None{}
	docs, err := s.Retrieve(context.Background(), "q")
	if err != nil || docs != nil {
		t.Errorf("Retrieve() = %v, %v", docs, err)
	}
	if err := s.Store(context.Background(), "x"); err != nil {
		t.Errorf("Store() = %v", err)
	}
}
