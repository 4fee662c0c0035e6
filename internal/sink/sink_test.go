package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/coverage"
	"github.com/hazyhaar/pageshot/internal/dbopen"
	"github.com/hazyhaar/pageshot/shot"
)

func testComposite(pageID string, seq uint64) shot.Composite {
	img := image.NewRGBA(image.Rect(0, 0, 3, 5))
	img.SetRGBA(0, 4, color.RGBA{B: 255, A: 255})
	return shot.Composite{
		ID:        "shot_x",
		PageURL:   "https://example.com",
		PageID:    pageID,
		Seq:       seq,
		Width:     3,
		Height:    5,
		Delta:     []coverage.Span{{Start: 0, End: 5}},
		Covered:   []coverage.Span{{Start: 0, End: 5}},
		Timestamp: 1708700000000,
		Image:     img,
	}
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	var a, b int
	boom := errors.New("boom")
	r := NewRouter(nil,
		NewCallback(func(context.Context, shot.Composite) error { a++; return boom }, nil),
		NewCallback(func(context.Context, shot.Composite) error { b++; return nil }, nil),
	)

	err := r.Deliver(context.Background(), testComposite("p", 1))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if a != 1 || b != 1 {
		t.Errorf("calls: a=%d b=%d, want both 1", a, b)
	}

	var reported int
	r.Add(NewCallback(nil, func(context.Context, shot.Failure) error { reported++; return nil }))
	if err := r.Report(context.Background(), shot.Failure{PageID: "p"}); err != nil {
		t.Fatal(err)
	}
	if reported != 1 {
		t.Errorf("reported: got %d", reported)
	}
}

func TestRouter_EncodesOncePerComposite(t *testing.T) {
	var encoded [][]byte
	encode := func(_ context.Context, c shot.Composite) error {
		data, err := shot.EncodePNG(&c)
		if err != nil {
			return err
		}
		encoded = append(encoded, data)
		return nil
	}
	r := NewRouter(nil, NewCallback(encode, nil), NewCallback(encode, nil), NewCallback(encode, nil))

	if err := r.Deliver(context.Background(), testComposite("p", 1)); err != nil {
		t.Fatal(err)
	}
	if len(encoded) != 3 {
		t.Fatalf("deliveries: got %d, want 3", len(encoded))
	}
	for i, data := range encoded[1:] {
		if &data[0] != &encoded[0][0] {
			t.Errorf("sink %d encoded the composite again", i+1)
		}
	}
	if _, err := png.Decode(bytes.NewReader(encoded[0])); err != nil {
		t.Errorf("png: %v", err)
	}
}

func TestStdout_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Deliver(context.Background(), testComposite("p", 2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Report(context.Background(), shot.Failure{PageID: "p", Stage: shot.StageDecode}); err != nil {
		t.Fatal(err)
	}

	dec := json.NewDecoder(&buf)
	var first struct {
		Type string       `json:"type"`
		Data shot.Encoded `json:"data"`
	}
	if err := dec.Decode(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "composite" || first.Data.Seq != 2 {
		t.Errorf("first line: type=%q seq=%d", first.Type, first.Data.Seq)
	}
	if _, err := png.Decode(bytes.NewReader(first.Data.PNG)); err != nil {
		t.Errorf("png: %v", err)
	}

	var second struct {
		Type string       `json:"type"`
		Data shot.Failure `json:"data"`
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatal(err)
	}
	if second.Type != "failure" || second.Data.Stage != shot.StageDecode {
		t.Errorf("second line: %+v", second)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Type != "composite" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Deliver(context.Background(), testComposite("p", 1)); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestWebhook_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := wh.Report(context.Background(), shot.Failure{PageID: "p"}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestFile_WritesLatestPNG(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Deliver(context.Background(), testComposite("page-1", 1)); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "page-1.png"))
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dy() != 5 {
		t.Errorf("height: got %d", img.Bounds().Dy())
	}

	if err := f.Deliver(context.Background(), testComposite("../escape", 1)); err == nil {
		t.Error("expected traversal error")
	}
}

func TestStore_KeepsLatestPerPage(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(StoreSchema))
	st := NewStore(db)
	ctx := context.Background()

	if err := st.Deliver(ctx, testComposite("p", 1)); err != nil {
		t.Fatal(err)
	}
	c2 := testComposite("p", 2)
	c2.Covered = []coverage.Span{{Start: 0, End: 5}, {Start: 9, End: 12}}
	if err := st.Deliver(ctx, c2); err != nil {
		t.Fatal(err)
	}

	got, err := st.Latest(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != 2 || len(got.Covered) != 2 {
		t.Errorf("latest: seq=%d covered=%v", got.Seq, got.Covered)
	}
	if _, err := png.Decode(bytes.NewReader(got.PNG)); err != nil {
		t.Errorf("png: %v", err)
	}

	if err := st.Report(ctx, shot.Failure{PageID: "p", Stage: shot.StageCapture, Attempts: 2}); err != nil {
		t.Fatal(err)
	}
	n, err := st.FailureCount(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("failures: got %d, want 1", n)
	}
}
