package shot

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/pageshot/coverage"
)

func testComposite() *Composite {
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	img.Set(1, 2, color.RGBA{R: 200, A: 255})
	return &Composite{
		ID:      "shot_0192",
		PageURL: "https://example.com",
		PageID:  "page-1",
		Seq:     3,
		Width:   4,
		Height:  6,
		Delta:   []coverage.Span{{Start: 2, End: 6}},
		Covered: []coverage.Span{{Start: 0, End: 6}},
		Image:   img,
	}
}

func TestMarshalComposite_CarriesPNG(t *testing.T) {
	c := testComposite()
	data, err := MarshalComposite(c)
	if err != nil {
		t.Fatal(err)
	}

	got, err := UnmarshalComposite(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != c.Seq || got.PageID != c.PageID {
		t.Errorf("metadata: got seq=%d page=%q", got.Seq, got.PageID)
	}
	if diff := cmp.Diff(c.Covered, got.Covered); diff != "" {
		t.Errorf("covered (-want +got):\n%s", diff)
	}

	img, err := png.Decode(bytes.NewReader(got.PNG))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds() != c.Image.Bounds() {
		t.Errorf("bounds: got %v, want %v", img.Bounds(), c.Image.Bounds())
	}
	r, _, _, _ := img.At(1, 2).RGBA()
	if r>>8 != 200 {
		t.Errorf("pixel (1,2) red: got %d, want 200", r>>8)
	}
}

func TestEncodePNG_NoImage(t *testing.T) {
	c := testComposite()
	c.Image = nil
	if _, err := EncodePNG(c); err == nil {
		t.Fatal("expected error for composite without image")
	}
}

func TestEncodePNG_SharedEncoding(t *testing.T) {
	c := testComposite()
	a, err := EncodePNG(c)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := EncodePNG(c)
	if &a[0] == &b[0] {
		t.Fatal("unshared composite reused its encoding")
	}

	c.ShareEncoding()
	first, second := *c, *c
	x, err := EncodePNG(&first)
	if err != nil {
		t.Fatal(err)
	}
	y, _ := EncodePNG(&second)
	if &x[0] != &y[0] {
		t.Error("copies of a shared composite encoded twice")
	}
	if !bytes.Equal(x, a) {
		t.Error("shared encoding differs from a direct one")
	}
}
