package main

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeImage(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if strings.HasSuffix(path, ".jpg") {
		err = jpeg.Encode(f, img, nil)
	} else {
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func options(dir string) validateOptions {
	return validateOptions{
		dir:      dir,
		logo:     "signlang.png",
		glyphExt: ".jpg",
		exts:     []string{".gif", ".png"},
		width:    47,
		height:   32,
	}
}

func TestValidateReportsProblems(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "signlang.png"))
	writeImage(t, filepath.Join(dir, "A.jpg"))
	writeImage(t, filepath.Join(dir, "thank you.png"))
	writeImage(t, filepath.Join(dir, "Thank-You.png"))
	if err := os.WriteFile(filepath.Join(dir, "broken.gif"), []byte("GIF89a nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	err := runValidate(&out, options(dir))
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid media, got %v", err)
	}
	report := out.String()
	for _, want := range []string{`collision: "thankyou"`, `phrase "broken"`, "glyph B"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	if strings.Contains(report, "glyph A") {
		t.Fatalf("glyph A exists and should not be reported:\n%s", report)
	}
}

func TestValidateLenientAboutMissingGlyphs(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "signlang.png"))
	writeImage(t, filepath.Join(dir, "hello.png"))

	var out bytes.Buffer
	if err := runValidate(&out, options(dir)); err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out.String())
	}

	opts := options(dir)
	opts.strict = true
	if err := runValidate(&out, opts); !errors.Is(err, errInvalid) {
		t.Fatalf("expected strict mode to fail on missing glyphs, got %v", err)
	}
}

func TestValidateMissingDirectory(t *testing.T) {
	var out bytes.Buffer
	if err := runValidate(&out, options(filepath.Join(t.TempDir(), "missing"))); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestValidateReportIsSorted(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "signlang.png"))
	for _, name := range []string{"zebra.gif", "apple.gif", "mango.gif"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("GIF89a nope"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var first, second bytes.Buffer
	_ = runValidate(&first, options(dir))
	_ = runValidate(&second, options(dir))
	if first.String() != second.String() {
		t.Fatalf("report changed between runs:\n%s\n---\n%s", first.String(), second.String())
	}
	report := first.String()
	a, m, z := strings.Index(report, `phrase "apple"`), strings.Index(report, `phrase "mango"`), strings.Index(report, `phrase "zebra"`)
	if a < 0 || !(a < m && m < z) {
		t.Fatalf("expected phrases in key order:\n%s", report)
	}
}
