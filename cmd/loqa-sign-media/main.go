package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/loqalabs/loqa-sign/internal/assets"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/imaging"
)

var version = "0.1.0-dev"

func main() {
	defaults := config.Default()

	var opts validateOptions
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&opts.dir, "dir", defaults.Assets.Directory, "Path to the sign media directory")
	validateCmd.StringVar(&opts.logo, "logo", defaults.Assets.Logo, "Idle logo file name")
	validateCmd.StringVar(&opts.glyphExt, "glyph-ext", defaults.Assets.GlyphExtension, "Letter glyph extension")
	validateCmd.BoolVar(&opts.strict, "strict", false, "Treat missing glyphs and key collisions as failures")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		opts.exts = defaults.Assets.PhraseExtensions
		opts.width = defaults.Display.Width
		opts.height = defaults.Display.Height
		if err := runValidate(os.Stdout, opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("media valid")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

type validateOptions struct {
	dir      string
	logo     string
	glyphExt string
	exts     []string
	width    int
	height   int
	strict   bool
}

var errInvalid = errors.New("media directory invalid")

// runValidate decodes every phrase asset, the logo and the A-Z glyphs,
// writing one line per problem to out.
func runValidate(out io.Writer, opts validateOptions) error {
	entries, collisions, err := assets.Build(opts.dir, opts.exts)
	if err != nil {
		return err
	}
	dec := imaging.NewDecoder(opts.width, opts.height)
	failures := 0

	idx := assets.New(assets.Options{
		Directory:        opts.dir,
		PhraseExtensions: opts.exts,
		GlyphExtension:   opts.glyphExt,
		Logo:             opts.logo,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, c := range collisions {
		fmt.Fprintf(out, "collision: %q from %s replaces %s\n", c.Key, c.Kept, c.Dropped)
		if opts.strict {
			failures++
		}
	}

	for _, key := range slices.Sorted(maps.Keys(entries)) {
		anim, err := dec.Decode(string(entries[key]))
		if err != nil {
			fmt.Fprintf(out, "phrase %q: %v\n", key, err)
			failures++
			continue
		}
		if len(anim.Frames) == 0 {
			fmt.Fprintf(out, "phrase %q: no frames\n", key)
			failures++
		}
	}

	if _, err := dec.Decode(string(idx.Logo())); err != nil {
		fmt.Fprintf(out, "logo: %v\n", err)
		failures++
	}

	for letter := 'A'; letter <= 'Z'; letter++ {
		if _, err := dec.Decode(string(idx.Glyph(letter))); err != nil {
			fmt.Fprintf(out, "glyph %c: %v\n", letter, err)
			if opts.strict || !errors.Is(err, imaging.ErrAssetNotFound) {
				failures++
			}
		}
	}

	fmt.Fprintf(out, "%d phrases, %d collisions\n", len(entries), len(collisions))
	if failures > 0 {
		return fmt.Errorf("%w: %d problems", errInvalid, failures)
	}
	return nil
}
