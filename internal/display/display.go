// Package display owns the foreground execution context. Every display
// mutation and every display timer runs on a single Loop goroutine.
package display

import "image"

// Renderer draws onto the viewport. Implementations are called only from
// the foreground loop and must not block.
type Renderer interface {
	ShowFrame(img image.Image)
	ShowText(text string)
}
