package placeholder

import (
	"fmt"
	"strings"

	"github.com/upb/image-gateway/services/providers"
)

// DefaultBaseURL serves random images of any requested size
const DefaultBaseURL = "https://picsum.photos"

// Generator synthesizes placeholder image references. It performs no I/O and
// never fails: the same inputs always produce the same URL.
type Generator struct {
	baseURL string
}

// NewGenerator creates a generator rooted at baseURL
func NewGenerator(baseURL string) *Generator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Generator{baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the image service the generator points at
func (g *Generator) BaseURL() string {
	return g.baseURL
}

// Image returns the placeholder for one index of a generation. The seed keeps
// batches from different generations apart; the index keeps images within a
// batch distinct.
func (g *Generator) Image(seed string, index, width, height int) providers.ImageReference {
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	url := fmt.Sprintf("%s/%d/%d", g.baseURL, width, height)
	if seed == "" {
		url = fmt.Sprintf("%s?random=%d", url, index)
	} else {
		url = fmt.Sprintf("%s?random=%s_%d", url, seed, index)
	}
	return providers.ImageReference{URL: url}
}

// Batch returns count placeholders in index order
func (g *Generator) Batch(seed string, count, width, height int) []providers.ImageReference {
	images := make([]providers.ImageReference, count)
	for i := range images {
		images[i] = g.Image(seed, i, width, height)
	}
	return images
}

var defaultGenerator = NewGenerator(DefaultBaseURL)

// Placeholder returns an unseeded placeholder from the default image service
func Placeholder(index, width, height int) providers.ImageReference {
	return defaultGenerator.Image("", index, width, height)
}
