// Package embedder defines the text embedding port used by the service
// layer. The store itself never embeds; vectors are produced here and
// handed to the store fully formed.
package embedder

import "context"

// Provider converts text into embedding vectors.
//
// Vectors are 32-bit floats to match how embedding APIs return them and
// how the store persists them; similarity math upcasts to float64.
type Provider interface {
	// Embed converts a single text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vectors, order preserved.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}
