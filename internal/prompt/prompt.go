// Package prompt builds the instructions sent to the generative-language API.
package prompt

import (
	"fmt"
	"math/rand/v2"

	"github.com/myrjola/storyweaver/internal/errors"
)

// ErrNoGenres is a programming error: the genre catalogue must never be empty.
var ErrNoGenres = errors.NewSentinel("genre catalogue is empty")

// Genres is the catalogue new stories draw their theme from.
var Genres = []string{
	"sci-fi in a space colony",
	"medieval fantasy with dragons",
	"post-apocalyptic survival",
	"a mystery set in a haunted house",
	"a superhero origin story",
	"cyberpunk heist mission",
	"mythical Indian folklore",
	"a pirate treasure hunt",
	"steampunk airship adventure",
}

// BuildStartPrompt asks for the opening of a story in the given genre.
//
// seed only nudges the model towards novel output. It is not a reproducibility seed.
func BuildStartPrompt(genre string, seed int64) string {
	return fmt.Sprintf("Start a unique %s story. Add creative and unexpected twists based on this seed: %d. "+
		"Provide 2-3 distinct choices for the protagonist's next action.", genre, seed)
}

// BuildContinuationPrompt asks to continue, or conclude, the story from the chosen action.
// The choice is embedded verbatim.
func BuildContinuationPrompt(choice string) string {
	return fmt.Sprintf("The user chose: \"%s\". Continue the story from this point, leading to new developments. "+
		"Provide 2-3 distinct choices for the protagonist's next action, or conclude the story if appropriate.",
		choice)
}

// PickGenre draws a genre uniformly at random from genres using r.
func PickGenre(r *rand.Rand, genres []string) (string, error) {
	if len(genres) == 0 {
		return "", ErrNoGenres
	}
	return genres[r.IntN(len(genres))], nil
}
