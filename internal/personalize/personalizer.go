package personalize

import "context"

// Input carries the recipient attributes a personalizer may draw on when
// rewriting campaign copy.
type Input struct {
	HTML    string
	Name    string
	Company string
	Prompt  string
}

// Personalizer rewrites campaign HTML for one recipient. Implementations must
// return usable HTML or an error; the message builder falls back to the
// original copy when personalization fails.
type Personalizer interface {
	Personalize(ctx context.Context, in Input) (string, error)
}

// Noop returns the copy unchanged. Used when a campaign has personalization
// disabled or no personalizer is configured.
type Noop struct{}

func (Noop) Personalize(_ context.Context, in Input) (string, error) {
	return in.HTML, nil
}
