package detect

import "context"

// Code is an ISO 639-1 language code, lowercase. Empty means no detection.
type Code string

const None Code = ""

func (c Code) String() string {
	return string(c)
}

// Detector is the language detection boundary. Implementations are
// best-effort: short or ambiguous text yields None, and any backend failure
// must surface as an error the caller treats as "no match".
type Detector interface {
	Detect(ctx context.Context, text string) (Code, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, text string) (Code, error)

func (f Func) Detect(ctx context.Context, text string) (Code, error) {
	return f(ctx, text)
}
