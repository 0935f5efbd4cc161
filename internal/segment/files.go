package segment

import (
	"context"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"golang.org/x/sync/errgroup"
)

type File struct {
	Name string
	Data []byte
}

// FileResult holds the units of one file, or the error that stopped it.
type FileResult struct {
	Name  string
	Units []*book.Unit
	Err   error
}

// SegmentFiles segments files concurrently. A failing file does not stop
// the others; its error is reported in its own result. The returned error
// is only set when ctx ends first.
func (s *Segmenter) SegmentFiles(ctx context.Context, files []File, parallel int) ([]FileResult, error) {
	results := make([]FileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			units, err := s.Segment(f.Name, f.Data)
			results[i] = FileResult{Name: f.Name, Units: units, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
