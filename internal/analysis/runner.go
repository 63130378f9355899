package analysis

import (
	"context"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// Run processes every folder below root that contains WAV files, or root
// alone when analysis.recursive is off. A folder error is logged and the run
// moves on; cancellation ends the loop.
func (p *Processor) Run(ctx context.Context, root string) ([]*FolderResult, error) {
	folders, err := FindFolders(root, p.settings.Analysis.Recursive)
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, ErrNoWAVFiles
	}
	p.log.Info("folders to process", logger.Int("folders", len(folders)))

	results := make([]*FolderResult, 0, len(folders))
	for i, folder := range folders {
		if ctx.Err() != nil {
			return results, canceledError(folder)
		}
		p.log.Info("starting folder",
			logger.Int("index", i+1),
			logger.Int("folders", len(folders)),
			logger.String("folder", folder))

		res, err := p.ProcessFolder(ctx, folder, root)
		results = append(results, res)
		switch {
		case err == nil:
		case errors.Is(err, ErrAnalysisCanceled):
			return results, err
		case errors.Is(err, ErrFolderLocked):
			p.log.Warn("folder is being processed by another run, skipping",
				logger.String("folder", folder))
		default:
			p.log.Error("folder failed, continuing with next folder",
				logger.String("folder", folder),
				logger.Error(err))
		}
	}
	return results, nil
}
