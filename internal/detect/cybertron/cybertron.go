package cybertron

import (
	"context"
	"strings"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textclassification"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/detect"
)

// Language identification via a local text-classification model whose labels
// are ISO 639-1 codes.
type Backend struct {
	model     textclassification.Interface
	threshold float64
	logger    *log.Entry
}

const DefaultModel = "papluca/xlm-roberta-base-language-detection"

const minConfidence = 0.5

func New(modelsDir, modelName string, logger *log.Entry) (*Backend, error) {
	// cybertron logs through zerolog, keep it quiet unless we are debugging
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if modelName == "" {
		modelName = DefaultModel
	}

	m, err := tasks.Load[textclassification.Interface](&tasks.Config{
		ModelsDir:           modelsDir,
		ModelName:           modelName,
		DownloadPolicy:      tasks.DownloadMissing,
		ConversionPolicy:    tasks.ConvertMissing,
		ConversionPrecision: tasks.F32,
	})
	if err != nil {
		return nil, errors.Wrap(err, "load language identification model")
	}

	return &Backend{
		model:     m,
		threshold: minConfidence,
		logger:    logger,
	}, nil
}

func (b *Backend) Detect(ctx context.Context, text string) (detect.Code, error) {
	if strings.TrimSpace(text) == "" {
		return detect.None, nil
	}

	result, err := b.model.Classify(ctx, text)
	if err != nil {
		return detect.None, errors.Wrap(err, "classify text")
	}

	var best string
	var bestScore float64
	for i := range result.Labels {
		if result.Scores[i] > bestScore {
			best = result.Labels[i]
			bestScore = result.Scores[i]
		}
	}
	if best == "" || bestScore < b.threshold {
		return detect.None, nil
	}

	code := detect.Code(strings.ToLower(strings.TrimSpace(best)))
	b.logger.WithField("lang", code).WithField("score", bestScore).Trace("detected language")
	return code, nil
}
