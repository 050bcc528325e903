// Package source locates and reads JUnit XML reports on the local
// filesystem or in S3 and merges them into one result tree.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/results"
)

// readConcurrency is the number of reports fetched in parallel.
const readConcurrency = 8

// Reader lists and reads report files in one backend.
type Reader interface {
	// List returns the report names matching location, sorted.
	List(ctx context.Context, location string) ([]string, error)

	// Read returns the content of one report returned by List.
	Read(ctx context.Context, name string) ([]byte, error)
}

// Loader resolves report locations to a result tree.
type Loader struct {
	log   logrus.FieldLogger
	local Reader
	s3    *config.S3SourceConfig

	// newS3 is replaced in tests.
	newS3 func(cfg *config.S3SourceConfig, bucket string) Reader
}

// NewLoader creates a Loader. s3cfg may be nil when no s3:// locations are
// used.
func NewLoader(log logrus.FieldLogger, s3cfg *config.S3SourceConfig) *Loader {
	return &Loader{
		log:   log.WithField("component", "source"),
		local: NewLocalReader(),
		s3:    s3cfg,
		newS3: NewS3Reader,
	}
}

type report struct {
	reader Reader
	name   string
}

// Load reads every report matched by locations and merges them in
// location order. Locations are glob patterns (with ** support) or
// s3://bucket/prefix URIs. It returns nil when nothing matches, which
// models a build without test results.
func (l *Loader) Load(ctx context.Context, locations []string) (*results.Tree, error) {
	var reports []report

	for _, loc := range locations {
		reader, pattern, err := l.readerFor(loc)
		if err != nil {
			return nil, err
		}

		names, err := reader.List(ctx, pattern)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", loc, err)
		}

		if len(names) == 0 {
			l.log.WithField("location", loc).Warn("No reports matched")

			continue
		}

		for _, name := range names {
			reports = append(reports, report{reader: reader, name: name})
		}
	}

	if len(reports) == 0 {
		return nil, nil
	}

	trees := make([]*results.Tree, len(reports))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)

	for i, r := range reports {
		g.Go(func() error {
			data, err := r.reader.Read(gCtx, r.name)
			if err != nil {
				return fmt.Errorf("reading %s: %w", r.name, err)
			}

			tree, err := results.ParseJUnit(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", r.name, err)
			}

			trees[i] = tree

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &results.Tree{}
	for _, t := range trees {
		merged.Merge(t)
	}

	l.log.WithFields(logrus.Fields{
		"reports": len(reports),
		"classes": merged.ClassCount(),
		"cases":   merged.CaseCount(),
	}).Info("Loaded test reports")

	return merged, nil
}

func (l *Loader) readerFor(location string) (Reader, string, error) {
	if !strings.HasPrefix(location, "s3://") {
		return l.local, location, nil
	}

	bucket, prefix, err := ParseS3URI(location)
	if err != nil {
		return nil, "", err
	}

	cfg := l.s3
	if cfg == nil {
		cfg = &config.S3SourceConfig{}
	}

	return l.newS3(cfg, bucket), prefix, nil
}
