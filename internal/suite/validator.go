package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultAttempts = 5
	defaultWorkers  = 4
)

// ErrEmptySuiteList is returned when a validation request carries no suite
// definitions at all.
var ErrEmptySuiteList = errors.New("test suite definition list cannot be empty")

// ImageNotFoundError reports a test-runner image that could not be resolved
// to a manifest digest after exhausting every attempt.
type ImageNotFoundError struct {
	Image string
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("test runner %s not found", e.Image)
}

// DigestResolver resolves an image name to its manifest digest. Absence is
// reported via the boolean; transport failures count as absent.
type DigestResolver interface {
	Digest(ctx context.Context, imageName string) (digest string, found bool)
}

// Validator checks suite definitions structurally and then verifies that
// every referenced test-runner image resolves to a manifest digest in its
// registry.
type Validator struct {
	resolver DigestResolver
	cache    *ValidationCache
	logger   *slog.Logger

	// Attempts is the per-image resolution budget. Zero means 5.
	Attempts int
	// Workers bounds how many images are checked concurrently. Zero means 4.
	Workers int

	// backoffFunc returns the wait before a retry attempt. Tests replace it
	// to avoid real sleeps.
	backoffFunc func(attempt int) time.Duration
}

// NewValidator creates a validator using the given resolver and validation
// cache.
func NewValidator(resolver DigestResolver, cache *ValidationCache, logger *slog.Logger) *Validator {
	return &Validator{
		resolver:    resolver,
		cache:       cache,
		logger:      logger,
		backoffFunc: retryDelay,
	}
}

// Validate checks every definition structurally, then resolves the distinct
// set of test-runner images. The returned error message is safe to surface
// verbatim in a client-facing response.
func (v *Validator) Validate(ctx context.Context, defs []Definition) error {
	if len(defs) == 0 {
		return ErrEmptySuiteList
	}

	images := make([]string, 0, len(defs))
	seen := make(map[string]struct{})
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		for _, recipe := range def.Recipes {
			runner, ok := recipe.TestRunner()
			if !ok {
				continue
			}
			if _, dup := seen[runner]; dup {
				continue
			}
			seen[runner] = struct{}{}
			images = append(images, runner)
		}
	}

	v.logger.Debug("suite definitions structurally valid",
		"suites", len(defs), "test_runners", len(images))
	return v.checkImages(ctx, images)
}

// checkImages resolves the given images using a bounded worker pool. The
// first failure cancels the remaining checks.
func (v *Validator) checkImages(ctx context.Context, images []string) error {
	if len(images) == 0 {
		return nil
	}

	workers := v.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(images) {
		workers = len(images)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobsChan := make(chan string, len(images))
	resultsChan := make(chan error, len(images))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for image := range jobsChan {
				select {
				case <-ctx.Done():
					resultsChan <- ctx.Err()
					return
				default:
				}

				err := v.checkImage(ctx, image)
				if err != nil {
					// Fail fast: stop checking the remaining images.
					cancel()
				}
				resultsChan <- err
			}
		}()
	}

	for _, image := range images {
		jobsChan <- image
	}
	close(jobsChan)

	wg.Wait()
	close(resultsChan)

	var failure error
	for err := range resultsChan {
		if err == nil {
			continue
		}
		if failure == nil {
			failure = err
			continue
		}
		// Prefer the concrete resolution error over the cancellation it
		// caused in the other workers.
		if errors.Is(failure, context.Canceled) && !errors.Is(err, context.Canceled) {
			failure = err
		}
	}
	return failure
}

// checkImage resolves one test-runner image, retrying with quadratic
// backoff. A fresh cache entry skips the registry entirely.
func (v *Validator) checkImage(ctx context.Context, image string) error {
	if v.cache.IsValid(image) {
		v.logger.Debug("test runner validated recently, skipping registry check", "image", image)
		return nil
	}

	attempts := v.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := v.backoffFunc(attempt)
			v.logger.Debug("retrying test runner resolution",
				"image", image, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		digest, found := v.resolver.Digest(ctx, image)
		if found {
			v.cache.RecordSuccess(image, time.Now())
			v.logger.Info("test runner resolved", "image", image, "digest", digest)
			return nil
		}
		v.logger.Warn("test runner not found in registry", "image", image, "attempt", attempt+1)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &ImageNotFoundError{Image: image}
}

// retryDelay returns the wait before the given attempt: attempt squared in
// seconds, so the default five attempts sleep 1s, 4s, 9s and 16s between
// tries.
func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * time.Second
}
