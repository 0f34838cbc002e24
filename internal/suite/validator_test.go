package suite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeResolver counts digest lookups and answers from a fixed set of known
// images. An image listed in succeedAfter only resolves once its call count
// exceeds the threshold.
type fakeResolver struct {
	mu           sync.Mutex
	known        map[string]string
	succeedAfter map[string]int
	calls        map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		known:        make(map[string]string),
		succeedAfter: make(map[string]int),
		calls:        make(map[string]int),
	}
}

func (f *fakeResolver) Digest(ctx context.Context, imageName string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[imageName]++
	digest, ok := f.known[imageName]
	if !ok {
		return "", false
	}
	if threshold, gated := f.succeedAfter[imageName]; gated && f.calls[imageName] < threshold {
		return "", false
	}
	return digest, true
}

func (f *fakeResolver) callsFor(imageName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[imageName]
}

func (f *fakeResolver) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func newTestValidator(resolver *fakeResolver) *Validator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := NewValidator(resolver, NewValidationCache(DefaultValidationWindow), logger)
	v.backoffFunc = func(int) time.Duration { return 0 }
	return v
}

// TestValidateEmptyList verifies that an empty definition list fails without
// touching the registry.
func TestValidateEmptyList(t *testing.T) {
	resolver := newFakeResolver()
	v := newTestValidator(resolver)

	err := v.Validate(context.Background(), nil)
	if !errors.Is(err, ErrEmptySuiteList) {
		t.Fatalf("Validate() error = %v, want ErrEmptySuiteList", err)
	}
	if n := resolver.totalCalls(); n != 0 {
		t.Errorf("resolver calls = %d, want 0", n)
	}
}

// TestValidateStructuralFailureSkipsRegistry verifies that a schema error
// prevents any image resolution.
func TestValidateStructuralFailureSkipsRegistry(t *testing.T) {
	resolver := newFakeResolver()
	v := newTestValidator(resolver)

	def := validDefinition()
	def.Recipes[0].Constraints = def.Recipes[0].Constraints[:3]

	err := v.Validate(context.Background(), []Definition{def})
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("Validate() error = %v, want *StructuralError", err)
	}
	if n := resolver.totalCalls(); n != 0 {
		t.Errorf("resolver calls = %d, want 0", n)
	}
}

// TestValidateResolvesDistinctRunners verifies that a runner shared by
// several recipes is resolved once.
func TestValidateResolvesDistinctRunners(t *testing.T) {
	resolver := newFakeResolver()
	resolver.known["runner-a:latest"] = "sha256:aaa"
	resolver.known["runner-b:latest"] = "sha256:bbb"
	v := newTestValidator(resolver)

	first := validDefinition()
	setTestRunner(t, &first.Recipes[0], "runner-a:latest")
	second := validDefinition()
	second.Name = "Second suite"
	second.Recipes = append(second.Recipes, validRecipe())
	setTestRunner(t, &second.Recipes[0], "runner-a:latest")
	setTestRunner(t, &second.Recipes[1], "runner-b:latest")

	if err := v.Validate(context.Background(), []Definition{first, second}); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if n := resolver.callsFor("runner-a:latest"); n != 1 {
		t.Errorf("runner-a calls = %d, want 1", n)
	}
	if n := resolver.callsFor("runner-b:latest"); n != 1 {
		t.Errorf("runner-b calls = %d, want 1", n)
	}
}

// TestValidateCacheHitSkipsRegistry verifies that a fresh validation cache
// entry short-circuits the registry check.
func TestValidateCacheHitSkipsRegistry(t *testing.T) {
	resolver := newFakeResolver()
	v := newTestValidator(resolver)

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "runner-a:latest")
	v.cache.RecordSuccess("runner-a:latest", time.Now())

	if err := v.Validate(context.Background(), []Definition{def}); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if n := resolver.totalCalls(); n != 0 {
		t.Errorf("resolver calls = %d, want 0", n)
	}
}

// TestValidateRecordsSuccess verifies that a resolved image lands in the
// validation cache.
func TestValidateRecordsSuccess(t *testing.T) {
	resolver := newFakeResolver()
	resolver.known["runner-a:latest"] = "sha256:aaa"
	v := newTestValidator(resolver)

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "runner-a:latest")

	if err := v.Validate(context.Background(), []Definition{def}); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if !v.cache.IsValid("runner-a:latest") {
		t.Error("IsValid() = false after successful validation, want true")
	}
}

// TestValidateRetriesUntilFound verifies that transient misses are retried.
func TestValidateRetriesUntilFound(t *testing.T) {
	resolver := newFakeResolver()
	resolver.known["runner-a:latest"] = "sha256:aaa"
	resolver.succeedAfter["runner-a:latest"] = 3
	v := newTestValidator(resolver)

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "runner-a:latest")

	if err := v.Validate(context.Background(), []Definition{def}); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if n := resolver.callsFor("runner-a:latest"); n != 3 {
		t.Errorf("resolver calls = %d, want 3", n)
	}
}

// TestValidateImageNotFound verifies attempt exhaustion surfaces the image
// name in the error.
func TestValidateImageNotFound(t *testing.T) {
	resolver := newFakeResolver()
	v := newTestValidator(resolver)

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "missing:latest")

	err := v.Validate(context.Background(), []Definition{def})
	var notFound *ImageNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Validate() error = %v, want *ImageNotFoundError", err)
	}
	if notFound.Image != "missing:latest" {
		t.Errorf("Image = %q, want %q", notFound.Image, "missing:latest")
	}
	if n := resolver.callsFor("missing:latest"); n != defaultAttempts {
		t.Errorf("resolver calls = %d, want %d", n, defaultAttempts)
	}
	if v.cache.IsValid("missing:latest") {
		t.Error("IsValid() = true for failed image, want false")
	}
}

// TestValidateAttemptsOverride verifies the attempt budget is configurable.
func TestValidateAttemptsOverride(t *testing.T) {
	resolver := newFakeResolver()
	v := newTestValidator(resolver)
	v.Attempts = 2

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "missing:latest")

	err := v.Validate(context.Background(), []Definition{def})
	var notFound *ImageNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Validate() error = %v, want *ImageNotFoundError", err)
	}
	if n := resolver.callsFor("missing:latest"); n != 2 {
		t.Errorf("resolver calls = %d, want 2", n)
	}
}

// TestValidateBackoffAttemptSequence verifies the retry loop asks for the
// delay of attempts 1 through 4.
func TestValidateBackoffAttemptSequence(t *testing.T) {
	resolver := newFakeResolver()
	v := newTestValidator(resolver)

	var attempts []int
	v.backoffFunc = func(attempt int) time.Duration {
		attempts = append(attempts, attempt)
		return 0
	}

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "missing:latest")

	if err := v.Validate(context.Background(), []Definition{def}); err == nil {
		t.Fatal("Validate() succeeded, want error")
	}
	want := []int{1, 2, 3, 4}
	if len(attempts) != len(want) {
		t.Fatalf("backoff calls = %v, want %v", attempts, want)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Errorf("backoff call %d = %d, want %d", i, attempts[i], want[i])
		}
	}
}

// TestRetryDelayQuadratic verifies the wait grows with the square of the
// attempt number.
func TestRetryDelayQuadratic(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 4 * time.Second},
		{3, 9 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// TestValidateFailFast verifies that a failed image stops the remaining
// checks when running with a single worker.
func TestValidateFailFast(t *testing.T) {
	resolver := newFakeResolver()
	resolver.known["runner-b:latest"] = "sha256:bbb"
	v := newTestValidator(resolver)
	v.Workers = 1

	first := validDefinition()
	setTestRunner(t, &first.Recipes[0], "missing:latest")
	second := validDefinition()
	second.Name = "Second suite"
	setTestRunner(t, &second.Recipes[0], "runner-b:latest")

	err := v.Validate(context.Background(), []Definition{first, second})
	var notFound *ImageNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Validate() error = %v, want *ImageNotFoundError", err)
	}
	if n := resolver.callsFor("runner-b:latest"); n != 0 {
		t.Errorf("runner-b calls = %d, want 0 after fail fast", n)
	}
}

// TestValidateCancelledContext verifies that a cancelled context aborts
// validation before any registry traffic.
func TestValidateCancelledContext(t *testing.T) {
	resolver := newFakeResolver()
	resolver.known["runner-a:latest"] = "sha256:aaa"
	v := newTestValidator(resolver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	def := validDefinition()
	setTestRunner(t, &def.Recipes[0], "runner-a:latest")

	err := v.Validate(ctx, []Definition{def})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Validate() error = %v, want context.Canceled", err)
	}
	if n := resolver.totalCalls(); n != 0 {
		t.Errorf("resolver calls = %d, want 0", n)
	}
}

// setTestRunner rewrites the recipe's TEST_RUNNER constraint to the given
// image name.
func setTestRunner(t *testing.T, recipe *Recipe, image string) {
	t.Helper()
	value, err := json.Marshal(image)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for i, c := range recipe.Constraints {
		if c.Key == KeyTestRunner {
			recipe.Constraints[i].Value = value
			return
		}
	}
	t.Fatalf("recipe has no TEST_RUNNER constraint")
}
