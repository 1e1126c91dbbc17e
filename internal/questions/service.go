package questions

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/exambank/backend/internal/cache"
	"github.com/exambank/backend/internal/generator"
	"github.com/exambank/backend/internal/models"
)

// maxAttempts is the hard per-request ceiling shared across every failure
// class: verification rejections and surfaced generation failures both
// consume from the same budget.
const maxAttempts = 3

// GenerationStore is the persistence boundary the orchestrator writes
// accepted questions and audit rows through.
type GenerationStore interface {
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	SaveGeneratedQuestion(ctx context.Context, q models.Question) (int64, error)
	LogGeneration(ctx context.Context, entry *models.GenerationLog) error
}

// GenerationError is the terminal failure reported to the caller after the
// attempt budget is exhausted. The core never loops past it; Retryable only
// signals whether a higher layer could plausibly try again later.
type GenerationError struct {
	Reason    string
	Retryable bool
	Attempts  int
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s): %s", e.Attempts, e.Reason)
}

type Service struct {
	store          GenerationStore
	cache          *cache.Cache
	client         *generator.Client
	verifier       *generator.Verifier
	invokeTimeout  time.Duration
	requestTimeout time.Duration
}

func NewService(store GenerationStore, c *cache.Cache, client *generator.Client, verifier *generator.Verifier) *Service {
	invokeTimeout := 60 * time.Second
	if v := os.Getenv("GEN_INVOKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			invokeTimeout = d
		}
	}

	requestTimeout := 120 * time.Second
	if v := os.Getenv("GEN_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			requestTimeout = d
		}
	}

	return &Service{
		store:          store,
		cache:          c,
		client:         client,
		verifier:       verifier,
		invokeTimeout:  invokeTimeout,
		requestTimeout: requestTimeout,
	}
}

// ── GenerateSimilar (the request state machine) ──────────

// GenerateSimilar runs one logical request: check the fingerprint cache,
// then prompt, generate and verify under the shared attempt budget. Accepted
// questions are cached and persisted before being returned; exhaustion
// returns a *GenerationError carrying the last rejection or failure.
func (s *Service) GenerateSimilar(ctx context.Context, req models.GenerationRequest, userID int64) (*models.GenerateSimilarResponse, error) {
	if req.DifficultyVariance == "" {
		req.DifficultyVariance = models.VarianceSimilar
	}
	if !models.ValidVariances[req.DifficultyVariance] {
		return nil, fmt.Errorf("invalid difficulty_variance %q", req.DifficultyVariance)
	}
	if err := req.Source.Validate(); err != nil {
		return nil, fmt.Errorf("source question: %w", err)
	}

	// The whole request, including any wait on a concurrent holder of the same
	// fingerprint, runs under a service-owned deadline. Inbound contexts often
	// carry none.
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	start := time.Now()
	fp := cache.FingerprintRequest(req)

	entry, acquired, err := s.cache.GetOrLock(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("waiting for concurrent generation: %w", err)
	}
	if entry != nil {
		s.logOutcome(ctx, req, userID, &models.GenerationLog{
			Fingerprint: string(fp),
			GeneratedID: idPtr(entry.Question.ID),
			Outcome:     models.OutcomeCacheHit,
			DurationMs:  int(time.Since(start).Milliseconds()),
		})
		return &models.GenerateSimilarResponse{
			Question:        entry.Question,
			ServedFromCache: true,
			Attempts:        0,
		}, nil
	}
	if !acquired {
		// GetOrLock only returns without an entry or the lock on ctx error,
		// which is handled above.
		return nil, fmt.Errorf("fingerprint lock unavailable")
	}
	defer s.cache.Release(fp)

	var (
		feedback     []string
		lastReason   string
		retryable    bool
		promptTokens int
		outputTokens int
		attempts     int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		prompts := generator.BuildPrompts(req, feedback)

		invokeCtx, cancel := context.WithTimeout(ctx, s.invokeTimeout)
		resp, err := s.client.Invoke(invokeCtx, prompts)
		cancel()

		if err != nil {
			failure, ok := generator.AsFailure(err)
			if !ok {
				lastReason = err.Error()
				break
			}
			lastReason = string(failure.Kind)
			retryable = failure.Kind == generator.FailureRateLimited

			if !repromptable(failure.Kind) || ctx.Err() != nil {
				// Transient/timeout failures were already retried inside the
				// client; nothing a new prompt would change.
				break
			}
			if attempt < maxAttempts {
				log.Printf("Generation attempt %d failed (%s), re-prompting", attempt, failure.Kind)
				feedback = generator.FeedbackForFailure(failure)
			}
			continue
		}

		promptTokens += resp.PromptTokens
		outputTokens += resp.OutputTokens

		q, vr := s.verifier.Verify(resp.Content, req)
		if vr.Accepted {
			q.SourceQuestionID = idPtr(req.Source.ID)
			if id, err := s.store.SaveGeneratedQuestion(ctx, q); err != nil {
				log.Printf("WARN: failed to persist generated question: %v", err)
			} else {
				q.ID = id
			}

			s.cache.Put(fp, q, attempt)
			s.logOutcome(ctx, req, userID, &models.GenerationLog{
				Fingerprint:        string(fp),
				GeneratedID:        idPtr(q.ID),
				Outcome:            models.OutcomeAccepted,
				Attempts:           attempt,
				SimilarityToSource: vr.SimilarityToSource,
				PromptTokens:       promptTokens,
				OutputTokens:       outputTokens,
				DurationMs:         int(time.Since(start).Milliseconds()),
			})
			return &models.GenerateSimilarResponse{
				Question:        q,
				ServedFromCache: false,
				Attempts:        attempt,
			}, nil
		}

		lastReason = rejectionSummary(vr.Reasons)
		retryable = false
		if attempt < maxAttempts {
			log.Printf("Generation attempt %d rejected (%s), re-prompting", attempt, lastReason)
			feedback = generator.FeedbackForReasons(vr.Reasons)
		}
	}

	genErr := &GenerationError{
		Reason:    lastReason,
		Retryable: retryable,
		Attempts:  attempts,
	}
	s.logOutcome(ctx, req, userID, &models.GenerationLog{
		Fingerprint:   string(fp),
		Outcome:       models.OutcomeFailed,
		Attempts:      attempts,
		FailureReason: lastReason,
		PromptTokens:  promptTokens,
		OutputTokens:  outputTokens,
		DurationMs:    int(time.Since(start).Milliseconds()),
	})
	return nil, genErr
}

// repromptable reports whether the orchestrator's retry loop can address a
// failure kind by issuing a modified prompt.
func repromptable(kind generator.FailureKind) bool {
	switch kind {
	case generator.FailureContentPolicy, generator.FailureMalformedOutput, generator.FailureRateLimited:
		return true
	}
	return false
}

func rejectionSummary(reasons []generator.RejectionReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

func (s *Service) logOutcome(ctx context.Context, req models.GenerationRequest, userID int64, entry *models.GenerationLog) {
	entry.UserID = userID
	entry.SourceQuestionID = req.Source.ID
	entry.DifficultyVariance = req.DifficultyVariance
	entry.NoVariance = req.NoVariance
	if err := s.store.LogGeneration(ctx, entry); err != nil {
		log.Printf("WARN: failed to write generation log: %v", err)
	}
}

func idPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
