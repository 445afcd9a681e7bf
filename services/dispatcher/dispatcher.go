package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/internal/observability"
	"github.com/upb/image-gateway/middleware"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/placeholder"
	"github.com/upb/image-gateway/services/providers"
)

// DelayPolicy returns the pause taken before the secondary attempt with the
// given zero-based index. It is never consulted for attempt 0.
type DelayPolicy func(attempt int) time.Duration

// FixedDelay waits d between consecutive secondary calls
func FixedDelay(d time.Duration) DelayPolicy {
	return func(int) time.Duration { return d }
}

// NoDelay never waits
func NoDelay(int) time.Duration { return 0 }

// Recorder persists generation records
type Recorder interface {
	RecordGeneration(record *models.GenerationRecord) error
}

// Options wires the dispatcher's collaborators. A nil Forward or Secondary
// client, or a nil Placeholder generator, disables that stage.
type Options struct {
	Forward            providers.Client
	Secondary          providers.Client
	Placeholder        *placeholder.Generator
	Credentials        repositories.CredentialRepository
	StaticSecondaryKey string
	Delay              DelayPolicy
	Metrics            observability.Metrics
	Recorder           Recorder
	Logger             *zap.Logger
}

// StageFailure records why a stage did not produce the batch
type StageFailure struct {
	Stage      models.GenerationStage `json:"stage"`
	Kind       providers.ErrorKind    `json:"kind"`
	Category   services.ErrorType     `json:"category"`
	Detail     string                 `json:"detail"`
	StatusCode int                    `json:"status_code,omitempty"`
	Failed     int                    `json:"failed"`
}

// Outcome is the dispatcher's answer for one request. Images always holds
// exactly the requested number of references in index order.
type Outcome struct {
	GenerationID string
	Stage        models.GenerationStage
	Kind         providers.ResultKind
	Images       []providers.ImageReference
	Attempted    int
	Succeeded    int
	MockMode     bool
	Failures     []StageFailure
	Duration     time.Duration
}

// Dispatcher walks the fallback chain: forward, then secondary per image,
// then placeholder. Stages never raise errors into one another; their
// failures only decide whether the next stage runs.
type Dispatcher struct {
	forward     providers.Client
	secondary   providers.Client
	placeholder *placeholder.Generator
	credentials repositories.CredentialRepository
	staticKey   string
	delay       DelayPolicy
	metrics     observability.Metrics
	recorder    Recorder
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration)
}

// New creates a dispatcher
func New(opts Options) *Dispatcher {
	if opts.Delay == nil {
		opts.Delay = NoDelay
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Dispatcher{
		forward:     opts.Forward,
		secondary:   opts.Secondary,
		placeholder: opts.Placeholder,
		credentials: opts.Credentials,
		staticKey:   opts.StaticSecondaryKey,
		delay:       opts.Delay,
		metrics:     opts.Metrics,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		sleep:       sleepContext,
	}
}

// ForwardEnabled reports whether the forward stage will be attempted
func (d *Dispatcher) ForwardEnabled() bool {
	return stageEnabled(d.forward)
}

// SecondaryEnabled reports whether the secondary stage is configured
func (d *Dispatcher) SecondaryEnabled() bool {
	return stageEnabled(d.secondary)
}

// PlaceholderEnabled reports whether the terminal placeholder stage is configured
func (d *Dispatcher) PlaceholderEnabled() bool {
	return d.placeholder != nil
}

func stageEnabled(c providers.Client) bool {
	return c != nil && c.Config().Enabled && c.Config().Endpoint != ""
}

// Dispatch validates req and runs the fallback chain.
// It returns an InvalidRequest error before contacting any upstream when the
// request is invalid, and ExhaustedFallback only when every stage, including
// the placeholder stage, is disabled or failed.
func (d *Dispatcher) Dispatch(ctx context.Context, req *providers.GenerationRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	requestID := middleware.GetRequestIDFromContext(ctx)
	outcome := &Outcome{GenerationID: uuid.NewString()}
	logger := d.logger.With(
		zap.String("request_id", requestID),
		zap.String("generation_id", outcome.GenerationID),
	)

	logger.Info("dispatching generation",
		zap.Int("num_images", req.Count),
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.String("session", providers.MaskSecret(req.SessionCredential)),
	)

	served := d.runForward(ctx, req, outcome, logger) ||
		d.runSecondary(ctx, req, outcome, logger) ||
		d.runPlaceholder(req, outcome, logger)

	outcome.Duration = time.Since(start)
	d.record(requestID, req, outcome, served)

	if !served {
		logger.Error("fallback chain exhausted", zap.Int("failed_stages", len(outcome.Failures)))
		return nil, d.exhaustedError(outcome)
	}

	d.metrics.RecordGeneration(string(outcome.Stage), len(outcome.Images), outcome.Succeeded)
	logger.Info("generation served",
		zap.String("stage", string(outcome.Stage)),
		zap.Int("images", len(outcome.Images)),
		zap.Int("real_images", outcome.Succeeded),
		zap.Bool("mock_mode", outcome.MockMode),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

// runForward sends the whole batch upstream in one call
func (d *Dispatcher) runForward(ctx context.Context, req *providers.GenerationRequest, out *Outcome, logger *zap.Logger) bool {
	stage := models.GenerationStageForward
	if !stageEnabled(d.forward) {
		d.metrics.RecordStage(string(stage), "skipped", 0)
		return false
	}

	start := time.Now()
	result := d.forward.Generate(ctx, req, req.SessionCredential)
	if !result.OK() {
		d.metrics.RecordStage(string(stage), providers.ResultFailure.String(), time.Since(start))
		d.fail(out, stage, result.Failure, 1, logger)
		return false
	}

	images := result.Images
	kind := providers.ResultSuccess
	switch {
	case len(images) > req.Count:
		images = images[:req.Count]
	case len(images) < req.Count:
		// Short batches are topped up so callers always get what they asked for
		kind = providers.ResultPartialSuccess
		for i := len(images); i < req.Count; i++ {
			images = append(images, d.placeholderImage(out.GenerationID, i, req))
		}
		logger.Warn("forward upstream returned fewer images than requested",
			zap.Int("requested", req.Count),
			zap.Int("returned", len(result.Images)),
		)
	}

	d.metrics.RecordStage(string(stage), kind.String(), time.Since(start))
	out.Stage = stage
	out.Kind = kind
	out.Images = images
	out.Attempted = req.Count
	out.Succeeded = min(len(result.Images), req.Count)
	out.MockMode = kind == providers.ResultPartialSuccess
	return true
}

// runSecondary asks the secondary provider for one image per call, in index
// order, substituting a placeholder for each failed call.
func (d *Dispatcher) runSecondary(ctx context.Context, req *providers.GenerationRequest, out *Outcome, logger *zap.Logger) bool {
	stage := models.GenerationStageSecondary
	if !stageEnabled(d.secondary) {
		d.metrics.RecordStage(string(stage), "skipped", 0)
		return false
	}

	key := d.resolveSecondaryKey(ctx, req.SessionCredential, logger)
	if key == "" {
		logger.Debug("secondary stage skipped, no secondary credential")
		d.metrics.RecordStage(string(stage), "skipped", 0)
		return false
	}

	start := time.Now()
	single := *req
	single.Count = 1

	images := make([]providers.ImageReference, 0, req.Count)
	succeeded := 0
	var lastFailure *providers.Failure
	for i := 0; i < req.Count; i++ {
		if i > 0 {
			d.sleep(ctx, d.delay(i))
		}

		result := d.secondary.Generate(ctx, &single, key)
		if result.OK() && len(result.Images) > 0 {
			images = append(images, result.Images[0])
			succeeded++
			logger.Debug("secondary image generated", zap.Int("attempt", i))
			continue
		}

		if result.Failure != nil {
			lastFailure = result.Failure
			d.metrics.RecordUpstreamFailure(string(stage), string(result.Failure.Kind))
			logger.Warn("secondary image failed, using placeholder",
				zap.Int("attempt", i),
				zap.String("kind", string(result.Failure.Kind)),
			)
		}
		images = append(images, d.placeholderImage(out.GenerationID, i, req))
	}

	if succeeded == 0 {
		d.metrics.RecordStage(string(stage), providers.ResultFailure.String(), time.Since(start))
		if lastFailure == nil {
			lastFailure = &providers.Failure{Kind: providers.ErrorKindEmptyResult, Detail: "secondary provider returned no images"}
		}
		d.fail(out, stage, lastFailure, req.Count, logger)
		return false
	}

	kind := providers.ResultSuccess
	if succeeded < req.Count {
		kind = providers.ResultPartialSuccess
		d.fail(out, stage, lastFailure, req.Count-succeeded, logger)
	}
	d.metrics.RecordStage(string(stage), kind.String(), time.Since(start))

	out.Stage = stage
	out.Kind = kind
	out.Images = images
	out.Attempted = req.Count
	out.Succeeded = succeeded
	out.MockMode = succeeded < req.Count
	return true
}

// runPlaceholder is the terminal stage; it cannot fail once enabled
func (d *Dispatcher) runPlaceholder(req *providers.GenerationRequest, out *Outcome, logger *zap.Logger) bool {
	stage := models.GenerationStagePlaceholder
	if d.placeholder == nil {
		d.metrics.RecordStage(string(stage), "skipped", 0)
		return false
	}

	out.Stage = stage
	out.Kind = providers.ResultSuccess
	out.Images = d.placeholder.Batch(out.GenerationID, req.Count, req.Width, req.Height)
	out.Attempted = req.Count
	out.Succeeded = 0
	out.MockMode = true
	d.metrics.RecordStage(string(stage), providers.ResultSuccess.String(), 0)
	logger.Info("serving placeholder images", zap.Int("images", len(out.Images)))
	return true
}

// resolveSecondaryKey prefers the key stored for the session, then the static key
func (d *Dispatcher) resolveSecondaryKey(ctx context.Context, session string, logger *zap.Logger) string {
	if d.credentials != nil {
		key, found, err := d.credentials.Get(ctx, session)
		if err != nil {
			logger.Warn("credential lookup failed, using static key", zap.Error(err))
		} else if found && key != "" {
			return key
		}
	}
	return d.staticKey
}

func (d *Dispatcher) placeholderImage(seed string, index int, req *providers.GenerationRequest) providers.ImageReference {
	if d.placeholder != nil {
		return d.placeholder.Image(seed, index, req.Width, req.Height)
	}
	return placeholder.Placeholder(index, req.Width, req.Height)
}

func (d *Dispatcher) fail(out *Outcome, stage models.GenerationStage, f *providers.Failure, failed int, logger *zap.Logger) {
	if f == nil {
		return
	}
	if stage == models.GenerationStageForward {
		d.metrics.RecordUpstreamFailure(string(stage), string(f.Kind))
	}
	out.Failures = append(out.Failures, StageFailure{
		Stage:      stage,
		Kind:       f.Kind,
		Category:   f.Kind.Category(),
		Detail:     f.Detail,
		StatusCode: f.StatusCode,
		Failed:     failed,
	})
	logger.Warn("stage failed",
		zap.String("stage", string(stage)),
		zap.String("kind", string(f.Kind)),
		zap.String("category", string(f.Kind.Category())),
		zap.String("detail", f.Detail),
		zap.Int("failed", failed),
	)
}

// exhaustedError describes a chain with nothing left to try. It is a
// configuration problem: the placeholder stage is disabled.
func (d *Dispatcher) exhaustedError(out *Outcome) error {
	forwardURL := ""
	if d.forward != nil {
		forwardURL = d.forward.Config().Endpoint
	}

	err := services.ErrExhaustedFallback.
		WithDetail("generation_id", out.GenerationID).
		WithDetail("forward_url", forwardURL).
		WithDetail("checklist", []string{
			"the forward upstream address is correct and the service is running",
			"the session id in 'Authorization: Bearer <SESSION_ID>' is valid and not expired",
			"a secondary provider key is configured or sent in the secondary key header",
			"the placeholder stage is enabled (PLACEHOLDER_ENABLED=true)",
		})
	if len(out.Failures) > 0 {
		err = err.WithDetail("failures", out.Failures)
		for _, f := range out.Failures {
			if f.Category == services.ErrorTypeUpstreamAuthFailure {
				err = err.WithSuggestion(services.DefaultSuggestion(services.ErrorTypeUpstreamAuthFailure))
				break
			}
		}
	}
	return err
}

func (d *Dispatcher) record(requestID string, req *providers.GenerationRequest, out *Outcome, served bool) {
	if d.recorder == nil {
		return
	}

	id, err := uuid.Parse(out.GenerationID)
	if err != nil {
		id = uuid.New()
	}
	stage := out.Stage
	if !served {
		stage = models.GenerationStageNone
	}

	failures := make(map[string]string, len(out.Failures))
	for _, f := range out.Failures {
		failures[string(f.Stage)] = string(f.Kind)
	}

	record := models.NewGenerationRecord(id, requestID, stage).
		WithRequest(req.Prompt, req.Count, req.Width, req.Height).
		WithOutcome(out.Succeeded, out.MockMode, out.Duration).
		WithFailures(failures)

	if err := d.recorder.RecordGeneration(record); err != nil {
		d.logger.Warn("failed to queue generation record",
			zap.String("generation_id", out.GenerationID),
			zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// String implements fmt.Stringer for log output
func (f StageFailure) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Stage, f.Kind, f.Detail)
}
