package letter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"disputeflow/completion"
)

const (
	// DefaultEnhanceTimeout bounds one enhancement call.
	DefaultEnhanceTimeout = 20 * time.Second

	minEnhancedLength = 300
	// Enhanced text shorter than this share of the original is rejected.
	minLengthRatio = 0.6
)

var (
	errTooShort        = errors.New("enhanced text too short")
	errMissingRequired = errors.New("enhanced text dropped required reference")
	errLeaksIdentifier = errors.New("enhanced text contains an unmasked identifier")
	errPlaceholder     = errors.New("enhanced text contains a placeholder")
)

// Enhancer rewrites letter text.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// EnhancerFunc adapts a function to Enhancer.
type EnhancerFunc func(ctx context.Context, text string) (string, error)

func (f EnhancerFunc) Enhance(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

const enhancePrompt = `Rewrite the following consumer dispute letter so it is clear, firm and professional.
Keep every statute citation exactly as written. Keep the masked account reference exactly as written.
Do not add placeholders, bracketed text, commentary or new facts. Return only the letter text.

`

// FromCompletion turns a completion client into an Enhancer.
func FromCompletion(c completion.Client) Enhancer {
	return EnhancerFunc(func(ctx context.Context, text string) (string, error) {
		out, err := c.Complete(ctx, enhancePrompt+text)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	})
}

// Guard lists what enhanced text must keep and must never contain.
type Guard struct {
	Required  []string
	Forbidden []string
}

// Fallback runs an Enhancer under a timeout and validates its output. Any
// failure yields the original text.
type Fallback struct {
	enhancer Enhancer
	timeout  time.Duration
	logger   *zap.Logger
}

// WithFallback wraps enhancer. A non-positive timeout uses DefaultEnhanceTimeout.
func WithFallback(enhancer Enhancer, timeout time.Duration) *Fallback {
	if timeout <= 0 {
		timeout = DefaultEnhanceTimeout
	}
	return &Fallback{enhancer: enhancer, timeout: timeout, logger: zap.NewNop()}
}

func (f *Fallback) WithLogger(logger *zap.Logger) *Fallback {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// Apply returns the enhanced text and true, or text and false when the
// enhancer fails or its output does not pass validation.
func (f *Fallback) Apply(ctx context.Context, text string, guard Guard) (string, bool) {
	if f == nil || f.enhancer == nil {
		return text, false
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.call(ctx, text)
	if err == nil {
		err = validateEnhanced(text, out, guard)
	}
	if err != nil {
		f.logger.Warn("letter enhancement skipped", zap.Error(err))
		return text, false
	}
	return out, true
}

func (f *Fallback) call(ctx context.Context, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enhancer panic: %v", r)
		}
	}()
	return f.enhancer.Enhance(ctx, text)
}

func validateEnhanced(original, enhanced string, guard Guard) error {
	minLen := int(float64(len(original)) * minLengthRatio)
	if minLen < minEnhancedLength {
		minLen = minEnhancedLength
	}
	if len(strings.TrimSpace(enhanced)) < minLen {
		return errTooShort
	}
	if HasPlaceholder(enhanced) {
		return errPlaceholder
	}
	for _, req := range guard.Required {
		if req != "" && !strings.Contains(enhanced, req) {
			return fmt.Errorf("%w: %q", errMissingRequired, req)
		}
	}
	compact := alnum(enhanced)
	for _, bad := range guard.Forbidden {
		if bad != "" && strings.Contains(compact, bad) {
			return errLeaksIdentifier
		}
	}
	return nil
}
