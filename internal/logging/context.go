// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type runCtxKey struct{}
type waveCtxKey struct{}
type featureCtxKey struct{}
type phaseCtxKey struct{}

// ContextFields extracts run correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if wave, ok := WaveFromContext(ctx); ok {
		fields = append(fields, zap.Int("wave", wave))
	}
	if feature := FeatureFromContext(ctx); feature != "" {
		fields = append(fields, zap.String("feature", feature))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}

	return fields
}

// WithRunID attaches a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run ID, or "" if absent.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithWave attaches the current wave index to the context.
func WithWave(ctx context.Context, wave int) context.Context {
	return context.WithValue(ctx, waveCtxKey{}, wave)
}

// WaveFromContext returns the wave index and whether one is set.
func WaveFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(waveCtxKey{}).(int)
	return v, ok
}

// WithFeature attaches a feature name to the context.
func WithFeature(ctx context.Context, feature string) context.Context {
	return context.WithValue(ctx, featureCtxKey{}, feature)
}

// FeatureFromContext returns the feature name, or "" if absent.
func FeatureFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(featureCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithPhase attaches the active retry phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext returns the phase name, or "" if absent.
func PhaseFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return v
	}
	return ""
}
