package effector

import "context"

// Effector performs the physical side of a remediation. The recovery actions
// decide what to do and when; how a restart or a scale-up actually happens is
// owned by whatever sits behind this interface.
type Effector interface {
	RestartService(ctx context.Context, component string) error
	CheckHealth(ctx context.Context, component string) error
	ClearCache(ctx context.Context, component string) error
	WarmCache(ctx context.Context, component string) error
	ScaleResources(ctx context.Context, component, dimension string) error
	RevertScale(ctx context.Context, component string) error
}

// NoopEffector acknowledges every remediation without doing anything. It keeps
// the engine runnable when no remediation backend is configured.
type NoopEffector struct{}

// RestartService is a no-op.
func (NoopEffector) RestartService(context.Context, string) error { return nil }

// CheckHealth always reports healthy.
func (NoopEffector) CheckHealth(context.Context, string) error { return nil }

// ClearCache is a no-op.
func (NoopEffector) ClearCache(context.Context, string) error { return nil }

// WarmCache is a no-op.
func (NoopEffector) WarmCache(context.Context, string) error { return nil }

// ScaleResources is a no-op.
func (NoopEffector) ScaleResources(context.Context, string, string) error { return nil }

// RevertScale is a no-op.
func (NoopEffector) RevertScale(context.Context, string) error { return nil }
