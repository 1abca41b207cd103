package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsManager manages metrics collection
type MetricsManager struct {
	config        MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	// Sandbox host metrics
	invocationCount    metric.Int64UpDownCounter
	invocationTotal    metric.Int64Counter
	invocationDuration metric.Float64Histogram

	// Policy decision metrics
	policyAllowTotal   metric.Int64Counter
	policyDenyTotal    metric.Int64Counter
	rateLimitedTotal   metric.Int64Counter
	decisionDuration   metric.Float64Histogram

	// Resource exhaustion metrics
	resourceExhaustedTotal metric.Int64Counter
	wasmTrapTotal          metric.Int64Counter

	// Bundle distribution metrics
	bundleCount       metric.Int64UpDownCounter
	bundlePullTotal   metric.Int64Counter
	bundlePushTotal   metric.Int64Counter
	bundleBytesPulled metric.Int64Counter
	bundleBytesPushed metric.Int64Counter

	// Generic operation metrics
	operationDuration metric.Float64Histogram
	operationTotal    metric.Int64Counter

	mu sync.RWMutex
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(serviceName string, config MetricsConfig, exporters *ExporterManager) (*MetricsManager, error) {
	mm := &MetricsManager{
		config: config,
	}

	opts := []sdkmetric.Option{}

	if exporters != nil {
		for _, reader := range exporters.GetMetricReaders() {
			opts = append(opts, sdkmetric.WithReader(reader))
		}
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	mm.meterProvider = mp
	mm.meter = mp.Meter(serviceName)

	if err := mm.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mm, nil
}

// initMetrics initializes all metrics
func (mm *MetricsManager) initMetrics() error {
	var err error

	mm.invocationCount, err = mm.meter.Int64UpDownCounter(
		"mcpkit_sandbox_invocations_active",
		metric.WithDescription("Number of sandbox hosts currently running an invocation"),
	)
	if err != nil {
		return err
	}

	mm.invocationTotal, err = mm.meter.Int64Counter(
		"mcpkit_sandbox_invocation_total",
		metric.WithDescription("Total number of sandbox invocations, by exit condition"),
	)
	if err != nil {
		return err
	}

	mm.invocationDuration, err = mm.meter.Float64Histogram(
		"mcpkit_sandbox_invocation_duration_seconds",
		metric.WithDescription("Sandbox invocation wall-clock duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	mm.policyAllowTotal, err = mm.meter.Int64Counter(
		"mcpkit_policy_decisions_allow_total",
		metric.WithDescription("Total number of policy decisions that allowed an action"),
	)
	if err != nil {
		return err
	}

	mm.policyDenyTotal, err = mm.meter.Int64Counter(
		"mcpkit_policy_decisions_deny_total",
		metric.WithDescription("Total number of policy decisions that denied an action"),
	)
	if err != nil {
		return err
	}

	mm.rateLimitedTotal, err = mm.meter.Int64Counter(
		"mcpkit_policy_rate_limited_total",
		metric.WithDescription("Total number of tool calls converted to deny by a rate limit"),
	)
	if err != nil {
		return err
	}

	mm.decisionDuration, err = mm.meter.Float64Histogram(
		"mcpkit_policy_decision_duration_seconds",
		metric.WithDescription("Compiled policy decision latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	mm.resourceExhaustedTotal, err = mm.meter.Int64Counter(
		"mcpkit_sandbox_resource_exhausted_total",
		metric.WithDescription("Total number of invocations terminated by resource exhaustion"),
	)
	if err != nil {
		return err
	}

	mm.wasmTrapTotal, err = mm.meter.Int64Counter(
		"mcpkit_sandbox_wasm_trap_total",
		metric.WithDescription("Total number of invocations that ended in a runtime trap"),
	)
	if err != nil {
		return err
	}

	mm.bundleCount, err = mm.meter.Int64UpDownCounter(
		"mcpkit_store_bundles",
		metric.WithDescription("Number of bundles in the local content-addressed store"),
	)
	if err != nil {
		return err
	}

	mm.bundlePullTotal, err = mm.meter.Int64Counter(
		"mcpkit_bundle_pull_total",
		metric.WithDescription("Total number of bundle pulls from a registry"),
	)
	if err != nil {
		return err
	}

	mm.bundlePushTotal, err = mm.meter.Int64Counter(
		"mcpkit_bundle_push_total",
		metric.WithDescription("Total number of bundle pushes to a registry"),
	)
	if err != nil {
		return err
	}

	mm.bundleBytesPulled, err = mm.meter.Int64Counter(
		"mcpkit_bundle_bytes_pulled_total",
		metric.WithDescription("Total blob bytes pulled from registries"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return err
	}

	mm.bundleBytesPushed, err = mm.meter.Int64Counter(
		"mcpkit_bundle_bytes_pushed_total",
		metric.WithDescription("Total blob bytes pushed to registries"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return err
	}

	mm.operationDuration, err = mm.meter.Float64Histogram(
		"mcpkit_operation_duration_seconds",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	mm.operationTotal, err = mm.meter.Int64Counter(
		"mcpkit_operation_total",
		metric.WithDescription("Total number of operations"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordInvocationStarted records a sandbox invocation beginning.
func (mm *MetricsManager) RecordInvocationStarted(ctx context.Context, attrs ...metric.AddOption) {
	mm.invocationCount.Add(ctx, 1, attrs...)
}

// RecordInvocationFinished records a sandbox invocation ending with the given exit condition.
func (mm *MetricsManager) RecordInvocationFinished(ctx context.Context, duration float64, attrs ...metric.RecordOption) {
	mm.invocationCount.Add(ctx, -1)
	mm.invocationDuration.Record(ctx, duration, attrs...)
	addAttrs := recordToAddOptions(attrs)
	mm.invocationTotal.Add(ctx, 1, addAttrs...)
}

// RecordPolicyDecision records a compiled-policy decision outcome and latency.
func (mm *MetricsManager) RecordPolicyDecision(ctx context.Context, allowed bool, duration float64, attrs ...metric.RecordOption) {
	mm.decisionDuration.Record(ctx, duration, attrs...)
	addAttrs := recordToAddOptions(attrs)
	if allowed {
		mm.policyAllowTotal.Add(ctx, 1, addAttrs...)
		return
	}
	mm.policyDenyTotal.Add(ctx, 1, addAttrs...)
}

// RecordRateLimited records a tool call denied because it exceeded its rate limit.
func (mm *MetricsManager) RecordRateLimited(ctx context.Context, attrs ...metric.AddOption) {
	mm.rateLimitedTotal.Add(ctx, 1, attrs...)
}

// RecordResourceExhausted records a sandbox invocation terminated by fuel/memory/deadline exhaustion.
func (mm *MetricsManager) RecordResourceExhausted(ctx context.Context, attrs ...metric.AddOption) {
	mm.resourceExhaustedTotal.Add(ctx, 1, attrs...)
}

// RecordWasmTrap records a sandbox invocation that ended in a runtime trap.
func (mm *MetricsManager) RecordWasmTrap(ctx context.Context, attrs ...metric.AddOption) {
	mm.wasmTrapTotal.Add(ctx, 1, attrs...)
}

// RecordBundlePulled records a successful bundle pull and its total blob size.
func (mm *MetricsManager) RecordBundlePulled(ctx context.Context, bytes int64, attrs ...metric.AddOption) {
	mm.bundleCount.Add(ctx, 1, attrs...)
	mm.bundlePullTotal.Add(ctx, 1, attrs...)
	mm.bundleBytesPulled.Add(ctx, bytes, attrs...)
}

// RecordBundlePushed records a successful bundle push and its total blob size.
func (mm *MetricsManager) RecordBundlePushed(ctx context.Context, bytes int64, attrs ...metric.AddOption) {
	mm.bundlePushTotal.Add(ctx, 1, attrs...)
	mm.bundleBytesPushed.Add(ctx, bytes, attrs...)
}

// RecordBundleEvicted records a bundle removed from the local store.
func (mm *MetricsManager) RecordBundleEvicted(ctx context.Context, attrs ...metric.AddOption) {
	mm.bundleCount.Add(ctx, -1, attrs...)
}

// RecordOperationDuration records operation duration
func (mm *MetricsManager) RecordOperationDuration(ctx context.Context, duration float64, attrs ...metric.RecordOption) {
	mm.operationDuration.Record(ctx, duration, attrs...)
}

// RecordOperation records an operation
func (mm *MetricsManager) RecordOperation(ctx context.Context, attrs ...metric.AddOption) {
	mm.operationTotal.Add(ctx, 1, attrs...)
}

// Shutdown shuts down the metrics manager
func (mm *MetricsManager) Shutdown(ctx context.Context) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.meterProvider != nil {
		return mm.meterProvider.Shutdown(ctx)
	}

	return nil
}

// recordToAddOptions narrows RecordOption attribute sets down to AddOption,
// since both ultimately carry the same attribute.Set construction.
func recordToAddOptions(opts []metric.RecordOption) []metric.AddOption {
	if len(opts) == 0 {
		return nil
	}
	set := metric.NewRecordConfig(opts).Attributes()
	return []metric.AddOption{metric.WithAttributeSet(set)}
}
