// Package telemetry provides observability instrumentation for the
// planning and compliance engine.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and async event publishing
// behind one handle.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "topoplan"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// Component loggers carry structured context:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRunID("run-123").WithEntityID("net-main")
//	logger.Info("starting action")
//	logger.WithError(err).Error("action failed")
//
// Tracing covers runs, stages, actions and rule evaluation:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID)
//	defer span.End()
//
// Key metrics exposed at /metrics:
//
//   - topoplan_plans_built_total{destroy}
//   - topoplan_runs_started_total{destroy}
//   - topoplan_runs_completed_total{status}
//   - topoplan_stages_executed_total
//   - topoplan_actions_executed_total{operation,status}
//   - topoplan_action_retries_total{operation}
//   - topoplan_findings_total{severity,rule}
//   - topoplan_evaluation_duration_seconds
//   - topoplan_active_runs
//
// Events are buffered and filterable:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s: %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Trace exporters: "otlp" (production), "stdout" (development), "none"
// (spans generated but not exported).
package telemetry
