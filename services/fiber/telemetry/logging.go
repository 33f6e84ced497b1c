// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// SpanAttrs returns the trace_id and span_id of the span active in ctx, and
// sampled=false for spans the sampler dropped. It returns nil without a
// valid span.
func SpanAttrs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	attrs := []any{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
	if !sc.IsSampled() {
		attrs = append(attrs, slog.Bool("sampled", false))
	}
	return attrs
}

// LoggerWithTrace returns logger carrying SpanAttrs(ctx), so watch-server
// request logs line up with the fiber.Slice and fiber.Commit spans they
// cause. A nil logger falls back to slog.Default().
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if attrs := SpanAttrs(ctx); attrs != nil {
		return logger.With(attrs...)
	}
	return logger
}
