package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tokenlens/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens one server span per request, named after the API
// group the route belongs to (dashboard, import, users, transactions).
// Dashboard handlers publish the report they served under the "report" key.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("tokenlens/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "http", trace.WithSpanKind(trace.SpanKindServer))
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		group := RouteGroup(route)
		span.SetName(group + " " + c.Request.Method + " " + orUnknown(route))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", orUnknown(route)),
			attribute.String("api.group", group),
			attribute.Int("http.status_code", c.Writer.Status()),
		}
		if report := c.GetString("report"); report != "" {
			attrs = append(attrs, attribute.String("report", report))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if c.Writer.Status() >= http.StatusInternalServerError {
			if last := c.Errors.Last(); last != nil {
				span.RecordError(SafeError(last.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

// RouteGroup maps "/api/<group>/..." to group. Routes outside /api are
// reported as "system".
func RouteGroup(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/")
	if !ok {
		if route == "" {
			return "unknown"
		}
		return "system"
	}
	group, _, _ := strings.Cut(rest, "/")
	if group == "" {
		return "unknown"
	}
	return group
}

func orUnknown(route string) string {
	if route == "" {
		return "unknown"
	}
	return route
}
