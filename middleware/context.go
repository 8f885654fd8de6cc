package middleware

import "context"

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for the request ID
	RequestIDKey contextKey = "request_id"

	// AdminSubjectKey is the context key for the authenticated admin subject
	AdminSubjectKey contextKey = "admin_subject"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetAdminSubjectFromContext retrieves the authenticated admin subject
func GetAdminSubjectFromContext(ctx context.Context) string {
	if sub, ok := ctx.Value(AdminSubjectKey).(string); ok {
		return sub
	}
	return ""
}

// WithAdminSubject adds the authenticated admin subject to the context
func WithAdminSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, AdminSubjectKey, subject)
}
