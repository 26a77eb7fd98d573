package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// SubscriptionID records the subscription identifier under the key "subscription_id".
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// EventID records an external webhook event identifier under the key "event_id".
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

// EventType records a webhook event type under the key "event_type".
func EventType(t string) slog.Attr {
	if t == "" {
		return slog.Attr{}
	}
	return slog.String("event_type", t)
}

// Kind records a notification kind under the key "kind".
func Kind(k any) slog.Attr {
	if k == nil {
		return slog.Attr{}
	}
	return slog.Any("kind", k)
}
