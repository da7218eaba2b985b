package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

type contextKey int

const (
	tabKey contextKey = iota
	profileKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with the tab id if present.
func WithTab(ctx context.Context, tabID schema.TabID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithTabProfile annotates the logger with tab and profile identifiers.
func WithTabProfile(ctx context.Context, tabID schema.TabID, profileID schema.ProfileID) pslog.Logger {
	log := WithTab(ctx, tabID)
	if profileID != "" {
		if current, ok := ctx.Value(profileKey).(schema.ProfileID); ok && current == profileID {
			return log
		}
		log = log.With("profile", profileID)
	}
	return log
}

// WithTarget annotates the logger with the remote endpoint of a profile.
func WithTarget(log pslog.Logger, profile schema.SessionProfile) pslog.Logger {
	if profile.Host != "" {
		log = log.With("host", profile.Host, "port", profile.Port)
	}
	if profile.Username != "" {
		log = log.With("remote_user", profile.Username)
	}
	return log
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithProfile stores the profile marker on the context for log de-duplication.
func ContextWithProfile(ctx context.Context, profileID schema.ProfileID) context.Context {
	if ctx == nil || profileID == "" {
		return ctx
	}
	return context.WithValue(ctx, profileKey, profileID)
}

// ContextWithTabLogger attaches the logger and tab marker to the context.
func ContextWithTabLogger(ctx context.Context, log pslog.Logger, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ctx, tabID)
}

// CopyContextFields copies tab/profile markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if tab, ok := src.Value(tabKey).(schema.TabID); ok && tab != "" {
		dst = ContextWithTab(dst, tab)
	}
	if profile, ok := src.Value(profileKey).(schema.ProfileID); ok && profile != "" {
		dst = ContextWithProfile(dst, profile)
	}
	return dst
}
