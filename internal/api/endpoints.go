package api

import "net/url"

// Route variants, in the order they are tried. The backend has exposed
// the same resources under more than one convention over time.
var (
	TokenPaths       = []string{"/auth/login", "/auth/token"}
	CurrentUserPaths = []string{"/auth/me", "/users/me"}
	LogoutPath       = "/auth/logout"
	RegisterPaths    = []string{"/auth/register", "/auth/user/create"}

	ProfilePath        = "/auth/profile"
	ChangePasswordPath = "/auth/change-password"
	ResetRequestPath   = "/auth/reset-password/request"
	ResetConfirmPath   = "/auth/reset-password/confirm"

	NotificationsPath = "/notifications"
	UnreadCountPaths  = []string{"/notifications/unread-count", "/notifications/count/unread"}
	MarkAllReadPaths  = []string{"/notifications/mark-all-read", "/notifications/read-all"}

	MediaPath = "/media"
)

// MarkReadPaths returns the route variants for marking one notification read.
func MarkReadPaths(id string) []string {
	escaped := url.PathEscape(id)
	return []string{
		NotificationsPath + "/" + escaped + "/read",
		NotificationsPath + "/" + escaped,
	}
}
