package types

const (
	// DefaultSuggestionLimit is the number of next-tool suggestions returned when no limit is given.
	DefaultSuggestionLimit = 5
	// MaxSuggestionLimit caps caller supplied limits.
	MaxSuggestionLimit = 50
	// DashboardLimit is the number of starter tools shown on a dashboard.
	DashboardLimit = 6
	// ChatSidebarLimit is the number of tools suggested next to a conversation.
	ChatSidebarLimit = 5
	// ChatHistoryWindow is the number of trailing messages scanned for keywords.
	ChatHistoryWindow = 5

	// DefaultHistoryLimit is the page size of the session history listing.
	DefaultHistoryLimit = 10

	// TimestampLayout is the ISO-8601 layout of persisted timestamps (UTC, milliseconds).
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)
