package config

// Config is the on-disk configuration (config.json or config.yaml in the data dir).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
// Secrets (client id/secret, telegram token) are normally supplied through the
// environment or a .env file; see applyEnv.
type Config struct {
	// Layout selects the queue descriptor strategy: "folder" (default) or "flat".
	Layout string `json:"layout,omitempty"`

	// Timezone is the IANA zone used for bare dates/times in publish_at and for
	// slot default times. Empty or "local" means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// DefaultTimes maps a slot label (morning/day/night) to HH:MM.
	DefaultTimes map[string]string `json:"default_times,omitempty"`

	Watch   WatchConfig   `json:"watch"`
	API     APIConfig     `json:"api"`
	OAuth   OAuthConfig   `json:"oauth"`
	Media   MediaConfig   `json:"media"`
	Logging LoggingConfig `json:"logging"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`
}

// WatchConfig controls the watcher/scheduler loop.
//
// Defaults (when fields are omitted/zero):
//   - debounce: "30s"
//   - poll_interval: "30s"
//   - retry_interval: "30s"
type WatchConfig struct {
	Debounce      string `json:"debounce,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	RetryInterval string `json:"retry_interval,omitempty"`
	// Poll replaces filesystem notifications with a fixed-interval rescan.
	Poll bool `json:"poll,omitempty"`
}

// APIConfig controls the posting API client.
type APIConfig struct {
	BaseURL       string `json:"base_url,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	UploadTimeout string `json:"upload_timeout,omitempty"` // default "60s"
	PostTimeout   string `json:"post_timeout,omitempty"`   // default "30s"
	// MinPostInterval spaces consecutive posts. "0s" disables spacing.
	MinPostInterval string `json:"min_post_interval,omitempty"`
}

type OAuthConfig struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURI  string   `json:"redirect_uri,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	AuthURL      string   `json:"auth_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Timeout      string   `json:"timeout,omitempty"` // default "30s"
	// RefreshSkew forces a refresh this long before expiry. Default "60s".
	RefreshSkew string `json:"refresh_skew,omitempty"`
}

type MediaConfig struct {
	// VerifyContent decodes image headers and rejects content that does not
	// match the file extension. Pointer so an explicit false is distinguishable.
	VerifyContent *bool `json:"verify_content,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console mirrors log records to stderr in human-readable form.
	Console *bool `json:"console,omitempty"`
}

// StorageConfig controls the attempt history backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/history.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifyConfig controls outcome notifications.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
	ThreadID  int    `json:"thread_id,omitempty"`
	OnSuccess bool   `json:"on_success,omitempty"`
}

const (
	LayoutFolder = "folder"
	LayoutFlat   = "flat"
)

// Defaults mirror the values the queue tooling has always used.
const (
	DefaultBaseURL  = "https://api.twitter.com"
	DefaultAuthURL  = "https://twitter.com/i/oauth2/authorize"
	DefaultTokenURL = "https://api.twitter.com/2/oauth2/token"
	DefaultScopes   = "tweet.read tweet.write users.read media.write offline.access"
)

func defaultTimes() map[string]string {
	return map[string]string{"morning": "09:00", "day": "13:00", "night": "22:30"}
}
