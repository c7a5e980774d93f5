package app

import (
	"time"

	"xposter/internal/auth"
	"xposter/internal/config"
	"xposter/internal/job"
	"xposter/internal/notify"
	"xposter/internal/watcher"
	"xposter/internal/xapi"
)

// timing holds the parsed watch durations.
type timing struct {
	debounce time.Duration
	poll     time.Duration
	retry    time.Duration
}

func mapTiming(cfg *config.Config) (timing, error) {
	var (
		t   timing
		err error
	)
	if t.debounce, err = config.ParseDurationOrDefault("watch.debounce", cfg.Watch.Debounce, watcher.DefaultDebounce); err != nil {
		return t, err
	}
	if t.poll, err = config.ParseDurationOrDefault("watch.poll_interval", cfg.Watch.PollInterval, watcher.DefaultPollInterval); err != nil {
		return t, err
	}
	if t.retry, err = config.ParseDurationOrDefault("watch.retry_interval", cfg.Watch.RetryInterval, watcher.DefaultRetryInterval); err != nil {
		return t, err
	}
	return t, nil
}

func mapLayoutOptions(cfg *config.Config) (job.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return job.Options{}, err
	}
	return job.Options{
		Location:      loc,
		DefaultTimes:  cfg.DefaultTimes,
		VerifyContent: cfg.VerifyMediaContent(),
	}, nil
}

func mapEndpointConfig(cfg *config.Config) (auth.EndpointConfig, error) {
	timeout, err := config.ParseDurationOrDefault("oauth.timeout", cfg.OAuth.Timeout, 30*time.Second)
	if err != nil {
		return auth.EndpointConfig{}, err
	}
	return auth.EndpointConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURI:  cfg.OAuth.RedirectURI,
		Scopes:       cfg.OAuth.Scopes,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		Timeout:      timeout,
	}, nil
}

func mapAPIConfig(cfg *config.Config) (xapi.Config, time.Duration, error) {
	upload, err := config.ParseDurationOrDefault("api.upload_timeout", cfg.API.UploadTimeout, xapi.DefaultUploadTimeout)
	if err != nil {
		return xapi.Config{}, 0, err
	}
	post, err := config.ParseDurationOrDefault("api.post_timeout", cfg.API.PostTimeout, xapi.DefaultPostTimeout)
	if err != nil {
		return xapi.Config{}, 0, err
	}
	spacing, err := config.ParseDurationOrDefault("api.min_post_interval", cfg.API.MinPostInterval, 0)
	if err != nil {
		return xapi.Config{}, 0, err
	}
	return xapi.Config{UserAgent: cfg.API.UserAgent, UploadTimeout: upload, PostTimeout: post}, spacing, nil
}

// mapNotifyConfig reports whether Telegram notifications are enabled.
func mapNotifyConfig(cfg *config.Config) (notify.Config, notify.TelegramConfig, bool) {
	if cfg.Notify == nil || !cfg.Notify.Telegram.Enabled {
		return notify.Config{}, notify.TelegramConfig{}, false
	}
	tg := cfg.Notify.Telegram
	return notify.Config{OnSuccess: tg.OnSuccess},
		notify.TelegramConfig{Token: tg.Token, ChatID: tg.ChatID, ThreadID: tg.ThreadID},
		true
}
