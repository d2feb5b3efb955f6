// zmforum/config/config.go
package config

const (
	AppVersion = "1.2.0"

	// Form & Content Limits
	MaxTitleLen      = 150
	MaxContentLen    = 10000
	MaxNameLen       = 64
	MaxTagLen        = 32
	MaxMediaURLs     = 5
	MaxReasonLen     = 2000
	MaxExperienceLen = 2000

	// Listing caps
	NotificationLimit = 50
	ModLogPageSize    = 50

	// Media Upload Limits
	MaxFileSize     = 8 * 1024 * 1024 // 8MB
	MaxWidth        = 6000
	MaxHeight       = 6000
	ThumbnailWidth  = 320
	ThumbnailHeight = 320

	// One admin application per steamid per this many days.
	ApplicationCooldownDays = 30

	// Rate Limiting Defaults
	DefaultRateLimitEvery  = "30s"
	DefaultRateLimitBurst  = 3
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"
)
