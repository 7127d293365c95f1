package config

import "time"

// RateLimitConfig configures the fixed-window limiter guarding gateway
// routes.  TTLSeconds is the window length and Limit the number of requests
// a principal may make per window.
type RateLimitConfig struct {
    Enabled    bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
    TTLSeconds int    `env:"THROTTLE_TTL" envDefault:"60"`
    Limit      int    `env:"THROTTLE_LIMIT" envDefault:"10"`
    Prefix     string `env:"RATE_LIMIT_PREFIX" envDefault:"rl"`
    Backend    string `env:"RATE_LIMIT_BACKEND" envDefault:"redis"` // redis | memory
}

// Window is the fixed window length.
func (r RateLimitConfig) Window() time.Duration { return time.Duration(r.TTLSeconds) * time.Second }

func (r *RateLimitConfig) normalize() {
    if r.Limit < 1 {
        r.Limit = 1
    }
    if r.TTLSeconds < 1 {
        r.TTLSeconds = 1
    }
    if r.Prefix == "" {
        r.Prefix = "rl"
    }
    if r.Backend != "memory" {
        r.Backend = "redis"
    }
}
