package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/geosurvey/internal/dwell"
	"example.com/geosurvey/internal/ratelimit"
)

// Policy holds every trigger knob. Zero values are not meaningful; start from DefaultPolicy.
type Policy struct {
	DwellThreshold time.Duration `yaml:"dwell_threshold"`

	DailyCap    int           `yaml:"daily_cap"`
	Window      time.Duration `yaml:"window"`
	MinInterval time.Duration `yaml:"min_interval"`

	LoudnessThresholdDB float64       `yaml:"loudness_threshold_db"`
	AudioPause          time.Duration `yaml:"audio_pause"`

	ConversationDailyLimit int `yaml:"conversation_daily_limit"`

	NeighborhoodCooldown time.Duration `yaml:"neighborhood_cooldown"`
	NeighborhoodDailyCap int           `yaml:"neighborhood_daily_cap"`
	GeocodeTimeout       time.Duration `yaml:"geocode_timeout"`

	InitialDelay  time.Duration `yaml:"initial_delay"`
	ReminderDelay time.Duration `yaml:"reminder_delay"`

	DeepLinkURL string `yaml:"deep_link_url"`
	Copy        Copy   `yaml:"copy"`
}

// Copy is the notification text. Bodies may use {area}, {minutes} and {url}.
type Copy struct {
	DwellTitle        string `yaml:"dwell_title"`
	DwellBody         string `yaml:"dwell_body"`
	ReminderTitle     string `yaml:"reminder_title"`
	ReminderBody      string `yaml:"reminder_body"`
	AudioTitle        string `yaml:"audio_title"`
	AudioBody         string `yaml:"audio_body"`
	ConversationTitle string `yaml:"conversation_title"`
	ConversationBody  string `yaml:"conversation_body"`
	NeighborhoodTitle string `yaml:"neighborhood_title"`
	NeighborhoodBody  string `yaml:"neighborhood_body"`
}

func DefaultPolicy() Policy {
	return Policy{
		DwellThreshold:         dwell.DefaultThreshold,
		DailyCap:               ratelimit.DefaultCap,
		Window:                 ratelimit.DefaultWindow,
		MinInterval:            ratelimit.DefaultMinInterval,
		LoudnessThresholdDB:    50,
		AudioPause:             15 * time.Minute,
		ConversationDailyLimit: 3,
		NeighborhoodCooldown:   time.Minute,
		NeighborhoodDailyCap:   10,
		GeocodeTimeout:         10 * time.Second,
		InitialDelay:           time.Second,
		DeepLinkURL:            "https://surveys.example.com/s/ema",
		Copy: Copy{
			DwellTitle:        "Time Spent Notification",
			DwellBody:         "You spent {minutes} minutes in {area}. Tap for more info.",
			ReminderTitle:     "Reminder: Complete Survey",
			ReminderBody:      "You spent {minutes} minutes in {area}. Please complete the survey: {url}",
			AudioTitle:        "Conversation Detected",
			AudioBody:         "Please take a moment to fill out a survey.",
			ConversationTitle: "Conversation Detected",
			ConversationBody:  "Tap to participate in our latest survey.",
			NeighborhoodTitle: "Entered New Neighborhood",
			NeighborhoodBody:  "Welcome to {area}",
		},
	}
}

// Validate rejects policies that would never or always trigger.
func (p Policy) Validate() error {
	var bad []string
	if p.DwellThreshold <= 0 {
		bad = append(bad, "dwell_threshold must be positive")
	}
	if p.DailyCap <= 0 {
		bad = append(bad, "daily_cap must be positive")
	}
	if p.Window <= 0 {
		bad = append(bad, "window must be positive")
	}
	if p.MinInterval < 0 {
		bad = append(bad, "min_interval must not be negative")
	}
	if p.AudioPause < 0 {
		bad = append(bad, "audio_pause must not be negative")
	}
	if p.ConversationDailyLimit <= 0 {
		bad = append(bad, "conversation_daily_limit must be positive")
	}
	if p.NeighborhoodCooldown < 0 {
		bad = append(bad, "neighborhood_cooldown must not be negative")
	}
	if p.NeighborhoodDailyCap <= 0 {
		bad = append(bad, "neighborhood_daily_cap must be positive")
	}
	if p.InitialDelay < 0 || p.ReminderDelay < 0 {
		bad = append(bad, "notification delays must not be negative")
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid policy: %s", strings.Join(bad, "; "))
	}
	return nil
}

// reminderDelay defaults to the dwell threshold.
func (p Policy) reminderDelay() time.Duration {
	if p.ReminderDelay > 0 {
		return p.ReminderDelay
	}
	return p.DwellThreshold
}

func (p Policy) render(tmpl, area string) string {
	return strings.NewReplacer(
		"{area}", area,
		"{minutes}", strconv.Itoa(int(p.DwellThreshold.Minutes())),
		"{url}", p.DeepLinkURL,
	).Replace(tmpl)
}
