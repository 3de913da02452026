package attendance

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleConfig is the raw per-deployment schedule as read from configuration.
// Times are local wall-clock strings such as "07:00" or "5:00 PM".
type ScheduleConfig struct {
	AmIn  string `mapstructure:"am_in"`
	AmOut string `mapstructure:"am_out"`
	PmIn  string `mapstructure:"pm_in"`
	PmOut string `mapstructure:"pm_out"`

	OtStart string `mapstructure:"ot_start"`
	OtEnd   string `mapstructure:"ot_end"`

	StandardMinutesPerDay int    `mapstructure:"standard_minutes_per_day"`
	GraceMinutes          int    `mapstructure:"grace_minutes"`
	RoundToMinutes        int    `mapstructure:"round_to_minutes"`
	Timezone              string `mapstructure:"timezone"`
}

// DefaultScheduleConfig is the farm's standard 8-hour day.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		AmIn:                  "07:00",
		AmOut:                 "11:00",
		PmIn:                  "13:00",
		PmOut:                 "17:00",
		OtStart:               "18:00",
		OtEnd:                 "22:00",
		StandardMinutesPerDay: 480,
		GraceMinutes:          5,
		RoundToMinutes:        1,
		Timezone:              "Local",
	}
}

// Schedule is the parsed, immutable schedule. Build it with ParseSchedule.
type Schedule struct {
	AmIn, AmOut TimeOfDay
	PmIn, PmOut TimeOfDay

	OtStart, OtEnd TimeOfDay

	StandardMinutesPerDay int
	GraceMinutes          int
	RoundToMinutes        int

	Location *time.Location
}

// ParseSchedule validates cfg and resolves its times and location.
func ParseSchedule(cfg ScheduleConfig) (Schedule, error) {
	var s Schedule
	var errs []error

	parse := func(name, v string, dst *TimeOfDay) {
		t, err := ParseTimeOfDay(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule.%s: %w", name, err))
			return
		}
		*dst = t
	}
	parse("am_in", cfg.AmIn, &s.AmIn)
	parse("am_out", cfg.AmOut, &s.AmOut)
	parse("pm_in", cfg.PmIn, &s.PmIn)
	parse("pm_out", cfg.PmOut, &s.PmOut)
	parse("ot_start", cfg.OtStart, &s.OtStart)
	parse("ot_end", cfg.OtEnd, &s.OtEnd)
	if len(errs) > 0 {
		return Schedule{}, errors.Join(errs...)
	}

	if !(s.AmIn < s.AmOut && s.AmOut <= s.PmIn && s.PmIn < s.PmOut) {
		errs = append(errs, fmt.Errorf("schedule: want am_in < am_out <= pm_in < pm_out, got %s-%s / %s-%s",
			s.AmIn, s.AmOut, s.PmIn, s.PmOut))
	}
	if s.AmIn >= Noon {
		errs = append(errs, fmt.Errorf("schedule: am_in %s must be before %s, when open AM pairs auto-close", s.AmIn, Noon))
	}
	if s.PmIn >= Evening {
		errs = append(errs, fmt.Errorf("schedule: pm_in %s must be before %s, when open PM pairs auto-close", s.PmIn, Evening))
	}
	if s.OtStart >= s.OtEnd {
		errs = append(errs, fmt.Errorf("schedule: ot_start %s must be before ot_end %s", s.OtStart, s.OtEnd))
	}
	if cfg.StandardMinutesPerDay <= 0 {
		errs = append(errs, errors.New("schedule: standard_minutes_per_day must be positive"))
	}
	if cfg.GraceMinutes < 0 || cfg.RoundToMinutes < 0 {
		errs = append(errs, errors.New("schedule: grace_minutes and round_to_minutes must not be negative"))
	}

	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		} else {
			loc = l
		}
	}
	if len(errs) > 0 {
		return Schedule{}, errors.Join(errs...)
	}

	s.StandardMinutesPerDay = cfg.StandardMinutesPerDay
	s.GraceMinutes = cfg.GraceMinutes
	s.RoundToMinutes = cfg.RoundToMinutes
	s.Location = loc
	return s, nil
}

// MustParseSchedule is ParseSchedule for fixed, known-good configs.
func MustParseSchedule(cfg ScheduleConfig) Schedule {
	s, err := ParseSchedule(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// Today returns the calendar date of now in the schedule's location.
func (s Schedule) Today(now time.Time) Date {
	return DateOf(now.In(s.location()))
}
