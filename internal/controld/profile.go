package controld

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Profile is a Control D DNS filtering profile as returned by GET /profiles.
type Profile struct {
	PK         string           `json:"PK"`
	Name       string           `json:"name"`
	Updated    int64            `json:"updated"`
	DisableTTL *int64           `json:"disable_ttl,omitempty"`
	Settings   *ProfileSettings `json:"profile,omitempty"`

	// FilteringEnabled is derived from DisableTTL when the profile is fetched.
	FilteringEnabled bool `json:"filteringEnabled"`
}

// UnmarshalJSON accepts fractional or quoted numeric timestamps and floors
// them to whole seconds.
func (p *Profile) UnmarshalJSON(data []byte) error {
	type plain Profile
	var wire struct {
		plain
		Updated    json.Number  `json:"updated"`
		DisableTTL *json.Number `json:"disable_ttl"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	updated, err := floorInt(wire.Updated)
	if err != nil {
		return fmt.Errorf("updated: %w", err)
	}
	*p = Profile(wire.plain)
	p.Updated = updated
	if wire.DisableTTL != nil {
		ttl, err := floorInt(*wire.DisableTTL)
		if err != nil {
			return fmt.Errorf("disable_ttl: %w", err)
		}
		p.DisableTTL = &ttl
	}
	return nil
}

// ProfileSettings mirrors the nested "profile" object of the API.
type ProfileSettings struct {
	DA *DisableAuto `json:"da,omitempty"`
}

// DisableAuto mirrors the raw "da" status fields.
type DisableAuto struct {
	Status int   `json:"status"`
	Do     int64 `json:"do"`
}

func (d *DisableAuto) UnmarshalJSON(data []byte) error {
	var wire struct {
		Status json.Number `json:"status"`
		Do     json.Number `json:"do"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	status, err := floorInt(wire.Status)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	do, err := floorInt(wire.Do)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}
	*d = DisableAuto{Status: int(status), Do: do}
	return nil
}

// floorInt converts a JSON number to an integer, rounding fractions down.
// An absent value is zero.
func floorInt(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	f = math.Floor(f)
	if math.IsNaN(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, fmt.Errorf("number %s out of range", n)
	}
	return int64(f), nil
}

// Device is a Control D device (endpoint) assigned to exactly one profile.
type Device struct {
	PK      string     `json:"PK"`
	Name    string     `json:"name"`
	Profile ProfileRef `json:"profile"`
	Status  int        `json:"status"`
}

// ProfileRef identifies the profile a device is assigned to.
type ProfileRef struct {
	PK   string `json:"PK"`
	Name string `json:"name"`
}

// FilteringEnabled reports whether a profile with the given disable_ttl is
// actively filtering at now. Filtering is on unless a disable window ends in
// the future; a window ending exactly at now counts as expired.
func FilteringEnabled(disableTTL *int64, now time.Time) bool {
	if disableTTL == nil || *disableTTL == 0 {
		return true
	}
	return *disableTTL <= now.Unix()
}

// Clone returns a deep copy so callers can mutate the snapshot freely.
func (p Profile) Clone() Profile {
	out := p
	if p.DisableTTL != nil {
		ttl := *p.DisableTTL
		out.DisableTTL = &ttl
	}
	if p.Settings != nil {
		s := *p.Settings
		if p.Settings.DA != nil {
			da := *p.Settings.DA
			s.DA = &da
		}
		out.Settings = &s
	}
	return out
}
