// SPDX-License-Identifier: GPL-3.0-or-later

// Package confopt provides option types for the YAML configuration.
package confopt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration is a duration configuration option. It accepts Go duration
// strings ("90s", "10m") as well as bare numbers, interpreted as
// seconds. It marshals to JSON as seconds, which is what the config
// endpoint reports.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return d.Duration().String()
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string

	if err := unmarshal(&s); err != nil {
		return err
	}

	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(v * float64(time.Second))
		return nil
	}

	return fmt.Errorf("unparsable duration format '%s'", s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	seconds := float64(d) / float64(time.Second)
	return json.Marshal(seconds)
}
