// SPDX-License-Identifier: GPL-3.0-or-later

package confopt

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v2"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := map[string]struct {
		input any
		want  Duration
	}{
		"duration":     {input: "300ms", want: Duration(300 * time.Millisecond)},
		"string int":   {input: "1", want: Duration(time.Second)},
		"string float": {input: "1.5", want: Duration(1500 * time.Millisecond)},
		"int":          {input: 600, want: Duration(600 * time.Second)},
		"float":        {input: 2.5, want: Duration(2500 * time.Millisecond)},
	}

	for name, test := range tests {
		name = fmt.Sprintf("%s (%v)", name, test.input)
		t.Run(name, func(t *testing.T) {
			data, err := yaml.Marshal(test.input)
			require.NoError(t, err)

			var d Duration
			require.NoError(t, yaml.Unmarshal(data, &d))
			assert.Equal(t, test.want, d)
		})
	}
}

func TestDuration_UnmarshalYAMLUnparsable(t *testing.T) {
	var d Duration
	assert.Error(t, yaml.Unmarshal([]byte("soon"), &d))
}

func TestDuration_MarshalJSON(t *testing.T) {
	tests := map[string]struct {
		d    Duration
		want string
	}{
		"1 second":    {d: Duration(time.Second), want: "1"},
		"1.5 seconds": {d: Duration(time.Second + time.Millisecond*500), want: "1.5"},
		"10 minutes":  {d: Duration(10 * time.Minute), want: "600"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			bs, err := json.Marshal(&test.d)
			require.NoError(t, err)

			assert.Equal(t, test.want, strings.TrimSpace(string(bs)))
		})
	}
}
