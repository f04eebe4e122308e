// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// buildTimeLayout is the buildtime format of the validator's JSON output.
const buildTimeLayout = "2006-01-02T15:04:05Z"

// metadataKeys are the .metadata fields copied into the object gauges.
// "buildmachine" and "talfiles" carry strings and are ignored.
var metadataKeys = []string{
	"buildtime",
	"elapsedtime",
	"usertime",
	"systemtime",
	"roas",
	"failedroas",
	"invalidroas",
	"bgpsec_router_keys",
	"invalidbgpsec_router_keys",
	"bgpsec_pubkeys",
	"certificates",
	"failcertificates",
	"invalidcertificates",
	"tals",
	"manifests",
	"failedmanifests",
	"stalemanifests",
	"crls",
	"gbrs",
	"repositories",
	"vrps",
	"uniquevrps",
	"cachedir_del_files",
	"cachedir_superfluous_files",
	"cachedir_del_dirs",
}

// optionalMetadataKeys only exist on some validator versions; their
// absence is not reported.
var optionalMetadataKeys = map[string]bool{
	"aspas":                      true,
	"failedaspas":                true,
	"invalidaspas":               true,
	"taks":                       true,
	"invalidtals":                true,
	"vaps":                       true,
	"uniquevaps":                 true,
	"bgpsec_pubkeys":             true,
	"failedroas":                 true,
	"invalidroas":                true,
	"failcertificates":           true,
	"invalidcertificates":        true,
	"stalemanifests":             true,
	"bgpsec_router_keys":         true,
	"invalidbgpsec_router_keys":  true,
	"gbrs":                       true,
	"cachedir_del_files":         true,
	"cachedir_del_dirs":          true,
	"cachedir_superfluous_files": true,
}

type validatedObject struct {
	TA      string `json:"ta"`
	Expires *int64 `json:"expires"`
}

type validatedDocument struct {
	Metadata   map[string]any    `json:"metadata"`
	ROAs       []validatedObject `json:"roas"`
	BgpsecKeys []validatedObject `json:"bgpsec_keys"`

	ProviderAuthorizations struct {
		IPv4 []validatedObject `json:"ipv4"`
		IPv6 []validatedObject `json:"ipv6"`
	} `json:"provider_authorizations"`
}

// ValidatedSummary is the digest of the validator's JSON result file.
type ValidatedSummary struct {
	// BuildTime is zero when the metadata has no buildtime.
	BuildTime time.Time
	// Counts holds the numeric metadata fields by key.
	Counts map[string]float64
	// MissingKeys lists mandatory metadata fields that were absent.
	MissingKeys []string
	// MinExpiryByTA is the earliest object expiry per trust anchor.
	MinExpiryByTA map[string]int64
	// VRPsByTA is the number of exported ROAs per trust anchor.
	VRPsByTA map[string]int64
}

// ParseValidated parses the validator's JSON result file.
func ParseValidated(r io.Reader) (*ValidatedSummary, error) {
	var doc validatedDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding validated objects: %w", err)
	}
	if doc.Metadata == nil {
		return nil, fmt.Errorf("validated objects file has no metadata")
	}

	summary := &ValidatedSummary{
		Counts:        make(map[string]float64),
		MinExpiryByTA: make(map[string]int64),
		VRPsByTA:      make(map[string]int64),
	}

	for _, key := range metadataKeys {
		value, ok := doc.Metadata[key]
		switch {
		case ok && key == "buildtime":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("metadata buildtime is not a string")
			}
			ts, err := time.Parse(buildTimeLayout, s)
			if err != nil {
				return nil, fmt.Errorf("parsing metadata buildtime: %w", err)
			}
			summary.BuildTime = ts
		case ok:
			if v, ok := value.(float64); ok {
				summary.Counts[key] = v
			}
		case !optionalMetadataKeys[key]:
			summary.MissingKeys = append(summary.MissingKeys, key)
		}
	}
	sort.Strings(summary.MissingKeys)

	updateExpiry := func(obj validatedObject) {
		if obj.TA == "" || obj.Expires == nil {
			return
		}
		if cur, ok := summary.MinExpiryByTA[obj.TA]; !ok || *obj.Expires < cur {
			summary.MinExpiryByTA[obj.TA] = *obj.Expires
		}
	}

	for _, brk := range doc.BgpsecKeys {
		updateExpiry(brk)
	}
	for _, vap := range doc.ProviderAuthorizations.IPv4 {
		updateExpiry(vap)
	}
	for _, vap := range doc.ProviderAuthorizations.IPv6 {
		updateExpiry(vap)
	}
	for _, roa := range doc.ROAs {
		if roa.TA != "" {
			summary.VRPsByTA[roa.TA]++
			updateExpiry(roa)
		}
	}

	return summary, nil
}
