// SPDX-License-Identifier: GPL-3.0-or-later

package rpkiclient

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// mftTimeLayout is the textual timestamp rpki-client prints for manifest
// validity warnings, e.g. "Oct  7 06:54:00 2021 GMT".
const mftTimeLayout = "Jan _2 15:04:05 2006 GMT"

type rule struct {
	re    *regexp.Regexp
	build func(m match) (Event, error)
}

type match struct {
	re     *regexp.Regexp
	groups []string
}

func (m match) group(name string) string {
	idx := m.re.SubexpIndex(name)
	if idx < 0 || idx >= len(m.groups) {
		return ""
	}
	return m.groups[idx]
}

func labelWarning(typ string) func(m match) (Event, error) {
	return func(m match) (Event, error) {
		return LabelWarning{Type: typ, Path: m.group("path")}, nil
	}
}

func manifestObjectWarning(typ string) func(m match) (Event, error) {
	return func(m match) (Event, error) {
		return ManifestObjectWarning{
			Type:         typ,
			ManifestPath: m.group("path"),
			Object:       m.group("object"),
		}, nil
	}
}

func expirationWarning(typ string) func(m match) (Event, error) {
	return func(m match) (Event, error) {
		ts, err := time.Parse(mftTimeLayout, m.group("expiry"))
		if err != nil {
			return nil, fmt.Errorf("parsing expiry of '%s' warning: %w", typ, err)
		}
		return ExpirationWarning{Type: typ, Path: m.group("path"), Expires: ts.UTC()}, nil
	}
}

func fetchStatus(typ string) func(m match) (Event, error) {
	return func(m match) (Event, error) {
		return FetchStatus{URI: m.group("uri"), Type: typ, Count: 1}, nil
	}
}

func processError(typ string) func(m match) (Event, error) {
	return func(m match) (Event, error) {
		return ProcessError{Type: typ}, nil
	}
}

// Transport and fetch rules. Evaluated before the file warning rules so
// that TLS handshake diagnostics do not hit the certificate-state rules
// matching the same suffix (RE2 has no negative lookahead).
var fetchRules = []rule{
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>\S+?)(?: \([^)]*\))?: TLS handshake: certificate verification failed:.*`),
		build: fetchStatus("rrdp_tls_certificate_verification_failed"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>\S+?)(?: \([^)]*\))?: TLS read: read failed:.*`),
		build: fetchStatus("tls_failure"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>\S+?)(?: \([^)]*\))?: connect timeout$`),
		build: fetchStatus("connect_timeout"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>\S+?)(?: \([^)]*\))?: connect: .*`),
		build: fetchStatus("connect_error"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): synchronisation timeout$`),
		build: fetchStatus("synchronisation_timeout"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): parse error at line [0-9]+: parsing aborted`),
		build: fetchStatus("rrdp_parse_aborted"),
	},
	{
		re: regexp.MustCompile(`^rpki-client: parse failed - content too big`),
		build: func(match) (Event, error) {
			return FetchStatus{URI: "<unknown>", Type: "rrdp_parse_error_file_too_big", Count: 1}, nil
		},
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.+?): .*unexpected delta mutation.*`),
		build: fetchStatus("rrdp_delta_hash_mutation"),
	},
	{
		re: regexp.MustCompile(`^rpki-client: (?P<path>.*): referenced file supposed to be deleted$`),
		build: func(m match) (Event, error) {
			host, err := HostFromPath(m.group("path"))
			if err != nil {
				return nil, err
			}
			return FetchStatus{URI: host, Type: "rrdp_referenced_file_deleted", Count: 1}, nil
		},
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.+?): .*fallback to snapshot$`),
		build: fetchStatus("rrdp_snapshot_fallback"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): load from network failed, fallback to rsync$`),
		build: fetchStatus("rrdp_rsync_fallback"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): load from network failed, fallback to cache$`),
		build: fetchStatus("sync_fallback_to_cache"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): bad file digest for .*`),
		build: fetchStatus("sync_bad_file_digest"),
	},
	// End-anchored: "bad message digest for <object>" belongs to the
	// manifest warning rules.
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): bad message digest$`),
		build: fetchStatus("bad_message_digest"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): notification file not modified$`),
		build: fetchStatus("rrdp_notification_not_modified"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.*): repository not modified$`),
		build: fetchStatus("rrdp_repository_not_modified"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<uri>.+?): downloading snapshot(?: .*)?$`),
		build: fetchStatus("rrdp_snapshot"),
	},
	{
		re: regexp.MustCompile(`^rpki-client: (?P<uri>.+?): downloading (?P<count>[0-9]+) deltas$`),
		build: func(m match) (Event, error) {
			n, err := strconv.ParseInt(m.group("count"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing delta count: %w", err)
			}
			return FetchStatus{URI: m.group("uri"), Type: "rrdp_delta", Count: n}, nil
		},
	},
	{
		re: regexp.MustCompile(`^rpki-client: (?P<uri>.+?): serial number decreased from (?P<previous>[0-9]+) to (?P<current>[0-9]+)`),
		build: func(m match) (Event, error) {
			prev, err := strconv.ParseInt(m.group("previous"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing previous serial: %w", err)
			}
			cur, err := strconv.ParseInt(m.group("current"), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing current serial: %w", err)
			}
			return FetchStatus{URI: m.group("uri"), Type: "rrdp_serial_decreased", Count: prev - cur}, nil
		},
	},
	// HTTP status folded into the event type, URI reduced to its host so
	// changing document paths do not explode the label space.
	{
		re: regexp.MustCompile(`^rpki-client: (?P<uri>\S+?)(?: \([^)]*\))?: (?P<status>[0-9]{3}) .*$`),
		build: func(m match) (Event, error) {
			return FetchStatus{
				URI:   hostURI(m.group("uri")),
				Type:  "http_" + m.group("status"),
				Count: 1,
			}, nil
		},
	},
	{
		re:    regexp.MustCompile(`^rpki-client: rsync (?P<uri>.*) failed$`),
		build: fetchStatus("rsync_load_failed"),
	},
}

// File and object warning rules. Ordering is significant: the generic
// RFC 6487 rule has to come after the specific 6487 rules it shadows.
var warningRules = []rule{
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): No such file or directory$`),
		build: labelWarning("missing_file"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): RFC 3779 resource not subset of parent's resources`),
		build: labelWarning("overclaiming"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.+): certificate has expired`),
		build: labelWarning("ee_certificate_expired"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.+): certificate is not yet valid`),
		build: labelWarning("ee_certificate_not_yet_valid"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.+): certificate revoked`),
		build: labelWarning("ee_certificate_revoked"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.+): unable to get local issuer certificate`),
		build: labelWarning("unable_to_get_local_issuer_certificate"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): RFC 6487: duplicate SKI`),
		build: labelWarning("rfc6487_duplicate_ski"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): RFC 6487: uncovered IP`),
		build: labelWarning("rfc6487_uncovered_ip"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): RFC 6487 section 4\.8\.8: missing SIA`),
		build: labelWarning("missing_sia"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): RFC 6487: .*`),
		build: labelWarning("rfc6487_unknown_error"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): both possibilities of file present`),
		build: labelWarning("both_possibilities_file_present"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): unsupported file type for (?P<object>.*)$`),
		build: manifestObjectWarning("unsupported_filetype"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): no valid mft available`),
		build: labelWarning("no_valid_mft_available"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): CRL has expired`),
		build: labelWarning("mft_crl_expired"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): failed fetch, continuing with #[0-9]+ from cache`),
		build: labelWarning("mft_failed_fetch"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): unexpected manifest number`),
		build: labelWarning("mft_unexpected_number"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): manifest misissuance, #[0-9]+ was recycled`),
		build: labelWarning("mft_misissuance_recycled"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): unable to get certificate CRL`),
		build: labelWarning("mft_missing_crl"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): RFC 6488: CMS has unexpected signed attribute`),
		build: labelWarning("unexpected_signed_cms_attribute"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): ASPA: failed to parse ASProviderAttestation`),
		build: labelWarning("aspa_parse_failed"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): bad update interval.*`),
		build: labelWarning("bad_manifest_update_interval"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): mft expired on (?P<expiry>.*)$`),
		build: expirationWarning("expired_manifest"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): mft not yet valid (?P<expiry>.*)$`),
		build: expirationWarning("not_yet_valid_manifest"),
	},
	// Torn read: one object updated while the manifest referencing it
	// was not.
	{
		re:    regexp.MustCompile(`^rpki-client: (?P<path>.*): bad message digest for (?P<object>.*)$`),
		build: manifestObjectWarning("bad_message_digest"),
	},
}

// Validator-internal error rules.
var errorRules = []rule{
	{
		re:    regexp.MustCompile(`^rpki-client: .*\.c:[0-9]+: .*[Aa]ssertion.*failed`),
		build: processError("assertion_failed"),
	},
	{
		re:    regexp.MustCompile(`^rpki-client: not all files processed, giving up$`),
		build: processError("not_all_files_processed"),
	},
	{
		re: regexp.MustCompile(`^rpki-client: (?P<module>\S+) terminated signal .*`),
		build: func(m match) (Event, error) {
			return ProcessError{Type: m.group("module") + "_terminated"}, nil
		},
	},
}

var ruleTables = [][]rule{fetchRules, warningRules, errorRules}

// Classify maps one diagnostic line to at most one event. It returns
// (nil, nil) for lines no rule recognizes, and a non-nil error for lines
// a rule matched but whose captures could not be interpreted.
func Classify(line string) (Event, error) {
	for _, table := range ruleTables {
		for _, r := range table {
			groups := r.re.FindStringSubmatch(line)
			if groups == nil {
				continue
			}
			ev, err := r.build(match{re: r.re, groups: groups})
			if err != nil {
				return nil, fmt.Errorf("classifying line '%s': %w", line, err)
			}
			return ev, nil
		}
	}
	return nil, nil
}
