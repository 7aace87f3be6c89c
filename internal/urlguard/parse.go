package urlguard

import (
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/vitaliisemenov/trustcore/internal/apperr"
)

// ParsedURL is the normalized, security-relevant view of a fetch target.
type ParsedURL struct {
	Scheme      string
	Userinfo    string
	Hostname    string // lowercased, punycoded ASCII
	IsIDN       bool
	IsIPLiteral bool
	IPVersion   int // 0, 4, or 6
	Port        string
	Path        string
	Query       string
	Fragment    string
}

var allowedSchemes = map[string]bool{"http": true, "https": true}

// ParseURL parses raw into a ParsedURL, normalizing scheme and hostname.
// Only http/https survive; everything else is a MalformedInput error.
func ParseURL(raw string) (*ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperr.New(apperr.MalformedInput, "url: parse failed").WithCause(err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return nil, apperr.New(apperr.MalformedInput, "url: scheme not allowed: "+u.Scheme)
	}
	if u.Host == "" {
		return nil, apperr.New(apperr.MalformedInput, "url: missing host")
	}

	hostname := u.Hostname()
	port := u.Port()

	isIPLiteral := false
	ipVersion := 0
	if addr, err := netip.ParseAddr(stripZone(hostname)); err == nil {
		isIPLiteral = true
		if addr.Is4() || addr.Is4In6() {
			ipVersion = 4
		} else {
			ipVersion = 6
		}
		hostname = addr.String()
	} else {
		lower := strings.ToLower(hostname)
		ascii, isIDNHost, idnErr := toASCII(lower)
		if idnErr != nil {
			return nil, apperr.New(apperr.MalformedInput, "url: invalid hostname encoding").WithCause(idnErr)
		}
		hostname = ascii

		parsed := &ParsedURL{
			Scheme:      scheme,
			Hostname:    hostname,
			IsIDN:       isIDNHost,
			IsIPLiteral: false,
			IPVersion:   0,
			Port:        port,
			Path:        u.Path,
			Query:       u.RawQuery,
			Fragment:    u.Fragment,
		}
		if u.User != nil {
			parsed.Userinfo = u.User.String()
		}
		return parsed, nil
	}

	parsed := &ParsedURL{
		Scheme:      scheme,
		Hostname:    hostname,
		IsIDN:       false,
		IsIPLiteral: isIPLiteral,
		IPVersion:   ipVersion,
		Port:        port,
		Path:        u.Path,
		Query:       u.RawQuery,
		Fragment:    u.Fragment,
	}
	if u.User != nil {
		parsed.Userinfo = u.User.String()
	}
	return parsed, nil
}

func stripZone(hostname string) string {
	if i := strings.IndexByte(hostname, '%'); i >= 0 {
		return hostname[:i]
	}
	return hostname
}

func toASCII(hostname string) (ascii string, isIDN bool, err error) {
	for _, r := range hostname {
		if r > 127 {
			isIDN = true
			break
		}
	}
	if !isIDN {
		return hostname, false, nil
	}
	out, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return "", true, err
	}
	return out, true, nil
}

// EncodingTag names the alternate numeric encoding an AlternateEncoding
// detection found.
type EncodingTag string

const (
	EncodingOctal   EncodingTag = "OCTAL"
	EncodingHex     EncodingTag = "HEX"
	EncodingDecimal EncodingTag = "DECIMAL32"
	EncodingMixed   EncodingTag = "MIXED_DOTTED"
)

// AlternateEncodingResult reports a hostname that is an IPv4 address spelled
// in a non-canonical numeric base.
type AlternateEncodingResult struct {
	Detected  bool
	Canonical netip.Addr
	Encoding  EncodingTag
}

var decimal32Pattern = regexp.MustCompile(`^\d+$`)
var hexPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]+$`)

// DetectAlternateEncoding checks whether hostname is an IPv4 address encoded
// in octal, hex, 32-bit decimal, or a dotted form mixing those bases (e.g.
// "0177.0.0.1", "0x7f000001", "2130706433"). These never appear from a
// legitimate DNS name and are rejected by policy, not merely flagged.
func DetectAlternateEncoding(hostname string) AlternateEncodingResult {
	if hexPattern.MatchString(hostname) {
		if addr, ok := decimalOrHexToIPv4(hostname[2:], 16); ok {
			return AlternateEncodingResult{Detected: true, Canonical: addr, Encoding: EncodingHex}
		}
	}
	if decimal32Pattern.MatchString(hostname) && len(hostname) > 0 {
		if len(hostname) > 1 && hostname[0] == '0' {
			if addr, ok := decimalOrHexToIPv4(hostname[1:], 8); ok {
				return AlternateEncodingResult{Detected: true, Canonical: addr, Encoding: EncodingOctal}
			}
		}
		if addr, ok := decimalOrHexToIPv4(hostname, 10); ok {
			return AlternateEncodingResult{Detected: true, Canonical: addr, Encoding: EncodingDecimal}
		}
	}

	octets := strings.Split(hostname, ".")
	if len(octets) == 4 {
		var bytes [4]byte
		mixed := false
		ok := true
		for i, oct := range octets {
			if oct == "" {
				ok = false
				break
			}
			base := 10
			body := oct
			switch {
			case strings.HasPrefix(oct, "0x") || strings.HasPrefix(oct, "0X"):
				base = 16
				body = oct[2:]
				mixed = true
			case len(oct) > 1 && oct[0] == '0':
				base = 8
				body = oct[1:]
				mixed = true
			}
			n, err := strconv.ParseUint(body, base, 16)
			if err != nil || n > 255 {
				ok = false
				break
			}
			bytes[i] = byte(n)
		}
		if ok && mixed {
			addr := netip.AddrFrom4(bytes)
			return AlternateEncodingResult{Detected: true, Canonical: addr, Encoding: EncodingMixed}
		}
	}

	return AlternateEncodingResult{}
}

func decimalOrHexToIPv4(digits string, base int) (netip.Addr, bool) {
	n, err := strconv.ParseUint(digits, base, 64)
	if err != nil || n > 0xFFFFFFFF {
		return netip.Addr{}, false
	}
	b := [4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	return netip.AddrFrom4(b), true
}

// EmbeddedIPResult reports a hostname that contains a dotted-quad IPv4
// substring, e.g. "foo-192-168-1-1.bar" or "ip-10.0.0.1-proxy.internal".
type EmbeddedIPResult struct {
	Detected  bool
	Canonical netip.Addr
}

var embeddedDashedIPv4 = regexp.MustCompile(`(?:^|[^0-9])(\d{1,3})-(\d{1,3})-(\d{1,3})-(\d{1,3})(?:[^0-9]|$)`)
var embeddedDottedIPv4 = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)

// DetectEmbeddedIP scans hostname for a substring that parses as IPv4, in
// either dash-separated (common in generated reverse-DNS style names) or
// dotted form.
func DetectEmbeddedIP(hostname string) EmbeddedIPResult {
	if m := embeddedDottedIPv4.FindString(hostname); m != "" {
		if addr, err := netip.ParseAddr(m); err == nil && addr.Is4() {
			return EmbeddedIPResult{Detected: true, Canonical: addr}
		}
	}
	if m := embeddedDashedIPv4.FindStringSubmatch(hostname); m != nil {
		candidate := strings.Join(m[1:5], ".")
		if addr, err := netip.ParseAddr(candidate); err == nil && addr.Is4() {
			return EmbeddedIPResult{Detected: true, Canonical: addr}
		}
	}
	return EmbeddedIPResult{}
}

// HasUserinfo reports whether raw contains a user:pass@ component, which is
// rejected by default regardless of what it points to.
func HasUserinfo(parsed *ParsedURL) bool {
	return parsed.Userinfo != ""
}
