// Package urlguard implements RFC-compliant URL parsing plus IPv4/IPv6
// classification, alternate-encoding detection, and embedded-IP detection.
// It is the security core the SSRF guard (internal/ssrfguard) orchestrates.
package urlguard

import (
	"net/netip"
)

// Class is the finite set of IP classification tags.
type Class string

const (
	LoopbackV4      Class = "LOOPBACK_V4"
	LoopbackV6      Class = "LOOPBACK_V6"
	Private10       Class = "PRIVATE_10"
	Private172      Class = "PRIVATE_172"
	Private192      Class = "PRIVATE_192"
	PrivateFC       Class = "PRIVATE_FC"
	LinkLocalV4     Class = "LINK_LOCAL_V4"
	LinkLocalV6     Class = "LINK_LOCAL_V6"
	CarrierGradeNAT Class = "CARRIER_GRADE_NAT"
	MulticastV4     Class = "MULTICAST_V4"
	MulticastV6     Class = "MULTICAST_V6"
	DocumentationV4 Class = "DOCUMENTATION_V4"
	DocumentationV6 Class = "DOCUMENTATION_V6"
	Benchmarking    Class = "BENCHMARKING"
	ThisNetwork     Class = "THIS_NETWORK"
	Reserved        Class = "RESERVED"
	Broadcast       Class = "BROADCAST"
	IPv4Mapped      Class = "IPV4_MAPPED"
	IPv4Translated  Class = "IPV4_TRANSLATED"
	Teredo          Class = "TEREDO"
	SixToFour       Class = "6TO4"
	Public          Class = "PUBLIC"
	Unknown         Class = "UNKNOWN"
)

// SafetyToggles controls which normally-unsafe class families are allowed.
type SafetyToggles struct {
	AllowPrivate  bool
	AllowLoopback bool
}

// IPValidationResult is the outcome of classifying one IP address.
type IPValidationResult struct {
	Class     Class
	IsSafe    bool
	Canonical string
	Embedded  *IPValidationResult // set for IPV4_MAPPED/TEREDO/6TO4 recursion
}

type ipv4Range struct {
	prefix netip.Prefix
	class  Class
}

// ipv4Table is the first-match CIDR classification table, in order.
var ipv4Table = []ipv4Range{
	{netip.MustParsePrefix("127.0.0.0/8"), LoopbackV4},
	{netip.MustParsePrefix("10.0.0.0/8"), Private10},
	{netip.MustParsePrefix("172.16.0.0/12"), Private172},
	{netip.MustParsePrefix("192.168.0.0/16"), Private192},
	{netip.MustParsePrefix("169.254.0.0/16"), LinkLocalV4},
	{netip.MustParsePrefix("100.64.0.0/10"), CarrierGradeNAT},
	{netip.MustParsePrefix("224.0.0.0/4"), MulticastV4},
	{netip.MustParsePrefix("192.0.2.0/24"), DocumentationV4},
	{netip.MustParsePrefix("198.51.100.0/24"), DocumentationV4},
	{netip.MustParsePrefix("203.0.113.0/24"), DocumentationV4},
	{netip.MustParsePrefix("198.18.0.0/15"), Benchmarking},
	{netip.MustParsePrefix("0.0.0.0/8"), ThisNetwork},
	{netip.MustParsePrefix("240.0.0.0/4"), Reserved},
	{netip.MustParsePrefix("255.255.255.255/32"), Broadcast},
	{netip.MustParsePrefix("192.0.0.0/24"), Reserved},
}

// ClassifyIPv4 classifies a.b.c.d by first match over ipv4Table, defaulting
// to PUBLIC. Safety is governed by toggles: only the family matching an
// enabled toggle is safe among the inherently-unsafe classes.
func ClassifyIPv4(addr netip.Addr, toggles SafetyToggles) IPValidationResult {
	for _, r := range ipv4Table {
		if r.prefix.Contains(addr) {
			return IPValidationResult{
				Class:     r.class,
				IsSafe:    classFamilySafe(r.class, toggles),
				Canonical: addr.String(),
			}
		}
	}
	return IPValidationResult{Class: Public, IsSafe: true, Canonical: addr.String()}
}

var (
	ipv6Loopback     = netip.MustParseAddr("::1")
	ipv4MappedPrefix = netip.MustParsePrefix("::ffff:0:0/96")
	ipv4TranslPrefix = netip.MustParsePrefix("::ffff:0:0:0/96")
	linkLocalV6      = netip.MustParsePrefix("fe80::/10")
	uniqueLocal      = netip.MustParsePrefix("fc00::/7")
	multicastV6      = netip.MustParsePrefix("ff00::/8")
	documentationV6  = netip.MustParsePrefix("2001:db8::/32")
	teredoPrefix     = netip.MustParsePrefix("2001::/32")
	sixToFourPrefix  = netip.MustParsePrefix("2002::/16")
)

// ClassifyIPv6 classifies addr by first match over the IPv6 classification
// table. IPV4_MAPPED/IPV4_TRANSLATED/TEREDO/6TO4 recurse into the embedded
// IPv4 address for safety, since those transit forms can smuggle a private
// address.
func ClassifyIPv6(addr netip.Addr, toggles SafetyToggles) IPValidationResult {
	if addr == ipv6Loopback {
		return IPValidationResult{Class: LoopbackV6, IsSafe: classFamilySafe(LoopbackV6, toggles), Canonical: canonicalIPv6(addr)}
	}
	if addr.IsUnspecified() {
		return IPValidationResult{Class: ThisNetwork, IsSafe: classFamilySafe(ThisNetwork, toggles), Canonical: canonicalIPv6(addr)}
	}
	if ipv4MappedPrefix.Contains(addr) {
		embedded := extractLastIPv4(addr)
		inner := ClassifyIPv4(embedded, toggles)
		return IPValidationResult{Class: IPv4Mapped, IsSafe: inner.Class == Public, Canonical: canonicalIPv6(addr), Embedded: &inner}
	}
	if ipv4TranslPrefix.Contains(addr) {
		embedded := extractLastIPv4(addr)
		inner := ClassifyIPv4(embedded, toggles)
		return IPValidationResult{Class: IPv4Translated, IsSafe: inner.Class == Public, Canonical: canonicalIPv6(addr), Embedded: &inner}
	}
	if linkLocalV6.Contains(addr) {
		return IPValidationResult{Class: LinkLocalV6, IsSafe: classFamilySafe(LinkLocalV6, toggles), Canonical: canonicalIPv6(addr)}
	}
	if uniqueLocal.Contains(addr) {
		return IPValidationResult{Class: PrivateFC, IsSafe: classFamilySafe(PrivateFC, toggles), Canonical: canonicalIPv6(addr)}
	}
	if multicastV6.Contains(addr) {
		return IPValidationResult{Class: MulticastV6, IsSafe: classFamilySafe(MulticastV6, toggles), Canonical: canonicalIPv6(addr)}
	}
	if documentationV6.Contains(addr) {
		return IPValidationResult{Class: DocumentationV6, IsSafe: classFamilySafe(DocumentationV6, toggles), Canonical: canonicalIPv6(addr)}
	}
	if teredoPrefix.Contains(addr) {
		embedded := extractTeredoIPv4(addr)
		inner := ClassifyIPv4(embedded, toggles)
		return IPValidationResult{Class: Teredo, IsSafe: inner.Class == Public, Canonical: canonicalIPv6(addr), Embedded: &inner}
	}
	if sixToFourPrefix.Contains(addr) {
		embedded := extract6to4IPv4(addr)
		inner := ClassifyIPv4(embedded, toggles)
		return IPValidationResult{Class: SixToFour, IsSafe: inner.Class == Public, Canonical: canonicalIPv6(addr), Embedded: &inner}
	}
	return IPValidationResult{Class: Public, IsSafe: true, Canonical: canonicalIPv6(addr)}
}

// classFamilySafe returns whether class is safe given the toggles. Only
// PUBLIC is unconditionally safe; loopback/private families are safe only
// when their matching toggle is set, and every other unsafe class remains
// unsafe regardless.
func classFamilySafe(class Class, toggles SafetyToggles) bool {
	switch class {
	case Public:
		return true
	case LoopbackV4, LoopbackV6:
		return toggles.AllowLoopback
	case Private10, Private172, Private192, PrivateFC, LinkLocalV4, LinkLocalV6:
		return toggles.AllowPrivate
	default:
		return false
	}
}

func extractLastIPv4(addr netip.Addr) netip.Addr {
	b := addr.As16()
	return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]})
}

func extractTeredoIPv4(addr netip.Addr) netip.Addr {
	b := addr.As16()
	// Teredo client IPv4 is the last 4 bytes, obscured (bitwise NOT).
	return netip.AddrFrom4([4]byte{^b[12], ^b[13], ^b[14], ^b[15]})
}

func extract6to4IPv4(addr netip.Addr) netip.Addr {
	b := addr.As16()
	// 6to4 embeds the IPv4 address in bytes 2-5 (2002:V4ADDR::/16).
	return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]})
}

// canonicalIPv6 renders addr with the longest run of zero segments
// collapsed, which is exactly netip.Addr.String()'s behavior.
func canonicalIPv6(addr netip.Addr) string {
	return addr.String()
}

// ClassifyIP dispatches to ClassifyIPv4 or ClassifyIPv6 based on the
// address family.
func ClassifyIP(addr netip.Addr, toggles SafetyToggles) IPValidationResult {
	if addr.Is4() || addr.Is4In6() {
		if addr.Is4In6() {
			return ClassifyIPv6(addr, toggles)
		}
		return ClassifyIPv4(addr, toggles)
	}
	return ClassifyIPv6(addr, toggles)
}
